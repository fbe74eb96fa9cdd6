package registry

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codragon2020/prompt-manager/core"
)

func openTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("PROMPT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PROMPT_TEST_DATABASE_URL not set")
	}
	driver := os.Getenv("PROMPT_TEST_DATABASE_DRIVER")
	s, err := OpenPostgres(context.Background(), PostgresConfig{DSN: dsn, Driver: driver, AutoMigrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.NewString()
	temp := 0.2

	err := s.Update(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.CreatePrompt(ctx, &core.Prompt{ID: id, Name: "pg", Status: core.StatusActive, CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		if err := tx.SetPromptTags(ctx, id, []string{"Alpha", "beta"}); err != nil {
			return err
		}
		return tx.CreateVersion(ctx, &core.Version{
			ID: uuid.NewString(), PromptID: id, Version: 1, Content: "Hello {{name}}",
			ModelParams: core.ModelParams{Temperature: &temp},
			CreatedBy:   "test", CreatedAt: now,
			Variables: []core.Variable{core.NewVariable("name", core.VariableTypeString, core.Required())},
		})
	})
	require.NoError(t, err)

	err = s.View(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.GetPrompt(ctx, id, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha", "beta"}, p.Tags)

		vs, err := tx.ListVersions(ctx, id)
		require.NoError(t, err)
		require.Len(t, vs, 1)
		assert.Equal(t, "Hello {{name}}", vs[0].Content)
		require.NotNil(t, vs[0].Temperature)
		assert.Equal(t, 0.2, *vs[0].Temperature)
		assert.Nil(t, vs[0].MaxTokens)
		require.Len(t, vs[0].Variables, 1)
		assert.True(t, vs[0].Variables[0].Required)
		return nil
	})
	require.NoError(t, err)

	err = s.Update(ctx, func(ctx context.Context, tx Tx) error {
		return tx.CreateVersion(ctx, &core.Version{ID: uuid.NewString(), PromptID: id, Version: 1, Content: "dup", CreatedBy: "test", CreatedAt: now})
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestPostgresStore_LockSerializesVersionNumbers(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	id := uuid.NewString()
	now := time.Now().UTC()
	require.NoError(t, s.Update(ctx, func(ctx context.Context, tx Tx) error {
		return tx.CreatePrompt(ctx, &core.Prompt{ID: id, Name: "concurrent", Status: core.StatusActive, CreatedAt: now, UpdatedAt: now})
	}))

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Update(ctx, func(ctx context.Context, tx Tx) error {
				if err := tx.LockPrompt(ctx, id); err != nil {
					return err
				}
				last, err := tx.MaxVersion(ctx, id)
				if err != nil {
					return err
				}
				return tx.CreateVersion(ctx, &core.Version{ID: uuid.NewString(), PromptID: id, Version: last + 1, Content: "x", CreatedBy: "t", CreatedAt: now})
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	nums, err := ViewT(ctx, s, func(ctx context.Context, tx Tx) ([]int, error) {
		return tx.VersionNumbers(ctx, id)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, nums)
}
