package versions

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/codragon2020/prompt-manager/core"
	"github.com/codragon2020/prompt-manager/registry"
)

func ptr[T any](v T) *T { return &v }

func newPrompt(t *testing.T, s registry.Store, id string) {
	t.Helper()
	now := time.Now().UTC()
	err := s.Update(context.Background(), func(ctx context.Context, tx registry.Tx) error {
		return tx.CreatePrompt(ctx, &core.Prompt{ID: id, Name: id, Status: core.StatusActive, CreatedAt: now, UpdatedAt: now})
	})
	require.NoError(t, err)
}

func TestManager_CreateFirstVersion(t *testing.T) {
	ctx := context.Background()
	s := registry.NewMemoryStore()
	newPrompt(t, s, "p1")
	m := New(s)

	v, err := m.Create(ctx, "p1", CreateRequest{
		Content:   ptr("Hello {{name}}"),
		Variables: []core.Variable{core.NewVariable("name", core.VariableTypeString, core.Required())},
		AuthorID:  "alice@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v.Version)
	assert.Equal(t, "alice@example.com", v.CreatedBy)
	assert.NotEmpty(t, v.ID)

	got, err := m.Get(ctx, "p1", v.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello {{name}}", got.Content)
	require.Len(t, got.Variables, 1)
	assert.True(t, got.Variables[0].Required)
}

func TestManager_ForkInheritsUnlessOverridden(t *testing.T) {
	ctx := context.Background()
	s := registry.NewMemoryStore()
	newPrompt(t, s, "p1")
	m := New(s)

	v1, err := m.Create(ctx, "p1", CreateRequest{
		Content:     ptr("Hello {{name}}"),
		ModelName:   ptr("gpt-4o"),
		Temperature: ptr(0.2),
		MaxTokens:   ptr(256),
		TopP:        ptr(0.9),
		Notes:       ptr("first"),
		Variables:   []core.Variable{core.NewVariable("name", core.VariableTypeString, core.Default("world"))},
		AuthorID:    "alice",
	})
	require.NoError(t, err)

	v2, err := m.Create(ctx, "p1", CreateRequest{BaseVersionID: v1.ID, Content: ptr("Hi {{name}}!"), AuthorID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, "Hi {{name}}!", v2.Content)
	assert.Equal(t, v1.ModelParams, v2.ModelParams)
	assert.Equal(t, v1.Variables, v2.Variables)
	assert.Nil(t, v2.Notes)

	// No overrides at all copies content too.
	v3, err := m.Create(ctx, "p1", CreateRequest{BaseVersionID: v1.ID, Temperature: ptr(0.7), AuthorID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, v1.Content, v3.Content)
	assert.Equal(t, 0.7, *v3.Temperature)
	assert.Equal(t, "gpt-4o", *v3.ModelName)

	// Explicit empty variable list drops inherited variables.
	v4, err := m.Create(ctx, "p1", CreateRequest{BaseVersionID: v1.ID, Variables: []core.Variable{}, AuthorID: "bob"})
	require.NoError(t, err)
	assert.Empty(t, v4.Variables)
	assert.NotNil(t, v4.Variables)
}

func TestManager_CreateErrors(t *testing.T) {
	ctx := context.Background()
	s := registry.NewMemoryStore()
	newPrompt(t, s, "p1")
	newPrompt(t, s, "p2")
	m := New(s)

	_, err := m.Create(ctx, "missing", CreateRequest{Content: ptr("x"), AuthorID: "a"})
	require.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, "prompt not found", err.Error())

	_, err = m.Create(ctx, "p1", CreateRequest{AuthorID: "a"})
	require.ErrorIs(t, err, core.ErrBadRequest)
	var e *core.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "content", e.Field)

	_, err = m.Create(ctx, "p1", CreateRequest{Content: ptr(""), AuthorID: "a"})
	assert.ErrorIs(t, err, core.ErrBadRequest)

	other, err := m.Create(ctx, "p2", CreateRequest{Content: ptr("other"), AuthorID: "a"})
	require.NoError(t, err)
	_, err = m.Create(ctx, "p1", CreateRequest{BaseVersionID: other.ID, AuthorID: "a"})
	require.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, "base version not found", err.Error())

	_, err = m.Create(ctx, "p1", CreateRequest{
		Content: ptr("x"),
		Variables: []core.Variable{
			core.NewVariable("a", core.VariableTypeString),
			core.NewVariable("a", core.VariableTypeNumber),
		},
		AuthorID: "a",
	})
	assert.ErrorIs(t, err, core.ErrBadRequest)

	_, err = m.Create(ctx, "p1", CreateRequest{Content: ptr("x")})
	assert.ErrorIs(t, err, core.ErrBadRequest)

	nums, err := m.List(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, nums)
}

func TestManager_SoftDeletedPromptIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := registry.NewMemoryStore()
	newPrompt(t, s, "p1")
	m := New(s)
	v1, err := m.Create(ctx, "p1", CreateRequest{Content: ptr("x"), AuthorID: "a"})
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, func(ctx context.Context, tx registry.Tx) error {
		p, err := tx.GetPrompt(ctx, "p1", false)
		if err != nil {
			return err
		}
		now := time.Now()
		p.DeletedAt = &now
		return tx.UpdatePrompt(ctx, p)
	}))

	_, err = m.Create(ctx, "p1", CreateRequest{Content: ptr("y"), AuthorID: "a"})
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = m.Get(ctx, "p1", v1.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestManager_ConcurrentCreateIsGapFree(t *testing.T) {
	ctx := context.Background()
	s := registry.NewMemoryStore()
	newPrompt(t, s, "p1")
	newPrompt(t, s, "p2")
	m := New(s)

	const n = 50
	var g errgroup.Group
	for i := 0; i < n; i++ {
		id := "p1"
		if i%2 == 1 {
			id = "p2"
		}
		g.Go(func() error {
			_, err := m.Create(ctx, id, CreateRequest{Content: ptr("c"), AuthorID: "a"})
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, id := range []string{"p1", "p2"} {
		vs, err := m.List(ctx, id)
		require.NoError(t, err)
		nums := make([]int, 0, len(vs))
		for _, v := range vs {
			nums = append(nums, v.Version)
		}
		sort.Ints(nums)
		require.Len(t, nums, n/2)
		for i, num := range nums {
			assert.Equal(t, i+1, num)
		}
	}
}

func TestManager_GetByNumber(t *testing.T) {
	ctx := context.Background()
	s := registry.NewMemoryStore()
	newPrompt(t, s, "p1")
	m := New(s, WithClock(func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }))
	_, err := m.Create(ctx, "p1", CreateRequest{Content: ptr("one"), AuthorID: "a"})
	require.NoError(t, err)

	v, err := m.GetByNumber(ctx, "p1", 1)
	require.NoError(t, err)
	assert.Equal(t, "one", v.Content)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), v.CreatedAt)

	_, err = m.GetByNumber(ctx, "p1", 2)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = m.GetByNumber(ctx, "p1", 0)
	assert.ErrorIs(t, err, core.ErrBadRequest)
}

func TestManager_ReadsIgnoreRolledBackVersions(t *testing.T) {
	ctx := context.Background()
	s := registry.NewMemoryStore()
	newPrompt(t, s, "p1")
	m := New(s)

	written := make(chan struct{})
	finish := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		result <- s.Update(ctx, func(ctx context.Context, tx registry.Tx) error {
			if err := tx.LockPrompt(ctx, "p1"); err != nil {
				return err
			}
			v := &core.Version{ID: "v1", PromptID: "p1", Version: 1, Content: "draft", Variables: []core.Variable{}}
			if err := tx.CreateVersion(ctx, v); err != nil {
				return err
			}
			close(written)
			<-finish
			return assert.AnError
		})
	}()
	<-written

	during, err := m.List(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, during)
	_, err = m.GetByNumber(ctx, "p1", 1)
	assert.ErrorIs(t, err, core.ErrNotFound)

	close(finish)
	require.ErrorIs(t, <-result, assert.AnError)

	after, err := m.List(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, after)
}
