package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codragon2020/prompt-manager/core"
	"github.com/codragon2020/prompt-manager/registry"
)

// tick returns a clock advancing one minute per call.
func tick() func() time.Time {
	t := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func create(t *testing.T, s *Service, name, content string, tags ...string) *Detail {
	t.Helper()
	d, err := s.Create(context.Background(), CreateRequest{
		Name:           name,
		Tags:           tags,
		InitialVersion: VersionInput{Content: content},
		Actor:          "alice",
	})
	require.NoError(t, err)
	return d
}

func TestCreate(t *testing.T) {
	s := New(registry.NewMemoryStore(), WithClock(tick()))
	d, err := s.Create(context.Background(), CreateRequest{
		Name:        " Greeting ",
		Description: "says hi",
		Tags:        []string{"Support", "support", " beta"},
		InitialVersion: VersionInput{
			Content:   "Hello {{name}}",
			Variables: []core.Variable{core.NewVariable("name", core.VariableTypeString, core.Required())},
		},
		Actor: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "Greeting", d.Prompt.Name)
	assert.Equal(t, core.StatusActive, d.Prompt.Status)
	assert.Equal(t, "says hi", *d.Prompt.Description)
	assert.Nil(t, d.Prompt.OwnerTeam)
	assert.Equal(t, []string{"beta", "support"}, d.Prompt.Tags)
	require.Len(t, d.Versions, 1)
	assert.Equal(t, 1, d.Versions[0].Version)
	assert.Equal(t, "alice", d.Versions[0].CreatedBy)
	assert.Len(t, d.Versions[0].Variables, 1)
	assert.Empty(t, d.Publications)
}

func TestCreate_Validation(t *testing.T) {
	s := New(registry.NewMemoryStore())
	ctx := context.Background()
	tests := []struct {
		name  string
		req   CreateRequest
		field string
	}{
		{"no name", CreateRequest{InitialVersion: VersionInput{Content: "c"}, Actor: "a"}, "name"},
		{"no content", CreateRequest{Name: "n", Actor: "a"}, "initialVersion.content"},
		{"no actor", CreateRequest{Name: "n", InitialVersion: VersionInput{Content: "c"}}, "actor"},
		{"bad status", CreateRequest{Name: "n", Status: "DRAFT", InitialVersion: VersionInput{Content: "c"}, Actor: "a"}, "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(ctx, tt.req)
			var e *core.Error
			require.ErrorAs(t, err, &e)
			assert.ErrorIs(t, err, core.ErrBadRequest)
			assert.Equal(t, tt.field, e.Field)
		})
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	s := New(registry.NewMemoryStore(), WithClock(tick()))
	d := create(t, s, "a", "c", "x")
	created := d.Prompt.UpdatedAt

	empty := ""
	archived := core.Status("archived")
	owner := "platform"
	got, err := s.Update(ctx, d.Prompt.ID, UpdateRequest{Description: &empty, OwnerTeam: &owner, Status: &archived})
	require.NoError(t, err)
	assert.Nil(t, got.Prompt.Description)
	assert.Equal(t, "platform", *got.Prompt.OwnerTeam)
	assert.Equal(t, core.StatusArchived, got.Prompt.Status)
	assert.Equal(t, []string{"x"}, got.Prompt.Tags)
	assert.True(t, got.Prompt.UpdatedAt.After(created))

	got, err = s.Update(ctx, d.Prompt.ID, UpdateRequest{Tags: []string{}})
	require.NoError(t, err)
	assert.Empty(t, got.Prompt.Tags)

	blank := " "
	_, err = s.Update(ctx, d.Prompt.ID, UpdateRequest{Name: &blank})
	assert.ErrorIs(t, err, core.ErrBadRequest)

	_, err = s.Update(ctx, "missing", UpdateRequest{})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := New(registry.NewMemoryStore(), WithClock(tick()))
	d := create(t, s, "a", "c")

	require.NoError(t, s.Delete(ctx, d.Prompt.ID))
	_, err := s.Get(ctx, d.Prompt.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, d.Prompt.ID), core.ErrNotFound)

	page, err := s.List(ctx, Query{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.NotNil(t, page.Items)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	store := registry.NewMemoryStore()
	s := New(store, WithClock(tick()))
	a := create(t, s, "alpha", "Summarize the ticket", "support")
	b := create(t, s, "beta", "Translate", "ops")
	c := create(t, s, "gamma", "Classify", "Support")

	page, err := s.List(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, DefaultPageSize, page.PageSize)
	require.Len(t, page.Items, 3)
	assert.Equal(t, c.Prompt.ID, page.Items[0].ID)

	page, err = s.List(ctx, Query{Sort: "createdAt", Order: "asc", PageSize: 2, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, c.Prompt.ID, page.Items[0].ID)

	page, err = s.List(ctx, Query{Q: "TICKET"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, a.Prompt.ID, page.Items[0].ID)

	page, err = s.List(ctx, Query{Tag: " SUPPORT "})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	require.NoError(t, store.Update(ctx, func(ctx context.Context, tx registry.Tx) error {
		env := &core.Environment{Key: "prod", Name: "Production"}
		if err := tx.UpsertEnvironment(ctx, env); err != nil {
			return err
		}
		return tx.CreatePublication(ctx, &core.Publication{
			ID: "pub-1", PromptID: b.Prompt.ID, EnvironmentID: env.ID,
			PromptVersionID: b.Versions[0].ID, PublishedBy: "bob", PublishedAt: time.Now().UTC(),
		})
	}))
	page, err = s.List(ctx, Query{Env: "prod"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, b.Prompt.ID, page.Items[0].ID)

	d, err := s.Get(ctx, b.Prompt.ID)
	require.NoError(t, err)
	require.Len(t, d.Publications, 1)
	assert.Equal(t, "prod", d.Publications[0].EnvironmentKey)
}

func TestList_InvalidQuery(t *testing.T) {
	s := New(registry.NewMemoryStore())
	for _, q := range []Query{
		{Sort: "name"},
		{Order: "up"},
		{Page: -1},
		{PageSize: MaxPageSize + 1},
		{PageSize: -5},
	} {
		_, err := s.List(context.Background(), q)
		assert.ErrorIs(t, err, core.ErrBadRequest, "%+v", q)
	}
}

func TestGet_VersionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := registry.NewMemoryStore()
	s := New(store)
	d := create(t, s, "a", "v1")
	require.NoError(t, store.Update(ctx, func(ctx context.Context, tx registry.Tx) error {
		return tx.CreateVersion(ctx, &core.Version{ID: "v2", PromptID: d.Prompt.ID, Version: 2, Content: "v2", CreatedBy: "a"})
	}))
	got, err := s.Get(ctx, d.Prompt.ID)
	require.NoError(t, err)
	require.Len(t, got.Versions, 2)
	assert.Equal(t, 2, got.Versions[0].Version)
	assert.Equal(t, 1, got.Versions[1].Version)
}
