package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codragon2020/prompt-manager/bundle"
	"github.com/codragon2020/prompt-manager/core"
)

func stepClock() func() time.Time {
	t := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func testBundle(id string) *bundle.Bundle {
	return &bundle.Bundle{
		Prompt:       bundle.Prompt{ID: id, Name: "greeting", Status: core.StatusActive, Tags: []string{"ops"}},
		Versions:     []bundle.Version{{Version: 1, Content: "Hello {{name}}", Variables: []core.Variable{}}},
		Publications: []bundle.Publication{},
	}
}

func TestService_SaveLoadList(t *testing.T) {
	ctx := context.Background()
	ds, err := NewDirStore(t.TempDir())
	require.NoError(t, err)
	s := NewService(ds, WithClock(stepClock()))

	k1, err := s.Save(ctx, testBundle("p1"))
	require.NoError(t, err)
	assert.Equal(t, "bundles/p1/20250501T090001.000000000Z.json", k1)
	k2, err := s.Save(ctx, testBundle("p1"))
	require.NoError(t, err)
	_, err = s.Save(ctx, testBundle("p2"))
	require.NoError(t, err)

	keys, err := s.List(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{k1, k2}, keys)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	b, err := s.Load(ctx, k1)
	require.NoError(t, err)
	assert.Equal(t, "greeting", b.Prompt.Name)
	assert.Equal(t, []string{"ops"}, b.Prompt.Tags)
	require.NotNil(t, b.Version(1))

	latest, key, err := s.Latest(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, k2, key)
	assert.Equal(t, "p1", latest.Prompt.ID)

	require.NoError(t, s.Delete(ctx, k1))
	_, err = s.Load(ctx, k1)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, _, err = s.Latest(ctx, "p3")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestService_SaveRejects(t *testing.T) {
	ds, err := NewDirStore(t.TempDir())
	require.NoError(t, err)
	s := NewService(ds)
	for _, id := range []string{"", "a/b", ".."} {
		_, err := s.Save(context.Background(), testBundle(id))
		assert.ErrorIs(t, err, core.ErrBadRequest, id)
	}
	_, err = s.Save(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrBadRequest)
}

func TestDirStore(t *testing.T) {
	ctx := context.Background()
	ds, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, ds.Put(ctx, "a/b.json", []byte("1")))
	require.NoError(t, ds.Put(ctx, "a/b.json", []byte("2")))
	got, err := ds.Get(ctx, "a/b.json")
	require.NoError(t, err)
	assert.Equal(t, "2", string(got))

	_, err = ds.Get(ctx, "a/missing.json")
	assert.ErrorIs(t, err, ErrBlobNotFound)

	for _, bad := range []string{"", "../x", "a/../../x", "/abs", "a//b"} {
		assert.Error(t, ds.Put(ctx, bad, nil), bad)
	}

	keys, err := ds.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b.json"}, keys)

	require.NoError(t, ds.Delete(ctx, "a/b.json"))
	require.NoError(t, ds.Delete(ctx, "a/b.json"))
}
