// Package registry defines the storage port of the prompt manager and its
// in-memory and PostgreSQL adapters.
package registry

import (
	"context"
	"errors"

	"github.com/codragon2020/prompt-manager/core"
)

// ErrNoRows is returned by Tx lookups that match nothing. Services translate it
// into core.NotFound with the entity name.
var ErrNoRows = errors.New("registry: no rows")

// SortField orders prompt listings.
type SortField string

const (
	SortUpdatedAt SortField = "updatedAt"
	SortCreatedAt SortField = "createdAt"
)

// Filter limits which prompts are returned by ListPrompts. Soft-deleted
// prompts are never listed.
type Filter struct {
	Query      string
	Tag        string
	Env        string
	Sort       SortField
	Descending bool
	Limit      int
	Offset     int
}

// Tx is one unit of work. Everything written through a Tx becomes visible
// atomically when the enclosing Update returns nil, and is discarded otherwise.
type Tx interface {
	// LockPrompt serializes units of work touching the same prompt. It must be
	// called before reading state that a write depends on (the next version
	// number, tag sets). Locks on different prompts never block each other.
	LockPrompt(ctx context.Context, promptID string) error

	GetPrompt(ctx context.Context, id string, includeDeleted bool) (*core.Prompt, error)
	ListPrompts(ctx context.Context, filter Filter) ([]*core.Prompt, int, error)
	CreatePrompt(ctx context.Context, p *core.Prompt) error
	UpdatePrompt(ctx context.Context, p *core.Prompt) error
	// SetPromptTags replaces the prompt's tag associations. Tags are found by
	// normalized name or created.
	SetPromptTags(ctx context.Context, promptID string, names []string) error

	MaxVersion(ctx context.Context, promptID string) (int, error)
	VersionNumbers(ctx context.Context, promptID string) ([]int, error)
	GetVersion(ctx context.Context, promptID, versionID string) (*core.Version, error)
	GetVersionByNumber(ctx context.Context, promptID string, number int) (*core.Version, error)
	// ListVersions returns versions with their variables, ascending by number.
	ListVersions(ctx context.Context, promptID string) ([]*core.Version, error)
	// CreateVersion inserts the version row and its variable rows.
	CreateVersion(ctx context.Context, v *core.Version) error

	GetEnvironment(ctx context.Context, key string) (*core.Environment, error)
	ListEnvironments(ctx context.Context) ([]*core.Environment, error)
	// UpsertEnvironment finds the environment by key, else creates it. The
	// display name is updated in both cases; ID is filled in on return.
	UpsertEnvironment(ctx context.Context, env *core.Environment) error

	// CreatePublication appends a publication and assigns its Seq.
	CreatePublication(ctx context.Context, p *core.Publication) error
	// LatestPublication returns the active publication for (prompt, env).
	LatestPublication(ctx context.Context, promptID, environmentID string) (*core.Publication, error)
	// ListPublications returns publications in publish order. An empty
	// environmentID matches every environment.
	ListPublications(ctx context.Context, promptID, environmentID string) ([]*core.Publication, error)
}

// Store runs units of work against a backing store.
type Store interface {
	// Update runs fn in a read-write unit of work.
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// View runs fn in a read-only unit of work with snapshot consistency.
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// UpdateT is a generic helper that wraps Update for functions returning a value.
func UpdateT[T any](ctx context.Context, s Store, fn func(ctx context.Context, tx Tx) (T, error)) (T, error) {
	var out T
	err := s.Update(ctx, func(ctx context.Context, tx Tx) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// ViewT is a generic helper that wraps View for functions returning a value.
func ViewT[T any](ctx context.Context, s Store, fn func(ctx context.Context, tx Tx) (T, error)) (T, error) {
	var out T
	err := s.View(ctx, func(ctx context.Context, tx Tx) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// LivePrompt loads a prompt that is not soft-deleted, mapping absence to
// core.NotFound("prompt").
func LivePrompt(ctx context.Context, tx Tx, id string) (*core.Prompt, error) {
	p, err := tx.GetPrompt(ctx, id, false)
	if errors.Is(err, ErrNoRows) {
		return nil, core.NotFound("prompt")
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Environment loads an environment by key, mapping absence to
// core.NotFound("environment").
func Environment(ctx context.Context, tx Tx, key string) (*core.Environment, error) {
	env, err := tx.GetEnvironment(ctx, key)
	if errors.Is(err, ErrNoRows) {
		return nil, core.NotFound("environment")
	}
	if err != nil {
		return nil, err
	}
	return env, nil
}
