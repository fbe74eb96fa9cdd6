// Package cache holds resolved active versions so repeated lookups skip the
// store. Entries are invalidated on publish and expire after a TTL.
package cache

import (
	"context"

	"github.com/codragon2020/prompt-manager/core"
)

// ActiveCache caches ActiveView values per (prompt, environment).
//
// Readers fill the cache with Generation, then a store read, then Set with the
// generation seen first. Invalidate advances the generation, so a view read
// before a concurrent publish or delete is never written back.
type ActiveCache interface {
	// Get returns the cached view. ok is false on a miss.
	Get(ctx context.Context, promptID, env string) (view *core.ActiveView, ok bool, err error)
	// Generation returns the invalidation counter of promptID.
	Generation(ctx context.Context, promptID string) (int64, error)
	// Set stores view unless promptID was invalidated since gen was read.
	Set(ctx context.Context, promptID string, gen int64, view *core.ActiveView) error
	// Invalidate drops the given environments, or every environment of the
	// prompt when envs is empty, and advances the generation.
	Invalidate(ctx context.Context, promptID string, envs ...string) error
}
