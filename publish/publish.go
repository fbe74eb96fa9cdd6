// Package publish records releases of prompt versions to environments and
// resolves the active version per environment.
package publish

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codragon2020/prompt-manager/cache"
	"github.com/codragon2020/prompt-manager/core"
	"github.com/codragon2020/prompt-manager/registry"
)

// PublishRequest releases VersionID of PromptID to Environment.
type PublishRequest struct {
	PromptID    string
	Environment string
	VersionID   string
	PublishedBy string
	Notes       *string
}

// Registry publishes versions and answers active-version queries. History is
// append-only: publishing never rewrites earlier publications.
type Registry struct {
	store  registry.Store
	cache  cache.ActiveCache
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithCache enables a read-through active-version cache.
func WithCache(c cache.ActiveCache) Option {
	return func(r *Registry) {
		r.cache = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithClock overrides the time source used for PublishedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New returns a Registry backed by store.
func New(store registry.Store, opts ...Option) *Registry {
	r := &Registry{store: store, logger: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Publish appends a publication. The prompt must be live, the version must
// belong to it and the environment must exist.
func (r *Registry) Publish(ctx context.Context, req PublishRequest) (*core.Publication, error) {
	if strings.TrimSpace(req.PublishedBy) == "" {
		return nil, core.BadRequest("publishedBy", "publishedBy is required")
	}
	pub, err := registry.UpdateT(ctx, r.store, func(ctx context.Context, tx registry.Tx) (*core.Publication, error) {
		if err := tx.LockPrompt(ctx, req.PromptID); err != nil {
			return nil, err
		}
		if _, err := registry.LivePrompt(ctx, tx, req.PromptID); err != nil {
			return nil, err
		}
		v, err := tx.GetVersion(ctx, req.PromptID, req.VersionID)
		if errors.Is(err, registry.ErrNoRows) {
			return nil, core.NotFound("version")
		}
		if err != nil {
			return nil, fmt.Errorf("load version: %w", err)
		}
		env, err := registry.Environment(ctx, tx, req.Environment)
		if err != nil {
			return nil, err
		}
		pub := &core.Publication{
			ID:              uuid.NewString(),
			PromptID:        req.PromptID,
			EnvironmentID:   env.ID,
			EnvironmentKey:  env.Key,
			PromptVersionID: v.ID,
			PublishedBy:     req.PublishedBy,
			PublishedAt:     r.now().UTC(),
			Notes:           req.Notes,
		}
		if err := tx.CreatePublication(ctx, pub); err != nil {
			return nil, err
		}
		return pub, nil
	})
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, req.PromptID, req.Environment)
	r.logger.Info("version published",
		zap.String("prompt_id", pub.PromptID),
		zap.String("env", pub.EnvironmentKey),
		zap.String("version_id", pub.PromptVersionID),
		zap.String("published_by", pub.PublishedBy))
	return pub, nil
}

// Active returns the most recent publication for (promptID, envKey) with the
// full version it points at.
func (r *Registry) Active(ctx context.Context, promptID, envKey string) (*core.ActiveView, error) {
	// gen is read before the store so a publish that commits in between
	// makes the Set below a no-op.
	var (
		gen    int64
		genErr error
	)
	if r.cache != nil {
		view, ok, err := r.cache.Get(ctx, promptID, envKey)
		if err != nil {
			r.logger.Warn("active cache read failed", zap.String("prompt_id", promptID), zap.Error(err))
		} else if ok {
			return view, nil
		}
		if gen, genErr = r.cache.Generation(ctx, promptID); genErr != nil {
			r.logger.Warn("active cache generation read failed", zap.String("prompt_id", promptID), zap.Error(genErr))
		}
	}
	view, err := registry.ViewT(ctx, r.store, func(ctx context.Context, tx registry.Tx) (*core.ActiveView, error) {
		if err := tx.LockPrompt(ctx, promptID); err != nil {
			return nil, err
		}
		if _, err := registry.LivePrompt(ctx, tx, promptID); err != nil {
			return nil, err
		}
		env, err := registry.Environment(ctx, tx, envKey)
		if err != nil {
			return nil, err
		}
		pub, err := tx.LatestPublication(ctx, promptID, env.ID)
		if errors.Is(err, registry.ErrNoRows) {
			return nil, core.NotFound("published version for environment")
		}
		if err != nil {
			return nil, fmt.Errorf("latest publication: %w", err)
		}
		v, err := tx.GetVersion(ctx, promptID, pub.PromptVersionID)
		if errors.Is(err, registry.ErrNoRows) {
			return nil, core.NotFound("version")
		}
		if err != nil {
			return nil, fmt.Errorf("load version: %w", err)
		}
		return &core.ActiveView{
			Env:           env.Key,
			PublicationID: pub.ID,
			PublishedAt:   pub.PublishedAt,
			PublishedBy:   pub.PublishedBy,
			Notes:         pub.Notes,
			Version:       v,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if r.cache != nil && genErr == nil {
		if err := r.cache.Set(ctx, promptID, gen, view); err != nil {
			r.logger.Warn("active cache write failed", zap.String("prompt_id", promptID), zap.Error(err))
		}
	}
	return view, nil
}

// History returns publications of a live prompt, newest first. An empty
// envKey returns every environment.
func (r *Registry) History(ctx context.Context, promptID, envKey string) ([]*core.Publication, error) {
	return registry.ViewT(ctx, r.store, func(ctx context.Context, tx registry.Tx) ([]*core.Publication, error) {
		if _, err := registry.LivePrompt(ctx, tx, promptID); err != nil {
			return nil, err
		}
		var envID string
		if envKey != "" {
			env, err := registry.Environment(ctx, tx, envKey)
			if err != nil {
				return nil, err
			}
			envID = env.ID
		}
		pubs, err := tx.ListPublications(ctx, promptID, envID)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(pubs, func(i, j int) bool { return pubs[i].Newer(pubs[j]) })
		if pubs == nil {
			pubs = []*core.Publication{}
		}
		return pubs, nil
	})
}

// Environments lists known environments ordered by key.
func (r *Registry) Environments(ctx context.Context) ([]*core.Environment, error) {
	return registry.ViewT(ctx, r.store, func(ctx context.Context, tx registry.Tx) ([]*core.Environment, error) {
		return tx.ListEnvironments(ctx)
	})
}

// EnsureEnvironments creates missing environments and refreshes display
// names of existing ones, keyed by Key.
func (r *Registry) EnsureEnvironments(ctx context.Context, envs []core.Environment) ([]*core.Environment, error) {
	for i, env := range envs {
		if strings.TrimSpace(env.Key) == "" {
			return nil, core.BadRequest(fmt.Sprintf("environments[%d].key", i), "environment key is required")
		}
	}
	out, err := registry.UpdateT(ctx, r.store, func(ctx context.Context, tx registry.Tx) ([]*core.Environment, error) {
		out := make([]*core.Environment, 0, len(envs))
		for _, env := range envs {
			e := &core.Environment{Key: strings.TrimSpace(env.Key), Name: env.Name}
			if e.Name == "" {
				e.Name = e.Key
			}
			if err := tx.UpsertEnvironment(ctx, e); err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("environments ensured", zap.Int("count", len(out)))
	return out, nil
}

func (r *Registry) invalidate(ctx context.Context, promptID string, envs ...string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, promptID, envs...); err != nil {
		r.logger.Warn("active cache invalidation failed", zap.String("prompt_id", promptID), zap.Error(err))
	}
}
