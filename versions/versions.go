// Package versions creates and reads immutable prompt versions.
package versions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codragon2020/prompt-manager/core"
	"github.com/codragon2020/prompt-manager/registry"
)

// CreateRequest describes a new version. Nil fields are inherited from the
// base version when BaseVersionID is set. Variables follows the same rule: nil
// means omitted, a non-nil empty slice means explicitly none. Notes are never
// inherited.
type CreateRequest struct {
	BaseVersionID string
	Content       *string
	ModelName     *string
	Temperature   *float64
	MaxTokens     *int
	TopP          *float64
	Notes         *string
	Variables     []core.Variable
	AuthorID      string
}

// Manager creates and reads versions through a registry.Store.
type Manager struct {
	store  registry.Store
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for mutations.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// New returns a Manager backed by store.
func New(store registry.Store, opts ...Option) *Manager {
	m := &Manager{store: store, logger: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create derives a new version of promptID. The version number is the
// current maximum plus one, computed under the prompt lock so concurrent
// creations for one prompt are serialized.
func (m *Manager) Create(ctx context.Context, promptID string, req CreateRequest) (*core.Version, error) {
	if strings.TrimSpace(req.AuthorID) == "" {
		return nil, core.BadRequest("authorId", "authorId is required")
	}
	v, err := registry.UpdateT(ctx, m.store, func(ctx context.Context, tx registry.Tx) (*core.Version, error) {
		if err := tx.LockPrompt(ctx, promptID); err != nil {
			return nil, err
		}
		if _, err := registry.LivePrompt(ctx, tx, promptID); err != nil {
			return nil, err
		}

		var base *core.Version
		if req.BaseVersionID != "" {
			b, err := tx.GetVersion(ctx, promptID, req.BaseVersionID)
			if errors.Is(err, registry.ErrNoRows) {
				return nil, core.NotFound("base version")
			}
			if err != nil {
				return nil, fmt.Errorf("load base version: %w", err)
			}
			base = b
		}

		v := derive(base, req)
		if v.Content == "" {
			return nil, core.BadRequest("content", "content is required (or provide baseVersionId)")
		}
		if err := core.ValidateVariables(v.Variables); err != nil {
			return nil, err
		}

		last, err := tx.MaxVersion(ctx, promptID)
		if err != nil {
			return nil, fmt.Errorf("next version number: %w", err)
		}
		v.ID = uuid.NewString()
		v.PromptID = promptID
		v.Version = last + 1
		v.CreatedBy = req.AuthorID
		v.CreatedAt = m.now().UTC()
		if err := tx.CreateVersion(ctx, v); err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("version created",
		zap.String("prompt_id", promptID),
		zap.Int("version", v.Version),
		zap.String("base_version_id", req.BaseVersionID),
		zap.String("author", req.AuthorID))
	return v, nil
}

// derive applies copy-unless-overridden: each omitted field falls back to the
// base value independently.
func derive(base *core.Version, req CreateRequest) *core.Version {
	v := &core.Version{Notes: req.Notes}
	if base != nil {
		v.Content = base.Content
		v.ModelParams = base.ModelParams.Copy()
		v.Variables = core.CopyVariables(base.Variables)
	}
	if req.Content != nil {
		v.Content = *req.Content
	}
	if req.ModelName != nil {
		v.ModelName = req.ModelName
	}
	if req.Temperature != nil {
		v.Temperature = req.Temperature
	}
	if req.MaxTokens != nil {
		v.MaxTokens = req.MaxTokens
	}
	if req.TopP != nil {
		v.TopP = req.TopP
	}
	if req.Variables != nil {
		v.Variables = core.CopyVariables(req.Variables)
	}
	if v.Variables == nil {
		v.Variables = []core.Variable{}
	}
	return v
}

// Get returns a version of a live prompt.
func (m *Manager) Get(ctx context.Context, promptID, versionID string) (*core.Version, error) {
	return registry.ViewT(ctx, m.store, func(ctx context.Context, tx registry.Tx) (*core.Version, error) {
		if _, err := registry.LivePrompt(ctx, tx, promptID); err != nil {
			return nil, err
		}
		v, err := tx.GetVersion(ctx, promptID, versionID)
		if errors.Is(err, registry.ErrNoRows) {
			return nil, core.NotFound("version")
		}
		return v, err
	})
}

// GetByNumber returns version n of a live prompt.
func (m *Manager) GetByNumber(ctx context.Context, promptID string, n int) (*core.Version, error) {
	if n < 1 {
		return nil, core.BadRequest("version", "version must be a positive integer, got %d", n)
	}
	return registry.ViewT(ctx, m.store, func(ctx context.Context, tx registry.Tx) (*core.Version, error) {
		if _, err := registry.LivePrompt(ctx, tx, promptID); err != nil {
			return nil, err
		}
		v, err := tx.GetVersionByNumber(ctx, promptID, n)
		if errors.Is(err, registry.ErrNoRows) {
			return nil, core.NotFound("version")
		}
		return v, err
	})
}

// List returns all versions of a live prompt, ascending by number.
func (m *Manager) List(ctx context.Context, promptID string) ([]*core.Version, error) {
	return registry.ViewT(ctx, m.store, func(ctx context.Context, tx registry.Tx) ([]*core.Version, error) {
		if _, err := registry.LivePrompt(ctx, tx, promptID); err != nil {
			return nil, err
		}
		return tx.ListVersions(ctx, promptID)
	})
}
