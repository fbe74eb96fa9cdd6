// Package importer reconciles bundles with existing prompts.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codragon2020/prompt-manager/bundle"
	"github.com/codragon2020/prompt-manager/cache"
	"github.com/codragon2020/prompt-manager/core"
	"github.com/codragon2020/prompt-manager/registry"
)

// Mode selects how a bundle maps onto existing prompts.
type Mode string

const (
	// ModeCreate always creates a new prompt with a fresh id.
	ModeCreate Mode = "create"
	// ModeMerge updates the prompt with the bundle's id in place, or creates
	// it under that id.
	ModeMerge Mode = "merge"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeCreate, ModeMerge:
		return m, nil
	default:
		return "", core.BadRequest("mode", "mode must be %q or %q, got %q", ModeCreate, ModeMerge, s)
	}
}

// Result describes one import.
type Result struct {
	Prompt          *core.Prompt `json:"prompt"`
	Created         bool         `json:"created"`
	Resurrected     bool         `json:"resurrected"`
	VersionsCreated []int        `json:"versionsCreated"`
	VersionsSkipped int          `json:"versionsSkipped"`
}

// Importer applies bundles through a registry.Store.
type Importer struct {
	store  registry.Store
	cache  cache.ActiveCache
	logger *zap.Logger
	now    func() time.Time
}

// Option configures an Importer.
type Option func(*Importer)

// WithCache invalidates active-version entries of imported prompts.
func WithCache(c cache.ActiveCache) Option {
	return func(i *Importer) {
		i.cache = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *Importer) {
		i.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Importer) {
		i.now = now
	}
}

// New returns an Importer backed by store.
func New(store registry.Store, opts ...Option) *Importer {
	i := &Importer{store: store, logger: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Import applies b in one unit of work and returns the resulting prompt.
//
// Prompt metadata and tags are overwritten from the bundle. Versions are
// additive by number: entries with a number that is not positive, or that
// already exists on the target, are skipped. Publications are not replayed.
func (i *Importer) Import(ctx context.Context, b *bundle.Bundle, mode Mode, actor string) (*Result, error) {
	if b == nil {
		return nil, core.BadRequest("bundle", "bundle is required")
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	if b.Prompt.Name == "" {
		return nil, core.BadRequest("prompt.name", "bundle.prompt.name is required")
	}
	if strings.TrimSpace(actor) == "" {
		return nil, core.BadRequest("actor", "actor is required")
	}
	for idx, v := range b.Versions {
		if err := core.ValidateVariables(v.Variables); err != nil {
			return nil, core.BadRequest(fmt.Sprintf("versions[%d].variables", idx), "version %d: %v", v.Version, err)
		}
	}

	res, err := registry.UpdateT(ctx, i.store, func(ctx context.Context, tx registry.Tx) (*Result, error) {
		return i.apply(ctx, tx, b, mode, actor)
	})
	if err != nil {
		return nil, err
	}
	if i.cache != nil {
		if err := i.cache.Invalidate(ctx, res.Prompt.ID); err != nil {
			i.logger.Warn("active cache invalidation failed", zap.String("prompt_id", res.Prompt.ID), zap.Error(err))
		}
	}
	i.logger.Info("bundle imported",
		zap.String("prompt_id", res.Prompt.ID),
		zap.String("mode", string(mode)),
		zap.Bool("created", res.Created),
		zap.Ints("versions_created", res.VersionsCreated),
		zap.Int("versions_skipped", res.VersionsSkipped),
		zap.String("actor", actor))
	return res, nil
}

func (i *Importer) apply(ctx context.Context, tx registry.Tx, b *bundle.Bundle, mode Mode, actor string) (*Result, error) {
	now := i.now().UTC()
	res := &Result{VersionsCreated: []int{}}

	var target *core.Prompt
	if mode == ModeMerge && b.Prompt.ID != "" {
		if err := tx.LockPrompt(ctx, b.Prompt.ID); err != nil {
			return nil, err
		}
		p, err := tx.GetPrompt(ctx, b.Prompt.ID, true)
		switch {
		case errors.Is(err, registry.ErrNoRows):
		case err != nil:
			return nil, fmt.Errorf("load merge target: %w", err)
		default:
			target = p
		}
	}

	status := core.StatusActive
	if b.Prompt.Status == core.StatusArchived {
		status = core.StatusArchived
	}

	if target == nil {
		id := uuid.NewString()
		if mode == ModeMerge && b.Prompt.ID != "" {
			id = b.Prompt.ID
		}
		target = &core.Prompt{
			ID:          id,
			Name:        b.Prompt.Name,
			Description: b.Prompt.Description,
			OwnerTeam:   b.Prompt.OwnerTeam,
			Status:      status,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.LockPrompt(ctx, id); err != nil {
			return nil, err
		}
		if err := tx.CreatePrompt(ctx, target); err != nil {
			return nil, err
		}
		res.Created = true
	} else {
		res.Resurrected = target.Deleted()
		target.Name = b.Prompt.Name
		target.Description = b.Prompt.Description
		target.OwnerTeam = b.Prompt.OwnerTeam
		target.Status = status
		target.DeletedAt = nil
		target.UpdatedAt = now
		if err := tx.UpdatePrompt(ctx, target); err != nil {
			return nil, err
		}
	}

	if err := tx.SetPromptTags(ctx, target.ID, b.Prompt.Tags); err != nil {
		return nil, err
	}

	nums, err := tx.VersionNumbers(ctx, target.ID)
	if err != nil {
		return nil, err
	}
	existing := make(map[int]bool, len(nums))
	for _, n := range nums {
		existing[n] = true
	}
	for _, in := range b.Versions {
		if in.Version < 1 || existing[in.Version] {
			res.VersionsSkipped++
			continue
		}
		v := &core.Version{
			ID:        uuid.NewString(),
			PromptID:  target.ID,
			Version:   in.Version,
			Content:   in.Content,
			Notes:     in.Notes,
			CreatedBy: actor,
			CreatedAt: now,
			Variables: core.CopyVariables(in.Variables),
			ModelParams: core.ModelParams{
				ModelName:   in.ModelName,
				Temperature: in.Temperature,
				MaxTokens:   in.MaxTokens,
				TopP:        in.TopP,
			},
		}
		if in.CreatedBy != nil && *in.CreatedBy != "" {
			v.CreatedBy = *in.CreatedBy
		}
		if in.CreatedAt != nil {
			v.CreatedAt = in.CreatedAt.UTC()
		}
		if v.Variables == nil {
			v.Variables = []core.Variable{}
		}
		if err := tx.CreateVersion(ctx, v); err != nil {
			return nil, err
		}
		existing[in.Version] = true
		res.VersionsCreated = append(res.VersionsCreated, in.Version)
	}

	p, err := tx.GetPrompt(ctx, target.ID, false)
	if err != nil {
		return nil, fmt.Errorf("reload imported prompt: %w", err)
	}
	res.Prompt = p
	return res, nil
}
