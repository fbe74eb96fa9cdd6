// Package catalog manages prompt metadata: creation with an initial version,
// updates, soft deletion and filtered listings.
package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codragon2020/prompt-manager/cache"
	"github.com/codragon2020/prompt-manager/core"
	"github.com/codragon2020/prompt-manager/registry"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// VersionInput is the content of a prompt's first version.
type VersionInput struct {
	Content     string
	ModelName   *string
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
	Notes       *string
	Variables   []core.Variable
}

// CreateRequest describes a new prompt.
type CreateRequest struct {
	Name           string
	Description    string
	OwnerTeam      string
	Status         core.Status
	Tags           []string
	InitialVersion VersionInput
	Actor          string
}

// UpdateRequest changes prompt metadata. Nil fields are left unchanged; an
// empty Description or OwnerTeam clears the value. A non-nil Tags replaces the
// tag set.
type UpdateRequest struct {
	Name        *string
	Description *string
	OwnerTeam   *string
	Status      *core.Status
	Tags        []string
}

// Detail is a prompt with its full history.
type Detail struct {
	Prompt       *core.Prompt        `json:"prompt"`
	Versions     []*core.Version     `json:"versions"`
	Publications []*core.Publication `json:"publications"`
}

// Query selects a page of prompts.
type Query struct {
	Q        string
	Tag      string
	Env      string
	Sort     string
	Order    string
	Page     int
	PageSize int
}

// Page is one page of a listing.
type Page struct {
	Items    []*core.Prompt `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
}

// Service implements catalog operations over a registry.Store.
type Service struct {
	store  registry.Store
	cache  cache.ActiveCache
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCache drops cached active versions of deleted prompts.
func WithCache(c cache.ActiveCache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New returns a Service backed by store.
func New(store registry.Store, opts ...Option) *Service {
	s := &Service{store: store, logger: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create stores a prompt together with version 1.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Detail, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, core.BadRequest("name", "name is required")
	}
	if req.InitialVersion.Content == "" {
		return nil, core.BadRequest("initialVersion.content", "initialVersion.content is required")
	}
	if strings.TrimSpace(req.Actor) == "" {
		return nil, core.BadRequest("actor", "actor is required")
	}
	status, err := core.ParseStatus(string(req.Status))
	if err != nil {
		return nil, err
	}
	vars := core.CopyVariables(req.InitialVersion.Variables)
	if vars == nil {
		vars = []core.Variable{}
	}
	if err := core.ValidateVariables(vars); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p := &core.Prompt{
		ID:          uuid.NewString(),
		Name:        name,
		Description: core.OptionalString(req.Description),
		OwnerTeam:   core.OptionalString(req.OwnerTeam),
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	in := req.InitialVersion
	v := &core.Version{
		ID:        uuid.NewString(),
		PromptID:  p.ID,
		Version:   1,
		Content:   in.Content,
		Notes:     in.Notes,
		CreatedBy: req.Actor,
		CreatedAt: now,
		Variables: vars,
		ModelParams: core.ModelParams{
			ModelName:   in.ModelName,
			Temperature: in.Temperature,
			MaxTokens:   in.MaxTokens,
			TopP:        in.TopP,
		},
	}

	d, err := registry.UpdateT(ctx, s.store, func(ctx context.Context, tx registry.Tx) (*Detail, error) {
		if err := tx.LockPrompt(ctx, p.ID); err != nil {
			return nil, err
		}
		if err := tx.CreatePrompt(ctx, p); err != nil {
			return nil, err
		}
		if err := tx.SetPromptTags(ctx, p.ID, req.Tags); err != nil {
			return nil, err
		}
		if err := tx.CreateVersion(ctx, v); err != nil {
			return nil, err
		}
		return detail(ctx, tx, p.ID)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("prompt created", zap.String("prompt_id", p.ID), zap.String("name", name), zap.String("actor", req.Actor))
	return d, nil
}

// Update changes metadata of a live prompt.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*Detail, error) {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, core.BadRequest("name", "name must not be empty")
	}
	if req.Status != nil {
		st, err := core.ParseStatus(string(*req.Status))
		if err != nil {
			return nil, err
		}
		req.Status = &st
	}

	d, err := registry.UpdateT(ctx, s.store, func(ctx context.Context, tx registry.Tx) (*Detail, error) {
		if err := tx.LockPrompt(ctx, id); err != nil {
			return nil, err
		}
		p, err := registry.LivePrompt(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if req.Name != nil {
			p.Name = strings.TrimSpace(*req.Name)
		}
		if req.Description != nil {
			p.Description = core.OptionalString(*req.Description)
		}
		if req.OwnerTeam != nil {
			p.OwnerTeam = core.OptionalString(*req.OwnerTeam)
		}
		if req.Status != nil {
			p.Status = *req.Status
		}
		p.UpdatedAt = s.now().UTC()
		if err := tx.UpdatePrompt(ctx, p); err != nil {
			return nil, err
		}
		if req.Tags != nil {
			if err := tx.SetPromptTags(ctx, id, req.Tags); err != nil {
				return nil, err
			}
		}
		return detail(ctx, tx, id)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("prompt updated", zap.String("prompt_id", id))
	return d, nil
}

// Delete soft-deletes a live prompt. Its versions and publications are kept
// but become unreachable.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.store.Update(ctx, func(ctx context.Context, tx registry.Tx) error {
		if err := tx.LockPrompt(ctx, id); err != nil {
			return err
		}
		p, err := registry.LivePrompt(ctx, tx, id)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		p.DeletedAt = &now
		p.UpdatedAt = now
		return tx.UpdatePrompt(ctx, p)
	})
	if err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			s.logger.Warn("active cache invalidation failed", zap.String("prompt_id", id), zap.Error(err))
		}
	}
	s.logger.Info("prompt deleted", zap.String("prompt_id", id))
	return nil
}

// Get returns a live prompt with versions newest first and publications in
// publish order.
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	return registry.ViewT(ctx, s.store, func(ctx context.Context, tx registry.Tx) (*Detail, error) {
		return detail(ctx, tx, id)
	})
}

// List returns one page of live prompts matching q.
func (s *Service) List(ctx context.Context, q Query) (*Page, error) {
	f, err := q.filter()
	if err != nil {
		return nil, err
	}
	page, size := q.pageOrDefault(), q.sizeOrDefault()
	return registry.ViewT(ctx, s.store, func(ctx context.Context, tx registry.Tx) (*Page, error) {
		items, total, err := tx.ListPrompts(ctx, f)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []*core.Prompt{}
		}
		return &Page{Items: items, Total: total, Page: page, PageSize: size}, nil
	})
}

func (q Query) pageOrDefault() int {
	if q.Page == 0 {
		return 1
	}
	return q.Page
}

func (q Query) sizeOrDefault() int {
	if q.PageSize == 0 {
		return DefaultPageSize
	}
	return q.PageSize
}

func (q Query) filter() (registry.Filter, error) {
	f := registry.Filter{
		Query:      strings.TrimSpace(q.Q),
		Tag:        strings.TrimSpace(q.Tag),
		Env:        strings.TrimSpace(q.Env),
		Sort:       registry.SortUpdatedAt,
		Descending: true,
	}
	switch q.Sort {
	case "", string(registry.SortUpdatedAt):
	case string(registry.SortCreatedAt):
		f.Sort = registry.SortCreatedAt
	default:
		return f, core.BadRequest("sort", "sort must be updatedAt or createdAt, got %q", q.Sort)
	}
	switch strings.ToLower(q.Order) {
	case "", "desc":
	case "asc":
		f.Descending = false
	default:
		return f, core.BadRequest("order", "order must be asc or desc, got %q", q.Order)
	}
	page, size := q.pageOrDefault(), q.sizeOrDefault()
	if page < 1 {
		return f, core.BadRequest("page", "page must be at least 1")
	}
	if size < 1 || size > MaxPageSize {
		return f, core.BadRequest("pageSize", "pageSize must be between 1 and %d", MaxPageSize)
	}
	f.Limit = size
	f.Offset = (page - 1) * size
	return f, nil
}

func detail(ctx context.Context, tx registry.Tx, id string) (*Detail, error) {
	p, err := registry.LivePrompt(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	vs, err := tx.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(vs)-1; i < j; i, j = i+1, j-1 {
		vs[i], vs[j] = vs[j], vs[i]
	}
	pubs, err := tx.ListPublications(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if pubs == nil {
		pubs = []*core.Publication{}
	}
	return &Detail{Prompt: p, Versions: vs, Publications: pubs}, nil
}
