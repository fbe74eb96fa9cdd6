// Package promptmanager versions prompt templates, publishes versions to
// deployment environments and moves prompts between deployments as bundles.
//
// Quick start:
//
//	pm := promptmanager.New(registry.NewMemoryStore())
//	envs, _ := pm.Publications.EnsureEnvironments(ctx, []core.Environment{{Key: "prod"}})
//	d, _ := pm.Catalog.Create(ctx, catalog.CreateRequest{
//		Name:           "greeter",
//		InitialVersion: catalog.VersionInput{Content: "Hello, {{name}}!"},
//		Actor:          "alice",
//	})
//	_, _ = pm.Publish(ctx, publish.PublishRequest{
//		PromptID: d.Prompt.ID, Environment: envs[0].Key,
//		VersionID: d.Versions[0].ID, PublishedBy: "alice",
//	})
//	text, _ := pm.RenderActive(ctx, d.Prompt.ID, "prod", template.Input{"name": "World"})
package promptmanager

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/codragon2020/prompt-manager/archive"
	"github.com/codragon2020/prompt-manager/bundle"
	"github.com/codragon2020/prompt-manager/cache"
	"github.com/codragon2020/prompt-manager/catalog"
	"github.com/codragon2020/prompt-manager/core"
	"github.com/codragon2020/prompt-manager/diff"
	"github.com/codragon2020/prompt-manager/importer"
	"github.com/codragon2020/prompt-manager/publish"
	"github.com/codragon2020/prompt-manager/registry"
	"github.com/codragon2020/prompt-manager/template"
	"github.com/codragon2020/prompt-manager/versions"
)

// Manager wires every service over one store.
type Manager struct {
	Store        registry.Store
	Catalog      *catalog.Service
	Versions     *versions.Manager
	Publications *publish.Registry
	Exporter     *bundle.Exporter
	Importer     *importer.Importer
	// Archive is nil unless WithArchive is given.
	Archive *archive.Service

	closers []func() error
}

type options struct {
	logger  *zap.Logger
	cache   cache.ActiveCache
	archive archive.BlobStore
	now     func() time.Time
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger shared by all services.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithCache enables the active-version cache.
func WithCache(c cache.ActiveCache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithArchive enables bundle archiving to store.
func WithArchive(store archive.BlobStore) Option {
	return func(o *options) {
		o.archive = store
	}
}

// WithClock overrides the time source of all services.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New wires services over store.
func New(store registry.Store, opts ...Option) *Manager {
	o := options{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	m := &Manager{
		Store: store,
		Catalog: catalog.New(store,
			catalog.WithLogger(o.logger.Named("catalog")),
			catalog.WithCache(o.cache),
			catalog.WithClock(o.now)),
		Versions: versions.New(store,
			versions.WithLogger(o.logger.Named("versions")),
			versions.WithClock(o.now)),
		Publications: publish.New(store,
			publish.WithLogger(o.logger.Named("publish")),
			publish.WithCache(o.cache),
			publish.WithClock(o.now)),
		Exporter: bundle.NewExporter(store),
		Importer: importer.New(store,
			importer.WithLogger(o.logger.Named("importer")),
			importer.WithCache(o.cache),
			importer.WithClock(o.now)),
	}
	if o.archive != nil {
		m.Archive = archive.NewService(o.archive,
			archive.WithLogger(o.logger.Named("archive")),
			archive.WithClock(o.now))
	}
	return m
}

// CreateVersion derives a new version of promptID.
func (m *Manager) CreateVersion(ctx context.Context, promptID string, req versions.CreateRequest) (*core.Version, error) {
	return m.Versions.Create(ctx, promptID, req)
}

// Publish makes a version active in an environment.
func (m *Manager) Publish(ctx context.Context, req publish.PublishRequest) (*core.Publication, error) {
	return m.Publications.Publish(ctx, req)
}

// GetActive returns the version currently published to env.
func (m *Manager) GetActive(ctx context.Context, promptID, env string) (*core.ActiveView, error) {
	return m.Publications.Active(ctx, promptID, env)
}

// RenderActive renders the version currently published to env with input.
func (m *Manager) RenderActive(ctx context.Context, promptID, env string, input template.Input) (string, error) {
	view, err := m.GetActive(ctx, promptID, env)
	if err != nil {
		return "", err
	}
	return template.Render(view.Version.Content, view.Version.Variables, input)
}

// Export returns promptID as a bundle.
func (m *Manager) Export(ctx context.Context, promptID string) (*bundle.Bundle, error) {
	return m.Exporter.Export(ctx, promptID)
}

// Import applies a bundle.
func (m *Manager) Import(ctx context.Context, b *bundle.Bundle, mode importer.Mode, actor string) (*importer.Result, error) {
	return m.Importer.Import(ctx, b, mode, actor)
}

// Diff compares the content of two versions of promptID line by line.
func (m *Manager) Diff(ctx context.Context, promptID, fromVersionID, toVersionID string) ([]diff.Line, error) {
	from, err := m.Versions.Get(ctx, promptID, fromVersionID)
	if err != nil {
		return nil, err
	}
	to, err := m.Versions.Get(ctx, promptID, toVersionID)
	if err != nil {
		return nil, err
	}
	return diff.Lines(from.Content, to.Content), nil
}

// ArchiveExport exports promptID and saves the bundle to the archive.
func (m *Manager) ArchiveExport(ctx context.Context, promptID string) (string, error) {
	if m.Archive == nil {
		return "", core.BadRequest("archive", "no bundle archive is configured")
	}
	b, err := m.Export(ctx, promptID)
	if err != nil {
		return "", err
	}
	return m.Archive.Save(ctx, b)
}

// Close releases the store and any clients opened by Open.
func (m *Manager) Close() error {
	err := m.Store.Close()
	for _, c := range m.closers {
		if cerr := c(); err == nil {
			err = cerr
		}
	}
	return err
}
