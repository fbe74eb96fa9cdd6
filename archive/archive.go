// Package archive keeps timestamped bundle snapshots in a blob store such as
// S3 or a local directory.
package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/codragon2020/prompt-manager/bundle"
	"github.com/codragon2020/prompt-manager/core"
)

// ErrBlobNotFound is returned by BlobStore.Get for a missing key.
var ErrBlobNotFound = errors.New("archive: blob not found")

// BlobStore is a minimal key-value store for S3-compatible backends (e.g. AWS S3, MinIO).
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

const timestampLayout = "20060102T150405.000000000Z"

// Service saves and loads bundles. Keys: bundles/<promptID>/<UTC timestamp>.json.
type Service struct {
	store  BlobStore
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithClock overrides the time source used for keys.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService returns a Service writing to store.
func NewService(store BlobStore, opts ...Option) *Service {
	s := &Service{store: store, logger: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func promptPrefix(promptID string) string {
	return "bundles/" + promptID + "/"
}

// Save writes b as JSON and returns its key.
func (s *Service) Save(ctx context.Context, b *bundle.Bundle) (string, error) {
	if b == nil {
		return "", core.BadRequest("bundle", "bundle is required")
	}
	id := b.Prompt.ID
	if id == "" || strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return "", core.BadRequest("prompt.id", "archived bundles need a prompt id without path separators")
	}
	data, err := bundle.Encode(b, bundle.FormatJSON)
	if err != nil {
		return "", err
	}
	key := promptPrefix(id) + s.now().UTC().Format(timestampLayout) + ".json"
	if err := s.store.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("archive put %s: %w", key, err)
	}
	s.logger.Info("bundle archived", zap.String("prompt_id", id), zap.String("key", key), zap.Int("bytes", len(data)))
	return key, nil
}

// Load reads and parses the bundle stored under key.
func (s *Service) Load(ctx context.Context, key string) (*bundle.Bundle, error) {
	data, err := s.store.Get(ctx, key)
	if errors.Is(err, ErrBlobNotFound) {
		return nil, core.NotFound("archived bundle")
	}
	if err != nil {
		return nil, fmt.Errorf("archive get %s: %w", key, err)
	}
	return bundle.Parse(data)
}

// List returns the archive keys of promptID, oldest first. An empty promptID
// lists every archived bundle.
func (s *Service) List(ctx context.Context, promptID string) ([]string, error) {
	prefix := "bundles/"
	if promptID != "" {
		prefix = promptPrefix(promptID)
	}
	keys, err := s.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("archive list %s: %w", prefix, err)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasSuffix(k, ".json") {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Latest loads the newest archived bundle of promptID.
func (s *Service) Latest(ctx context.Context, promptID string) (*bundle.Bundle, string, error) {
	keys, err := s.List(ctx, promptID)
	if err != nil {
		return nil, "", err
	}
	if promptID == "" || len(keys) == 0 {
		return nil, "", core.NotFound("archived bundle")
	}
	key := keys[len(keys)-1]
	b, err := s.Load(ctx, key)
	return b, key, err
}

// Delete removes one archived bundle.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("archive delete %s: %w", key, err)
	}
	s.logger.Info("archived bundle deleted", zap.String("key", key))
	return nil
}
