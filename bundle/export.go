package bundle

import (
	"context"

	"github.com/codragon2020/prompt-manager/core"
	"github.com/codragon2020/prompt-manager/registry"
)

// Exporter builds bundles from a store.
type Exporter struct {
	store registry.Store
}

// NewExporter returns an Exporter reading from store.
func NewExporter(store registry.Store) *Exporter {
	return &Exporter{store: store}
}

// Export returns a live prompt with its tags, every version ascending by
// number and every publication in publish order.
func (e *Exporter) Export(ctx context.Context, promptID string) (*Bundle, error) {
	return registry.ViewT(ctx, e.store, func(ctx context.Context, tx registry.Tx) (*Bundle, error) {
		if err := tx.LockPrompt(ctx, promptID); err != nil {
			return nil, err
		}
		p, err := registry.LivePrompt(ctx, tx, promptID)
		if err != nil {
			return nil, err
		}
		versions, err := tx.ListVersions(ctx, promptID)
		if err != nil {
			return nil, err
		}
		pubs, err := tx.ListPublications(ctx, promptID, "")
		if err != nil {
			return nil, err
		}
		return Build(p, versions, pubs), nil
	})
}

// Build assembles a bundle from loaded entities.
func Build(p *core.Prompt, versions []*core.Version, pubs []*core.Publication) *Bundle {
	b := &Bundle{
		Prompt: Prompt{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			OwnerTeam:   p.OwnerTeam,
			Status:      p.Status,
			Tags:        append([]string{}, p.Tags...),
		},
		Versions:     make([]Version, 0, len(versions)),
		Publications: make([]Publication, 0, len(pubs)),
	}
	for _, v := range versions {
		createdAt := v.CreatedAt
		createdBy := v.CreatedBy
		vars := core.CopyVariables(v.Variables)
		if vars == nil {
			vars = []core.Variable{}
		}
		b.Versions = append(b.Versions, Version{
			Version:     v.Version,
			Content:     v.Content,
			ModelName:   v.ModelName,
			Temperature: v.Temperature,
			MaxTokens:   v.MaxTokens,
			TopP:        v.TopP,
			Notes:       v.Notes,
			CreatedBy:   core.OptionalString(createdBy),
			CreatedAt:   &createdAt,
			Variables:   vars,
		})
	}
	for _, pub := range pubs {
		publishedAt := pub.PublishedAt
		b.Publications = append(b.Publications, Publication{
			Env:             pub.EnvironmentKey,
			PromptVersionID: pub.PromptVersionID,
			PublishedAt:     &publishedAt,
			PublishedBy:     core.OptionalString(pub.PublishedBy),
			Notes:           pub.Notes,
		})
	}
	return b
}
