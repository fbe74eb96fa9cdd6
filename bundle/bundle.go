// Package bundle is the portable interchange format for one prompt with its
// versions and publication history. Field names are a compatibility surface
// between deployments and must not change.
package bundle

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/codragon2020/prompt-manager/core"
)

// Bundle is one exported prompt.
type Bundle struct {
	Prompt       Prompt        `json:"prompt"`
	Versions     []Version     `json:"versions"`
	Publications []Publication `json:"publications"`
}

// Prompt is the prompt metadata section.
type Prompt struct {
	ID          string      `json:"id,omitempty"`
	Name        string      `json:"name"`
	Description *string     `json:"description,omitempty"`
	OwnerTeam   *string     `json:"ownerTeam,omitempty"`
	Status      core.Status `json:"status,omitempty"`
	Tags        []string    `json:"tags"`
}

// Version is one exported version. A Version of 0 marks an entry whose
// number could not be read; importers skip it.
type Version struct {
	Version     int             `json:"version"`
	Content     string          `json:"content"`
	ModelName   *string         `json:"modelName,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"maxTokens,omitempty"`
	TopP        *float64        `json:"topP,omitempty"`
	Notes       *string         `json:"notes,omitempty"`
	CreatedBy   *string         `json:"createdBy,omitempty"`
	CreatedAt   *time.Time      `json:"createdAt,omitempty"`
	Variables   []core.Variable `json:"variables"`
}

// Publication records a historical release, naming the environment by key.
type Publication struct {
	Env             string     `json:"env"`
	PromptVersionID string     `json:"promptVersionId"`
	PublishedAt     *time.Time `json:"publishedAt,omitempty"`
	PublishedBy     *string    `json:"publishedBy,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
}

// Format is a bundle serialization.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat returns the format named by s. Empty input means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", core.BadRequest("format", "unknown bundle format %q", s)
	}
}

// FormatFromPath picks a format from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Encode serializes b. JSON output is indented.
func Encode(b *Bundle, format Format) ([]byte, error) {
	if b == nil {
		return nil, core.BadRequest("bundle", "bundle is required")
	}
	switch format {
	case FormatJSON, "":
		out, err := json.MarshalIndent(b, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode bundle: %w", err)
		}
		return append(out, '\n'), nil
	case FormatYAML:
		out, err := yaml.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode bundle: %w", err)
		}
		return out, nil
	default:
		return nil, core.BadRequest("format", "unknown bundle format %q", format)
	}
}

// Version returns the entry with number n, or nil.
func (b *Bundle) Version(n int) *Version {
	for i := range b.Versions {
		if b.Versions[i].Version == n {
			return &b.Versions[i]
		}
	}
	return nil
}
