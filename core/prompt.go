package core

import (
	"sort"
	"strings"
	"time"
)

// Status is the lifecycle state of a prompt.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusArchived Status = "ARCHIVED"
)

// ParseStatus returns the status for s (case-insensitive). Empty input yields
// StatusActive; anything else unknown is rejected.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(StatusActive):
		return StatusActive, nil
	case string(StatusArchived):
		return StatusArchived, nil
	default:
		return "", BadRequest("status", "status must be ACTIVE or ARCHIVED, got %q", s)
	}
}

// Prompt is a named, taggable template entity with an ordered version history.
type Prompt struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	OwnerTeam   *string    `json:"ownerTeam,omitempty"`
	Status      Status     `json:"status"`
	Tags        []string   `json:"tags"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Deleted reports whether the prompt carries a soft-delete marker.
func (p *Prompt) Deleted() bool {
	return p.DeletedAt != nil
}

// Copy returns a deep copy of the prompt.
func (p *Prompt) Copy() *Prompt {
	q := *p
	q.Description = copyString(p.Description)
	q.OwnerTeam = copyString(p.OwnerTeam)
	q.Tags = append([]string(nil), p.Tags...)
	if p.DeletedAt != nil {
		t := *p.DeletedAt
		q.DeletedAt = &t
	}
	return &q
}

// NormalizeTag trims and lower-cases a tag name.
func NormalizeTag(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeTags normalizes, drops empties and deduplicates tag names. The
// result is sorted so tag sets compare deterministically.
func NormalizeTags(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		t := NormalizeTag(n)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// OptionalString returns nil for an empty (after trimming) string.
func OptionalString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
