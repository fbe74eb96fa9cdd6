package core

import "time"

// Environment is a named deployment target such as dev, stage or prod.
type Environment struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Publication is an append-only record that a version was released to an
// environment. Seq is assigned by the store on insert and totally orders
// publications that share a timestamp.
type Publication struct {
	ID              string    `json:"id"`
	Seq             int64     `json:"-"`
	PromptID        string    `json:"promptId"`
	EnvironmentID   string    `json:"environmentId"`
	EnvironmentKey  string    `json:"env"`
	PromptVersionID string    `json:"promptVersionId"`
	PublishedBy     string    `json:"publishedBy"`
	PublishedAt     time.Time `json:"publishedAt"`
	Notes           *string   `json:"notes,omitempty"`
}

// Copy returns a deep copy of the publication.
func (p *Publication) Copy() *Publication {
	q := *p
	q.Notes = copyString(p.Notes)
	return &q
}

// Newer reports whether p supersedes o as the active publication.
func (p *Publication) Newer(o *Publication) bool {
	if o == nil {
		return true
	}
	if !p.PublishedAt.Equal(o.PublishedAt) {
		return p.PublishedAt.After(o.PublishedAt)
	}
	return p.Seq > o.Seq
}

// ActiveView is the resolved active version of a prompt in one environment.
type ActiveView struct {
	Env           string    `json:"env"`
	PublicationID string    `json:"publicationId"`
	PublishedAt   time.Time `json:"publishedAt"`
	PublishedBy   string    `json:"publishedBy"`
	Notes         *string   `json:"notes,omitempty"`
	Version       *Version  `json:"version"`
}
