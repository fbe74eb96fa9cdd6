package core

import "time"

// ModelParams are the optional generation parameters carried by a version.
type ModelParams struct {
	ModelName   *string  `json:"modelName,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"maxTokens,omitempty"`
	TopP        *float64 `json:"topP,omitempty"`
}

// Copy returns a deep copy of the parameters.
func (m ModelParams) Copy() ModelParams {
	out := ModelParams{ModelName: copyString(m.ModelName)}
	if m.Temperature != nil {
		t := *m.Temperature
		out.Temperature = &t
	}
	if m.MaxTokens != nil {
		n := *m.MaxTokens
		out.MaxTokens = &n
	}
	if m.TopP != nil {
		p := *m.TopP
		out.TopP = &p
	}
	return out
}

// Version is an immutable snapshot of template content and generation
// parameters, numbered sequentially per prompt.
type Version struct {
	ID       string `json:"id"`
	PromptID string `json:"promptId"`
	Version  int    `json:"version"`
	Content  string `json:"content"`
	ModelParams
	Notes     *string    `json:"notes,omitempty"`
	CreatedBy string     `json:"createdBy"`
	CreatedAt time.Time  `json:"createdAt"`
	Variables []Variable `json:"variables"`
}

// Copy returns a deep copy of the version.
func (v *Version) Copy() *Version {
	q := *v
	q.ModelParams = v.ModelParams.Copy()
	q.Notes = copyString(v.Notes)
	q.Variables = CopyVariables(v.Variables)
	if q.Variables == nil {
		q.Variables = []Variable{}
	}
	return &q
}

// VariableMap returns a map of variable name to Variable for lookup.
func (v *Version) VariableMap() map[string]Variable {
	m := make(map[string]Variable, len(v.Variables))
	for _, vv := range v.Variables {
		m[vv.Name] = vv
	}
	return m
}
