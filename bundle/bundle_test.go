package bundle

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codragon2020/prompt-manager/core"
	"github.com/codragon2020/prompt-manager/registry"
)

const sampleJSON = `{
  "prompt": {"id": "p-1", "name": "greeting", "description": "Says hi", "status": "ARCHIVED", "tags": ["Support", "beta"]},
  "versions": [
    {"version": 1, "content": "Hello {{name}}", "temperature": 0.2, "maxTokens": 128, "createdBy": "alice",
     "createdAt": "2024-01-02T03:04:05Z",
     "variables": [{"name": "name", "type": "STRING", "required": true, "defaultValue": "world"}]},
    {"version": "2", "content": "Hi {{name}}!"}
  ],
  "publications": [
    {"env": "prod", "promptVersionId": "v-2", "publishedAt": "2024-02-01T00:00:00Z", "publishedBy": "bob"}
  ]
}`

func TestParse_JSON(t *testing.T) {
	b, err := Parse([]byte(sampleJSON))
	require.NoError(t, err)
	assert.Equal(t, "p-1", b.Prompt.ID)
	assert.Equal(t, "greeting", b.Prompt.Name)
	assert.Equal(t, "Says hi", *b.Prompt.Description)
	assert.Nil(t, b.Prompt.OwnerTeam)
	assert.Equal(t, core.StatusArchived, b.Prompt.Status)
	assert.Equal(t, []string{"Support", "beta"}, b.Prompt.Tags)

	require.Len(t, b.Versions, 2)
	v1 := b.Versions[0]
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, 0.2, *v1.Temperature)
	assert.Equal(t, 128, *v1.MaxTokens)
	assert.Equal(t, "alice", *v1.CreatedBy)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), v1.CreatedAt.UTC())
	require.Len(t, v1.Variables, 1)
	assert.True(t, v1.Variables[0].Required)
	assert.Equal(t, "world", *v1.Variables[0].DefaultValue)

	assert.Equal(t, 2, b.Versions[1].Version)
	assert.Nil(t, b.Versions[1].CreatedAt)
	assert.NotNil(t, b.Versions[1].Variables)

	require.Len(t, b.Publications, 1)
	assert.Equal(t, "prod", b.Publications[0].Env)
	assert.Equal(t, "bob", *b.Publications[0].PublishedBy)
}

func TestParse_YAML(t *testing.T) {
	doc := `
prompt:
  name: summarizer
  tags: [ops]
versions:
  - version: 1
    content: |
      Summarize:
      {{text}}
    variables:
      - name: text
        type: json
`
	b, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "summarizer", b.Prompt.Name)
	assert.Equal(t, core.StatusActive, b.Prompt.Status)
	require.Len(t, b.Versions, 1)
	assert.Equal(t, "Summarize:\n{{text}}\n", b.Versions[0].Content)
	assert.Equal(t, core.VariableTypeJSON, b.Versions[0].Variables[0].Type)
	assert.Empty(t, b.Publications)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"empty", ``, "bundle"},
		{"array", `[1, 2]`, "bundle"},
		{"string", `"bundle"`, "bundle"},
		{"null", `null`, "bundle"},
		{"no prompt", `{"versions": []}`, "prompt.name"},
		{"prompt not object", `{"prompt": "x"}`, "prompt.name"},
		{"empty name", `{"prompt": {"name": ""}}`, "prompt.name"},
		{"numeric name", `{"prompt": {"name": 7}}`, "prompt.name"},
		{"versions not array", `{"prompt": {"name": "a"}, "versions": {"version": 1}}`, "versions"},
		{"version entry not object", `{"prompt": {"name": "a"}, "versions": [1]}`, "versions[0]"},
		{"version bool", `{"prompt": {"name": "a"}, "versions": [{"version": true}]}`, "versions[0].version"},
		{"publications not array", `{"prompt": {"name": "a"}, "publications": "prod"}`, "publications"},
		{"bad createdAt", `{"prompt": {"name": "a"}, "versions": [{"version": 1, "createdAt": "yesterday"}]}`, "versions[0].createdAt"},
		{"numeric tag", `{"prompt": {"name": "a", "tags": ["ok", 7]}}`, "prompt.tags[1]"},
		{"yaml bool tag", "prompt:\n  name: a\n  tags: [yes, no]\n", "prompt.tags[0]"},
		{"fractional maxTokens", `{"prompt": {"name": "a"}, "versions": [{"version": 1, "maxTokens": 1.5}]}`, "versions[0].maxTokens"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrBadRequest)
			var e *core.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.field, e.Field)
		})
	}
}

func TestParse_MissingNameMessage(t *testing.T) {
	_, err := Parse([]byte(`{"prompt": {}}`))
	require.Error(t, err)
	assert.Equal(t, "bundle.prompt.name is required", err.Error())
}

func TestParse_LenientCoercions(t *testing.T) {
	doc := `{
  "prompt": {"name": "a", "status": "DRAFT", "id": 42},
  "versions": [
    {"version": 0, "content": "zero"},
    {"version": -3, "content": "neg"},
    {"version": 1.5, "content": "frac"},
    {"version": "abc", "content": "junk"},
    {"content": "missing"},
    {"version": " 3 ", "content": "three",
     "variables": [{"type": "STRING"}, {"name": "n", "type": "DATE", "required": 1, "defaultValue": 5}, {"name": "cfg", "type": "JSON", "defaultValue": {"a": 1}}]}
  ]
}`
	b, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, b.Prompt.Status)
	assert.Equal(t, "42", b.Prompt.ID)

	nums := make([]int, 0, len(b.Versions))
	for _, v := range b.Versions {
		nums = append(nums, v.Version)
	}
	assert.Equal(t, []int{0, 0, 0, 0, 0, 3}, nums)

	vars := b.Versions[5].Variables
	require.Len(t, vars, 2)
	assert.Equal(t, core.VariableTypeString, vars[0].Type)
	assert.True(t, vars[0].Required)
	assert.Equal(t, "5", *vars[0].DefaultValue)
	assert.Equal(t, `{"a":1}`, *vars[1].DefaultValue)
}

func TestEncode_YAMLParsesBack(t *testing.T) {
	orig, err := Parse([]byte(sampleJSON))
	require.NoError(t, err)

	out, err := Encode(orig, FormatYAML)
	require.NoError(t, err)
	back, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, orig.Prompt, back.Prompt)
	assert.Equal(t, orig.Versions[0].Content, back.Versions[0].Content)
	assert.True(t, orig.Versions[0].CreatedAt.Equal(*back.Versions[0].CreatedAt))
}

func TestEncode_JSONFieldNames(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := &Bundle{
		Prompt:       Prompt{Name: "x", Status: core.StatusActive, Tags: []string{}},
		Versions:     []Version{{Version: 1, Content: "c", CreatedAt: &ts, Variables: []core.Variable{}}},
		Publications: []Publication{{Env: "prod", PromptVersionID: "v", PublishedAt: &ts}},
	}
	out, err := Encode(b, FormatJSON)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(out, &generic))
	assert.ElementsMatch(t, []string{"prompt", "versions", "publications"}, keys(generic))
	assert.ElementsMatch(t, []string{"name", "status", "tags"}, keys(generic["prompt"].(map[string]any)))
	v := generic["versions"].([]any)[0].(map[string]any)
	assert.ElementsMatch(t, []string{"version", "content", "createdAt", "variables"}, keys(v))
	pub := generic["publications"].([]any)[0].(map[string]any)
	assert.ElementsMatch(t, []string{"env", "promptVersionId", "publishedAt"}, keys(pub))

	_, err = Encode(b, "xml")
	assert.ErrorIs(t, err, core.ErrBadRequest)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("bundle.YML"))
	assert.Equal(t, FormatJSON, FormatFromPath("bundle.json"))
	assert.Equal(t, FormatJSON, FormatFromPath("bundle"))
	f, err := ParseFormat("yaml")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)
	_, err = ParseFormat("toml")
	assert.Error(t, err)
}

func TestExporter_Export(t *testing.T) {
	ctx := context.Background()
	s := registry.NewMemoryStore()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	desc := "d"
	require.NoError(t, s.Update(ctx, func(ctx context.Context, tx registry.Tx) error {
		if err := tx.CreatePrompt(ctx, &core.Prompt{ID: "p1", Name: "n", Description: &desc, Status: core.StatusActive, CreatedAt: ts, UpdatedAt: ts}); err != nil {
			return err
		}
		if err := tx.SetPromptTags(ctx, "p1", []string{"B", "a"}); err != nil {
			return err
		}
		for n := 2; n >= 1; n-- {
			v := &core.Version{ID: "v" + string(rune('0'+n)), PromptID: "p1", Version: n, Content: "c", CreatedBy: "alice", CreatedAt: ts}
			if err := tx.CreateVersion(ctx, v); err != nil {
				return err
			}
		}
		env := &core.Environment{Key: "prod", Name: "Production"}
		if err := tx.UpsertEnvironment(ctx, env); err != nil {
			return err
		}
		return tx.CreatePublication(ctx, &core.Publication{ID: "pub", PromptID: "p1", EnvironmentID: env.ID, PromptVersionID: "v2", PublishedBy: "bob", PublishedAt: ts})
	}))

	b, err := NewExporter(s).Export(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", b.Prompt.ID)
	assert.Equal(t, []string{"a", "b"}, b.Prompt.Tags)
	require.Len(t, b.Versions, 2)
	assert.Equal(t, 1, b.Versions[0].Version)
	assert.Equal(t, 2, b.Versions[1].Version)
	assert.Equal(t, "alice", *b.Versions[0].CreatedBy)
	require.Len(t, b.Publications, 1)
	assert.Equal(t, "prod", b.Publications[0].Env)
	assert.Equal(t, "v2", b.Publications[0].PromptVersionID)

	_, err = NewExporter(s).Export(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
