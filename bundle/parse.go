package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/codragon2020/prompt-manager/core"
)

// Parse reads a JSON or YAML bundle. The document is decoded into an untyped
// tree first so field presence and types can be checked explicitly; the
// first failure is returned as a BAD_REQUEST naming the field.
//
// Coercions: numeric-string version numbers are accepted; non-integral,
// non-positive or unparsable numbers become 0; variables without a name are
// dropped; unknown variable types become STRING; any status other than
// ARCHIVED becomes ACTIVE.
//
// YAML plain scalars are typed before any check runs: `id: 0042` reads as the
// octal number 34 and becomes "34", and `tags: [yes]` is a boolean and is
// rejected. Quote such values.
func Parse(data []byte) (*Bundle, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, core.BadRequest("bundle", "bundle must be an object")
	}
	j, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, core.BadRequest("bundle", "bundle is not valid JSON or YAML: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(j))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, core.BadRequest("bundle", "bundle is not valid JSON or YAML: %v", err)
	}
	return FromTree(tree)
}

// FromTree converts an already-decoded document (maps, slices, strings,
// json.Number or float64, bools, nil) into a Bundle.
func FromTree(tree any) (*Bundle, error) {
	root, ok := tree.(map[string]any)
	if !ok {
		return nil, core.BadRequest("bundle", "bundle must be an object")
	}

	p, ok := root["prompt"].(map[string]any)
	if !ok {
		return nil, core.BadRequest("prompt.name", "bundle.prompt.name is required")
	}
	name, ok := p["name"].(string)
	if !ok || name == "" {
		return nil, core.BadRequest("prompt.name", "bundle.prompt.name is required")
	}

	b := &Bundle{Versions: []Version{}, Publications: []Publication{}}
	b.Prompt.Name = name
	if id, present := p["id"]; present && id != nil {
		s, ok := scalarString(id)
		if !ok {
			return nil, core.BadRequest("prompt.id", "bundle.prompt.id must be a string")
		}
		b.Prompt.ID = s
	}
	var err error
	if b.Prompt.Description, err = optString(p, "description", "prompt.description"); err != nil {
		return nil, err
	}
	if b.Prompt.OwnerTeam, err = optString(p, "ownerTeam", "prompt.ownerTeam"); err != nil {
		return nil, err
	}
	b.Prompt.Status = core.StatusActive
	if s, _ := p["status"].(string); strings.EqualFold(strings.TrimSpace(s), string(core.StatusArchived)) {
		b.Prompt.Status = core.StatusArchived
	}
	tags, err := optArray(p, "tags", "prompt.tags")
	if err != nil {
		return nil, err
	}
	b.Prompt.Tags = []string{}
	for i, t := range tags {
		s, ok := t.(string)
		if !ok {
			return nil, core.BadRequest(fmt.Sprintf("prompt.tags[%d]", i), "prompt.tags[%d] must be a string", i)
		}
		b.Prompt.Tags = append(b.Prompt.Tags, s)
	}

	versions, err := optArray(root, "versions", "versions")
	if err != nil {
		return nil, err
	}
	for i, raw := range versions {
		v, err := parseVersion(raw, fmt.Sprintf("versions[%d]", i))
		if err != nil {
			return nil, err
		}
		b.Versions = append(b.Versions, *v)
	}

	pubs, err := optArray(root, "publications", "publications")
	if err != nil {
		return nil, err
	}
	for i, raw := range pubs {
		pub, err := parsePublication(raw, fmt.Sprintf("publications[%d]", i))
		if err != nil {
			return nil, err
		}
		b.Publications = append(b.Publications, *pub)
	}
	return b, nil
}

func parseVersion(raw any, field string) (*Version, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, core.BadRequest(field, "%s must be an object", field)
	}
	v := &Version{Variables: []core.Variable{}}

	switch n := m["version"].(type) {
	case nil:
	case json.Number:
		v.Version = versionNumber(n.String())
	case float64:
		v.Version = versionNumber(strconv.FormatFloat(n, 'f', -1, 64))
	case string:
		v.Version = versionNumber(n)
	default:
		return nil, core.BadRequest(field+".version", "%s.version must be a number", field)
	}

	content, err := optString(m, "content", field+".content")
	if err != nil {
		return nil, err
	}
	if content != nil {
		v.Content = *content
	}
	if v.ModelName, err = optString(m, "modelName", field+".modelName"); err != nil {
		return nil, err
	}
	if v.Temperature, err = optFloat(m, "temperature", field+".temperature"); err != nil {
		return nil, err
	}
	if v.TopP, err = optFloat(m, "topP", field+".topP"); err != nil {
		return nil, err
	}
	if v.MaxTokens, err = optInt(m, "maxTokens", field+".maxTokens"); err != nil {
		return nil, err
	}
	if v.Notes, err = optString(m, "notes", field+".notes"); err != nil {
		return nil, err
	}
	if v.CreatedBy, err = optString(m, "createdBy", field+".createdBy"); err != nil {
		return nil, err
	}
	if v.CreatedAt, err = optTime(m, "createdAt", field+".createdAt"); err != nil {
		return nil, err
	}

	vars, err := optArray(m, "variables", field+".variables")
	if err != nil {
		return nil, err
	}
	for _, rv := range vars {
		vm, ok := rv.(map[string]any)
		if !ok {
			continue
		}
		name, _ := scalarString(vm["name"])
		if name == "" {
			continue
		}
		typ, _ := vm["type"].(string)
		variable := core.Variable{
			Name:     name,
			Type:     core.LenientVariableType(typ),
			Required: truthy(vm["required"]),
		}
		if d, ok := defaultString(vm["defaultValue"]); ok {
			variable.DefaultValue = &d
		}
		v.Variables = append(v.Variables, variable)
	}
	return v, nil
}

func parsePublication(raw any, field string) (*Publication, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, core.BadRequest(field, "%s must be an object", field)
	}
	pub := &Publication{}
	pub.Env, _ = m["env"].(string)
	pub.PromptVersionID, _ = scalarString(m["promptVersionId"])
	var err error
	if pub.PublishedAt, err = optTime(m, "publishedAt", field+".publishedAt"); err != nil {
		return nil, err
	}
	if pub.PublishedBy, err = optString(m, "publishedBy", field+".publishedBy"); err != nil {
		return nil, err
	}
	if pub.Notes, err = optString(m, "notes", field+".notes"); err != nil {
		return nil, err
	}
	return pub, nil
}

// versionNumber returns s as a positive integer, or 0.
func versionNumber(s string) int {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 1 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0
	}
	return int(f)
}

func optArray(m map[string]any, key, field string) ([]any, error) {
	raw, present := m[key]
	if !present || raw == nil {
		return nil, nil
	}
	arr, ok := raw.([]any)
	if !ok {
		return nil, core.BadRequest(field, "%s must be an array", field)
	}
	return arr, nil
}

func optString(m map[string]any, key, field string) (*string, error) {
	raw, present := m[key]
	if !present || raw == nil {
		return nil, nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil, core.BadRequest(field, "%s must be a string", field)
	}
	return &s, nil
}

func optFloat(m map[string]any, key, field string) (*float64, error) {
	raw, present := m[key]
	if !present || raw == nil {
		return nil, nil
	}
	var f float64
	var err error
	switch n := raw.(type) {
	case json.Number:
		f, err = n.Float64()
	case float64:
		f = n
	default:
		err = fmt.Errorf("not a number")
	}
	if err != nil {
		return nil, core.BadRequest(field, "%s must be a number", field)
	}
	return &f, nil
}

func optInt(m map[string]any, key, field string) (*int, error) {
	f, err := optFloat(m, key, field)
	if err != nil || f == nil {
		return nil, err
	}
	if *f != math.Trunc(*f) {
		return nil, core.BadRequest(field, "%s must be an integer", field)
	}
	n := int(*f)
	return &n, nil
}

func optTime(m map[string]any, key, field string) (*time.Time, error) {
	s, err := optString(m, key, field)
	if err != nil || s == nil || *s == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil, core.BadRequest(field, "%s must be an RFC 3339 timestamp", field)
	}
	return &t, nil
}

// scalarString renders strings and numbers as text.
func scalarString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	default:
		return "", false
	}
}

// defaultString renders a default value as text. Empty and null defaults are
// absent; structured defaults are kept as compact JSON.
func defaultString(v any) (string, bool) {
	switch d := v.(type) {
	case nil:
		return "", false
	case string:
		return d, d != ""
	case bool:
		return strconv.FormatBool(d), true
	case json.Number, float64:
		s, _ := scalarString(d)
		return s, true
	default:
		out, err := json.Marshal(d)
		if err != nil {
			return "", false
		}
		return string(out), true
	}
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b != ""
	case json.Number:
		f, err := b.Float64()
		return err == nil && f != 0
	case float64:
		return b != 0
	case nil:
		return false
	default:
		return true
	}
}
