// Package template extracts and substitutes the {{ name }} placeholders of
// prompt content.
package template

import (
	"context"
	"regexp"
	"strings"

	"github.com/codragon2020/prompt-manager/core"
)

// Input maps variable names to rendering values.
type Input map[string]string

// Engine finds and substitutes placeholders between a pair of delimiters.
type Engine struct {
	leftDelim  string
	rightDelim string
	re         *regexp.Regexp
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithDelims sets custom delimiters (default "{{" and "}}").
func WithDelims(left, right string) EngineOption {
	return func(e *Engine) {
		e.leftDelim = left
		e.rightDelim = right
	}
}

// NewEngine creates a new template engine with default or custom options.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		leftDelim:  "{{",
		rightDelim: "}}",
	}
	for _, o := range opts {
		o(e)
	}
	e.re = regexp.MustCompile(regexp.QuoteMeta(e.leftDelim) + `\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*` + regexp.QuoteMeta(e.rightDelim))
	return e
}

var defaultEngine = NewEngine()

// ExtractVariables returns the distinct placeholder names of content in order
// of first appearance.
func ExtractVariables(content string) []string {
	return defaultEngine.ExtractVariables(content)
}

// Render validates input against vars and substitutes content with the
// default delimiters.
func Render(content string, vars []core.Variable, input Input) (string, error) {
	return defaultEngine.Render(context.Background(), content, vars, input)
}

// Undeclared lists placeholders of content that no variable declares.
func Undeclared(content string, vars []core.Variable) []string {
	return defaultEngine.Undeclared(content, vars)
}

// ExtractVariables returns the distinct placeholder names in content.
func (e *Engine) ExtractVariables(content string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, m := range e.re.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// Undeclared lists placeholders without a matching variable.
func (e *Engine) Undeclared(content string, vars []core.Variable) []string {
	declared := make(map[string]bool, len(vars))
	for _, v := range vars {
		declared[v.Name] = true
	}
	var out []string
	for _, name := range e.ExtractVariables(content) {
		if !declared[name] {
			out = append(out, name)
		}
	}
	return out
}

// Render validates input, applies declared defaults and replaces every
// placeholder with its value. Values are inserted literally; placeholders
// with no value render as empty text.
func (e *Engine) Render(ctx context.Context, content string, vars []core.Variable, input Input) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	data := make(map[string]string, len(vars)+len(input))
	for _, v := range vars {
		val, ok := input[v.Name]
		if !ok && v.DefaultValue != nil {
			val, ok = *v.DefaultValue, true
		}
		if err := v.Validate(val, ok); err != nil {
			return "", err
		}
		if ok {
			data[v.Name] = val
		}
	}
	for k, v := range input {
		if _, ok := data[k]; !ok {
			data[k] = v
		}
	}
	var b strings.Builder
	last := 0
	for _, loc := range e.re.FindAllStringSubmatchIndex(content, -1) {
		b.WriteString(content[last:loc[0]])
		b.WriteString(data[content[loc[2]:loc[3]]])
		last = loc[1]
	}
	b.WriteString(content[last:])
	return b.String(), nil
}
