package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/codragon2020/prompt-manager/core"
	"github.com/codragon2020/prompt-manager/template"
)

// parseVariable reads name[:TYPE][!][=default]. A trailing "!" marks the
// variable required.
func parseVariable(arg string) (core.Variable, error) {
	left, def, hasDefault := strings.Cut(arg, "=")
	required := strings.HasSuffix(left, "!")
	left = strings.TrimSuffix(left, "!")
	name, typ, _ := strings.Cut(left, ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Variable{}, core.BadRequest("var", "variable %q has no name", arg)
	}
	t := core.VariableTypeString
	if typ != "" {
		parsed, err := core.ParseVariableType(typ)
		if err != nil {
			return core.Variable{}, core.BadRequest("var", "%v", err)
		}
		t = parsed
	}
	v := core.Variable{Name: name, Type: t, Required: required}
	if hasDefault {
		v.DefaultValue = &def
	}
	return v, nil
}

func parseVariables(specs []string) ([]core.Variable, error) {
	out := make([]core.Variable, 0, len(specs))
	for _, s := range specs {
		v, err := parseVariable(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// parseInput reads key=value pairs.
func parseInput(pairs []string) (template.Input, error) {
	in := template.Input{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, core.BadRequest("set", "expected key=value, got %q", p)
		}
		in[k] = v
	}
	return in, nil
}

// readContent returns inline, or the contents of file ("-" reads stdin).
func (a *app) readContent(inline, file string) (string, bool, error) {
	switch {
	case inline != "" && file != "":
		return "", false, core.BadRequest("content", "use either --content or --content-file")
	case file == "-":
		b, err := io.ReadAll(a.stdin)
		return string(b), true, err
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", false, fmt.Errorf("read %s: %w", file, err)
		}
		return string(b), true, nil
	default:
		return inline, inline != "", nil
	}
}

func (a *app) readFile(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(a.stdin)
	}
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return b, nil
}
