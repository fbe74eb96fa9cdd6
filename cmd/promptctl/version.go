package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/codragon2020/prompt-manager/core"
	"github.com/codragon2020/prompt-manager/publish"
	"github.com/codragon2020/prompt-manager/versions"
)

func newVersionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Commands for managing prompt versions",
		Example: `promptctl version create <prompt-id> --base 1 --content-file prompt.txt
promptctl version list <prompt-id>
promptctl version show <prompt-id> 2`,
	}
	cmd.AddCommand(newVersionCreateCmd(a), newVersionListCmd(a), newVersionShowCmd(a))
	return cmd
}

func newVersionCreateCmd(a *app) *cobra.Command {
	var (
		base        string
		content     string
		contentFile string
		modelName   string
		temperature float64
		maxTokens   int
		topP        float64
		notes       string
		vars        []string
		noVars      bool
	)
	cmd := &cobra.Command{
		Use:   "create <prompt-id>",
		Short: "Create a version, optionally derived from a base version",
		Long: `Creates the next version of a prompt. With --base, every field that is not
given is copied from the base version (notes excepted).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			promptID := args[0]
			f := cmd.Flags()
			req := versions.CreateRequest{AuthorID: a.actor}
			if base != "" {
				v, err := a.resolveVersion(ctx, promptID, base)
				if err != nil {
					return err
				}
				req.BaseVersionID = v.ID
			}
			text, given, err := a.readContent(content, contentFile)
			if err != nil {
				return err
			}
			if given || f.Changed("content") {
				req.Content = &text
			}
			if f.Changed("model") {
				req.ModelName = &modelName
			}
			if f.Changed("temperature") {
				req.Temperature = &temperature
			}
			if f.Changed("max-tokens") {
				req.MaxTokens = &maxTokens
			}
			if f.Changed("top-p") {
				req.TopP = &topP
			}
			if f.Changed("notes") {
				req.Notes = &notes
			}
			switch {
			case noVars && len(vars) > 0:
				return core.BadRequest("var", "use either --var or --no-vars")
			case noVars:
				req.Variables = []core.Variable{}
			case len(vars) > 0:
				if req.Variables, err = parseVariables(vars); err != nil {
					return err
				}
			}
			v, err := a.pm.CreateVersion(ctx, promptID, req)
			if err != nil {
				return err
			}
			a.warnUndeclared(v.Content, v.Variables)
			return a.printVersion(v)
		},
	}
	f := cmd.Flags()
	f.StringVar(&base, "base", "", "Base version (number or id)")
	f.StringVar(&content, "content", "", "Template content")
	f.StringVar(&contentFile, "content-file", "", "Read content from file ('-' for stdin)")
	f.StringVar(&modelName, "model", "", "Model name")
	f.Float64Var(&temperature, "temperature", 0, "Sampling temperature")
	f.IntVar(&maxTokens, "max-tokens", 0, "Maximum output tokens")
	f.Float64Var(&topP, "top-p", 0, "Nucleus sampling")
	f.StringVar(&notes, "notes", "", "Release notes")
	f.StringArrayVar(&vars, "var", nil, "Variable name[:TYPE][!][=default] (repeatable, replaces inherited variables)")
	f.BoolVar(&noVars, "no-vars", false, "Create the version without variables")
	return cmd
}

func newVersionListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <prompt-id>",
		Short: "List versions of a prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vs, err := a.pm.Versions.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printVersions(vs)
		},
	}
}

func newVersionShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <prompt-id> <version>",
		Short: "Show one version (number or id)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.resolveVersion(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.printVersion(v)
		},
	}
}

func newPublishCmd(a *app) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "publish <prompt-id> <env> <version>",
		Short: "Publish a version (number or id) to an environment",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			v, err := a.resolveVersion(ctx, args[0], args[2])
			if err != nil {
				return err
			}
			req := publish.PublishRequest{PromptID: args[0], Environment: args[1], VersionID: v.ID, PublishedBy: a.actor}
			if cmd.Flags().Changed("notes") {
				req.Notes = &notes
			}
			pub, err := a.pm.Publish(ctx, req)
			if err != nil {
				return err
			}
			if a.json() {
				return a.printJSON(pub)
			}
			fmt.Fprintf(a.stdout, "Published version %d to %s (%s)\n", v.Version, pub.EnvironmentKey, pub.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Publication notes")
	return cmd
}

func newActiveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "active <prompt-id> <env>",
		Short: "Show the version currently published to an environment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := a.pm.GetActive(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if a.json() {
				return a.printJSON(view)
			}
			fmt.Fprintf(a.stdout, "Environment %s: version %d published %s by %s\n\n",
				view.Env, view.Version.Version, view.PublishedAt.Format(time.RFC3339), view.PublishedBy)
			fmt.Fprintln(a.stdout, view.Version.Content)
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <prompt-id> <env>",
		Short: "List publications of a prompt to an environment, newest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pubs, err := a.pm.Publications.History(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.printPublications(pubs)
		},
	}
}

// resolveVersion accepts a version number ("3" or "v3") or a version id.
func (a *app) resolveVersion(ctx context.Context, promptID, ref string) (*core.Version, error) {
	if n, err := strconv.Atoi(strings.TrimPrefix(ref, "v")); err == nil {
		return a.pm.Versions.GetByNumber(ctx, promptID, n)
	}
	return a.pm.Versions.Get(ctx, promptID, ref)
}

func (a *app) printVersion(v *core.Version) error {
	if a.json() {
		return a.printJSON(v)
	}
	w := a.table("PROPERTY", "VALUE")
	row(w, "ID", v.ID)
	row(w, "Version", v.Version)
	row(w, "Model", deref(v.ModelName))
	row(w, "Temperature", deref(v.Temperature))
	row(w, "Max tokens", deref(v.MaxTokens))
	row(w, "Top p", deref(v.TopP))
	row(w, "Notes", deref(v.Notes))
	row(w, "Created", v.CreatedAt.Format(time.RFC3339)+" by "+v.CreatedBy)
	for _, variable := range v.Variables {
		desc := string(variable.Type)
		if variable.Required {
			desc += ", required"
		}
		if variable.DefaultValue != nil {
			desc += ", default " + strconv.Quote(*variable.DefaultValue)
		}
		row(w, "Variable "+variable.Name, desc)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "\n%s\n", v.Content)
	return nil
}

func (a *app) printVersions(vs []*core.Version) error {
	if a.json() {
		return a.printJSON(vs)
	}
	w := a.table("VERSION", "ID", "MODEL", "CREATED BY", "CREATED", "NOTES")
	for _, v := range vs {
		row(w, v.Version, v.ID, deref(v.ModelName), v.CreatedBy, v.CreatedAt.Format(time.RFC3339), deref(v.Notes))
	}
	return w.Flush()
}

func (a *app) printPublications(pubs []*core.Publication) error {
	if a.json() {
		return a.printJSON(pubs)
	}
	w := a.table("ENV", "VERSION ID", "PUBLISHED", "BY", "NOTES")
	for _, p := range pubs {
		row(w, p.EnvironmentKey, p.PromptVersionID, p.PublishedAt.Format(time.RFC3339), p.PublishedBy, deref(p.Notes))
	}
	return w.Flush()
}
