package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/codragon2020/prompt-manager/catalog"
	"github.com/codragon2020/prompt-manager/core"
	"github.com/codragon2020/prompt-manager/template"
)

func newEnvCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Commands for managing environments",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List environments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			envs, err := a.pm.Publications.Environments(cmd.Context())
			if err != nil {
				return err
			}
			return a.printEnvironments(envs)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "seed [key[:Name]...]",
		Short: "Create or rename environments",
		Long:  `Creates the given environments, or the PROMPT_ENVIRONMENTS list when none are given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var envs []core.Environment
			for _, arg := range args {
				key, name, _ := strings.Cut(arg, ":")
				envs = append(envs, core.Environment{Key: key, Name: name})
			}
			if len(args) == 0 && a.cfg != nil {
				list, err := a.cfg.EnvironmentList()
				if err != nil {
					return err
				}
				envs = list
			}
			out, err := a.pm.Publications.EnsureEnvironments(cmd.Context(), envs)
			if err != nil {
				return err
			}
			return a.printEnvironments(out)
		},
	})
	return cmd
}

func (a *app) printEnvironments(envs []*core.Environment) error {
	if a.json() {
		return a.printJSON(envs)
	}
	w := a.table("KEY", "NAME", "ID")
	for _, e := range envs {
		row(w, e.Key, e.Name, e.ID)
	}
	return w.Flush()
}

func newPromptCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Commands for managing prompts",
		Example: `promptctl prompt create --name greeter --content 'Hello {{name}}' --var 'name!'
promptctl prompt list --tag support
promptctl prompt show <prompt-id>
promptctl prompt delete <prompt-id>`,
	}
	cmd.AddCommand(newPromptCreateCmd(a), newPromptListCmd(a), newPromptShowCmd(a), newPromptUpdateCmd(a), newPromptDeleteCmd(a))
	return cmd
}

func newPromptCreateCmd(a *app) *cobra.Command {
	var (
		req         catalog.CreateRequest
		status      string
		content     string
		contentFile string
		vars        []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a prompt with its first version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, _, err := a.readContent(content, contentFile)
			if err != nil {
				return err
			}
			variables, err := parseVariables(vars)
			if err != nil {
				return err
			}
			a.warnUndeclared(text, variables)
			req.Status = core.Status(strings.ToUpper(status))
			req.InitialVersion.Content = text
			req.InitialVersion.Variables = variables
			req.Actor = a.actor
			d, err := a.pm.Catalog.Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.printDetail(d)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "Prompt name")
	f.StringVar(&req.Description, "description", "", "Description")
	f.StringVar(&req.OwnerTeam, "owner-team", "", "Owning team")
	f.StringVar(&status, "status", "", "ACTIVE or ARCHIVED")
	f.StringArrayVar(&req.Tags, "tag", nil, "Tag (repeatable)")
	f.StringVar(&content, "content", "", "Template content of version 1")
	f.StringVar(&contentFile, "content-file", "", "Read content from file ('-' for stdin)")
	f.StringArrayVar(&vars, "var", nil, "Variable name[:TYPE][!][=default] (repeatable, ! = required)")
	return cmd
}

func newPromptListCmd(a *app) *cobra.Command {
	var q catalog.Query
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List prompts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := a.pm.Catalog.List(cmd.Context(), q)
			if err != nil {
				return err
			}
			if a.json() {
				return a.printJSON(page)
			}
			w := a.table("ID", "NAME", "STATUS", "TAGS", "UPDATED")
			for _, p := range page.Items {
				row(w, p.ID, p.Name, p.Status, strings.Join(p.Tags, ","), p.UpdatedAt.Format(time.RFC3339))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "\nPage %d, %d of %d prompts.\n", page.Page, len(page.Items), page.Total)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&q.Q, "query", "q", "", "Match name, description or any version content")
	f.StringVar(&q.Tag, "tag", "", "Only prompts with this tag")
	f.StringVar(&q.Env, "env", "", "Only prompts published to this environment")
	f.StringVar(&q.Sort, "sort", "updatedAt", "updatedAt or createdAt")
	f.StringVar(&q.Order, "order", "desc", "asc or desc")
	f.IntVar(&q.Page, "page", 1, "Page number")
	f.IntVarP(&q.PageSize, "page-size", "p", catalog.DefaultPageSize, "Items per page (max 100)")
	return cmd
}

func newPromptShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <prompt-id>",
		Short: "Show a prompt with its versions and publications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.pm.Catalog.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printDetail(d)
		},
	}
}

func newPromptUpdateCmd(a *app) *cobra.Command {
	var (
		name, description, ownerTeam, status string
		tags                                 []string
	)
	cmd := &cobra.Command{
		Use:   "update <prompt-id>",
		Short: "Update prompt metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req catalog.UpdateRequest
			f := cmd.Flags()
			if f.Changed("name") {
				req.Name = &name
			}
			if f.Changed("description") {
				req.Description = &description
			}
			if f.Changed("owner-team") {
				req.OwnerTeam = &ownerTeam
			}
			if f.Changed("status") {
				s := core.Status(strings.ToUpper(status))
				req.Status = &s
			}
			if f.Changed("tag") {
				req.Tags = append([]string{}, tags...)
			}
			d, err := a.pm.Catalog.Update(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			return a.printDetail(d)
		},
	}
	f := cmd.Flags()
	f.StringVar(&name, "name", "", "New name")
	f.StringVar(&description, "description", "", "New description (empty clears)")
	f.StringVar(&ownerTeam, "owner-team", "", "New owning team (empty clears)")
	f.StringVar(&status, "status", "", "ACTIVE or ARCHIVED")
	f.StringArrayVar(&tags, "tag", nil, "Replace tags (repeatable; --tag '' clears)")
	return cmd
}

func newPromptDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <prompt-id>",
		Short: "Soft-delete a prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.pm.Catalog.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Deleted prompt %s\n", args[0])
			return nil
		},
	}
}

func (a *app) printDetail(d *catalog.Detail) error {
	if a.json() {
		return a.printJSON(d)
	}
	p := d.Prompt
	w := a.table("PROPERTY", "VALUE")
	row(w, "ID", p.ID)
	row(w, "Name", p.Name)
	row(w, "Description", deref(p.Description))
	row(w, "Owner team", deref(p.OwnerTeam))
	row(w, "Status", p.Status)
	row(w, "Tags", strings.Join(p.Tags, ","))
	row(w, "Created", p.CreatedAt.Format(time.RFC3339))
	row(w, "Updated", p.UpdatedAt.Format(time.RFC3339))
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout)
	if err := a.printVersions(d.Versions); err != nil {
		return err
	}
	if len(d.Publications) > 0 {
		fmt.Fprintln(a.stdout)
		return a.printPublications(d.Publications)
	}
	return nil
}

func (a *app) warnUndeclared(content string, vars []core.Variable) {
	if names := template.Undeclared(content, vars); len(names) > 0 {
		fmt.Fprintf(a.stderr, "Warning: placeholders without a declared variable: %s\n", strings.Join(names, ", "))
	}
}
