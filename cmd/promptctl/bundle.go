package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codragon2020/prompt-manager/bundle"
	"github.com/codragon2020/prompt-manager/core"
	"github.com/codragon2020/prompt-manager/diff"
	"github.com/codragon2020/prompt-manager/importer"
	"github.com/codragon2020/prompt-manager/template"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		file      string
		format    string
		toArchive bool
	)
	cmd := &cobra.Command{
		Use:   "export <prompt-id>",
		Short: "Export a prompt with its versions and publications as a bundle",
		Example: `promptctl export <prompt-id> -f greeting.yaml
promptctl export <prompt-id> --archive`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if toArchive {
				key, err := a.pm.ArchiveExport(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, key)
				return nil
			}
			f := bundle.FormatJSON
			if file != "" && file != "-" {
				f = bundle.FormatFromPath(file)
			}
			if cmd.Flags().Changed("format") {
				parsed, err := bundle.ParseFormat(format)
				if err != nil {
					return err
				}
				f = parsed
			}
			b, err := a.pm.Export(ctx, args[0])
			if err != nil {
				return err
			}
			data, err := bundle.Encode(b, f)
			if err != nil {
				return err
			}
			if file == "" || file == "-" {
				_, err = a.stdout.Write(data)
				return err
			}
			if err := os.WriteFile(file, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", file, err)
			}
			fmt.Fprintf(a.stderr, "Exported %d versions to %s\n", len(b.Versions), file)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Write to file instead of stdout")
	cmd.Flags().StringVar(&format, "format", "json", "Bundle format (json, yaml); defaults to the file extension")
	cmd.Flags().BoolVar(&toArchive, "archive", false, "Save the bundle to the configured archive and print its key")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var (
		mode        string
		fromArchive string
	)
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import a JSON or YAML bundle",
		Long: `Imports a bundle. In create mode a new prompt is always created. In merge
mode the bundle's prompt id is updated in place (or created, or restored if it
was deleted) and only missing version numbers are added. Publications are
never imported.`,
		Example: `promptctl import greeting.yaml
promptctl import --mode merge - < greeting.json
promptctl import --from-archive bundles/<prompt-id>/20250101T000000.000000000Z.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := importer.ParseMode(mode)
			if err != nil {
				return err
			}
			var b *bundle.Bundle
			switch {
			case fromArchive != "" && len(args) > 0:
				return core.BadRequest("from-archive", "use either a file or --from-archive")
			case fromArchive != "":
				if a.pm.Archive == nil {
					return core.BadRequest("archive", "no bundle archive is configured")
				}
				if b, err = a.pm.Archive.Load(ctx, fromArchive); err != nil {
					return err
				}
			case len(args) == 1:
				data, err := a.readFile(args[0])
				if err != nil {
					return err
				}
				if b, err = bundle.Parse(data); err != nil {
					return err
				}
			default:
				return core.BadRequest("file", "a bundle file or --from-archive is required")
			}
			res, err := a.pm.Import(ctx, b, m, a.actor)
			if err != nil {
				return err
			}
			if a.json() {
				return a.printJSON(res)
			}
			verb := "Updated"
			switch {
			case res.Created:
				verb = "Created"
			case res.Resurrected:
				verb = "Restored"
			}
			fmt.Fprintf(a.stdout, "%s prompt %s (%s): %d versions created %v, %d skipped\n",
				verb, res.Prompt.Name, res.Prompt.ID, len(res.VersionsCreated), res.VersionsCreated, res.VersionsSkipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(importer.ModeCreate), "Import mode (create, merge)")
	cmd.Flags().StringVar(&fromArchive, "from-archive", "", "Load the bundle from the archive key instead of a file")
	return cmd
}

func newDiffCmd(a *app) *cobra.Command {
	var stat bool
	cmd := &cobra.Command{
		Use:   "diff <prompt-id> <from> <to>",
		Short: "Show line differences between two versions (number or id)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			from, err := a.resolveVersion(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			to, err := a.resolveVersion(ctx, args[0], args[2])
			if err != nil {
				return err
			}
			lines, err := a.pm.Diff(ctx, args[0], from.ID, to.ID)
			if err != nil {
				return err
			}
			stats := diff.Summarize(lines)
			if a.json() {
				return a.printJSON(struct {
					From  int         `json:"from"`
					To    int         `json:"to"`
					Lines []diff.Line `json:"lines"`
					Stats diff.Stats  `json:"stats"`
				}{from.Version, to.Version, lines, stats})
			}
			if !stat {
				fmt.Fprint(a.stdout, diff.Unified(lines))
			}
			fmt.Fprintf(a.stdout, "v%d -> v%d: %d added, %d deleted, %d unchanged\n",
				from.Version, to.Version, stats.Added, stats.Deleted, stats.Equal)
			return nil
		},
	}
	cmd.Flags().BoolVar(&stat, "stat", false, "Only print the summary")
	return cmd
}

func newRenderCmd(a *app) *cobra.Command {
	var (
		sets    []string
		version string
	)
	cmd := &cobra.Command{
		Use:   "render <prompt-id> [env]",
		Short: "Render the active version of an environment, or a given version",
		Example: `promptctl render <prompt-id> prod --set name=World
promptctl render <prompt-id> --version 3 --set name=World`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			input, err := parseInput(sets)
			if err != nil {
				return err
			}
			var out string
			switch {
			case version != "" && len(args) == 2:
				return core.BadRequest("version", "use either an environment or --version")
			case version != "":
				v, err := a.resolveVersion(ctx, args[0], version)
				if err != nil {
					return err
				}
				if out, err = template.Render(v.Content, v.Variables, input); err != nil {
					return err
				}
			case len(args) == 2:
				if out, err = a.pm.RenderActive(ctx, args[0], args[1], input); err != nil {
					return err
				}
			default:
				return core.BadRequest("env", "an environment or --version is required")
			}
			fmt.Fprintln(a.stdout, out)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Variable value key=value (repeatable)")
	cmd.Flags().StringVar(&version, "version", "", "Render this version (number or id)")
	return cmd
}

func newArchiveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect archived bundles (PROMPT_ARCHIVE_DIR or PROMPT_ARCHIVE_S3_BUCKET)",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd); err != nil {
				return err
			}
			if a.pm.Archive == nil {
				return core.BadRequest("archive", "no bundle archive is configured")
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list [prompt-id]",
		Short: "List archive keys, oldest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			promptID := ""
			if len(args) == 1 {
				promptID = args[0]
			}
			keys, err := a.pm.Archive.List(cmd.Context(), promptID)
			if err != nil {
				return err
			}
			if a.json() {
				return a.printJSON(keys)
			}
			if len(keys) > 0 {
				fmt.Fprintln(a.stdout, strings.Join(keys, "\n"))
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <key>",
		Short: "Print an archived bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.pm.Archive.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := bundle.Encode(b, bundle.FormatJSON)
			if err != nil {
				return err
			}
			_, err = a.stdout.Write(data)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <key>",
		Short: "Delete an archived bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.pm.Archive.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Deleted %s\n", args[0])
			return nil
		},
	})
	return cmd
}
