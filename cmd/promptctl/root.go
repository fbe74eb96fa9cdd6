package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	promptmanager "github.com/codragon2020/prompt-manager"
	"github.com/codragon2020/prompt-manager/config"
	"github.com/codragon2020/prompt-manager/core"
	"github.com/codragon2020/prompt-manager/logging"
)

// app is the state shared by all commands.
type app struct {
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader

	cfg    *config.Config
	logger *zap.Logger
	pm     *promptmanager.Manager

	output string
	actor  string
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "promptctl",
		Short: "Manage prompt versions, publications and bundles",
		Long: `promptctl manages prompts stored in PostgreSQL (PROMPT_DATABASE_URL).
Without a database URL every invocation runs against an empty in-memory store,
which is useful for validating bundles and templates.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "table", "Output format (table, json)")
	root.PersistentFlags().StringVar(&a.actor, "actor", "", "Attribution for changes (default PROMPT_ACTOR, $USER or cli)")

	root.AddCommand(
		newEnvCmd(a),
		newPromptCmd(a),
		newVersionCmd(a),
		newPublishCmd(a),
		newActiveCmd(a),
		newHistoryCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newDiffCmd(a),
		newRenderCmd(a),
		newArchiveCmd(a),
	)
	return root
}

// open loads configuration and wires the manager unless a test already did.
func (a *app) open(cmd *cobra.Command) error {
	switch a.output {
	case "table", "json":
	default:
		return core.BadRequest("output", "output must be table or json, got %q", a.output)
	}
	if a.pm != nil {
		if a.actor == "" {
			a.actor = "cli"
		}
		return nil
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger("promptctl", cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	pm, err := promptmanager.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	a.cfg, a.logger, a.pm = cfg, logger, pm
	if a.actor == "" {
		a.actor = cfg.Actor
	}
	return nil
}

func (a *app) close() {
	if a.pm != nil {
		if err := a.pm.Close(); err != nil && a.logger != nil {
			a.logger.Warn("close", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func (a *app) json() bool {
	return a.output == "json"
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) table(headers ...any) *tabwriter.Writer {
	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	row(w, headers...)
	return w
}

func row(w io.Writer, cols ...any) {
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, c)
	}
	fmt.Fprintln(w)
}

// exitCode maps error kinds to process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return 3
	case errors.Is(err, core.ErrBadRequest):
		return 2
	default:
		return 1
	}
}

func deref[T any](p *T) any {
	if p == nil {
		return "-"
	}
	return *p
}
