package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"gemini/internal/adapters/export"
	"gemini/internal/app"
	"gemini/internal/config"
	"gemini/internal/records"
	"gemini/pkg/domain"
)

// RootCommand builds the gemini command tree.
func RootCommand() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "gemini",
		Short:         "GEMINI phenotyping data store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML config file (default ./gemini.yaml)")

	// withApp loads the configuration, builds the app and runs fn.
	withApp := func(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		a, err := app.New(cmd.Context(), cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()
		return fn(cmd.Context(), a)
	}

	root.AddCommand(
		migrateCommand(withApp),
		serveCommand(withApp),
		exportCommand(withApp),
		versionCommand(),
	)
	return root
}

type appRunner func(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error

func migrateCommand(run appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema and seed the taxonomies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Migrate(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s), %d taxonomy rows created\n", a.DB.Dialect.Name(), n)
				return nil
			})
		},
	}
}

func serveCommand(run appRunner) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(ctx context.Context, a *app.App) error {
				if addr != "" {
					a.Config.Server.Addr = addr
				}
				return a.Serve(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

type exportFlags struct {
	kind       string
	format     string
	out        string
	store      bool
	entity     string
	dataset    string
	experiment string
	season     string
	site       string
	from       string
	to         string
	limit      int
	timeout    time.Duration
}

func (f exportFlags) query() (records.Query, error) {
	q := records.Query{
		EntityName:     f.entity,
		DatasetName:    f.dataset,
		ExperimentName: f.experiment,
		SeasonName:     f.season,
		SiteName:       f.site,
		Limit:          f.limit,
	}
	var err error
	if f.from != "" {
		if q.From, err = time.Parse(domain.DateLayout, f.from); err != nil {
			return q, fmt.Errorf("--from: %w", err)
		}
	}
	if f.to != "" {
		if q.To, err = time.Parse(domain.DateLayout, f.to); err != nil {
			return q, fmt.Errorf("--to: %w", err)
		}
	}
	return q, nil
}

func exportCommand(run appRunner) *cobra.Command {
	var f exportFlags
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export one record view to a file or to object storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := domain.ParseRecordKind(f.kind)
			if err != nil {
				return err
			}
			format, err := export.ParseFormat(f.format)
			if err != nil {
				return err
			}
			q, err := f.query()
			if err != nil {
				return err
			}
			if f.store == (f.out != "") {
				return errors.New("exactly one of --out or --store is required")
			}
			return run(cmd, func(ctx context.Context, a *app.App) error {
				if f.store {
					return exportToStore(ctx, cmd.OutOrStdout(), a, kind, q, format, f.timeout)
				}
				return exportToFile(ctx, cmd.OutOrStdout(), a, kind, q, format, f.out)
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.kind, "kind", "", "record kind (sensor, trait, script, procedure, model, dataset)")
	fl.StringVar(&f.format, "format", string(export.FormatCSV), "output format (csv, ndjson)")
	fl.StringVar(&f.out, "out", "", "write to this local file (- for stdout)")
	fl.BoolVar(&f.store, "store", false, "write to object storage under the export prefix")
	fl.StringVar(&f.entity, "entity", "", "entity name filter")
	fl.StringVar(&f.dataset, "dataset", "", "dataset name filter")
	fl.StringVar(&f.experiment, "experiment", "", "experiment name filter")
	fl.StringVar(&f.season, "season", "", "season name filter")
	fl.StringVar(&f.site, "site", "", "site name filter")
	fl.StringVar(&f.from, "from", "", "first collection date (YYYY-MM-DD)")
	fl.StringVar(&f.to, "to", "", "last collection date (YYYY-MM-DD)")
	fl.IntVar(&f.limit, "limit", 0, "maximum number of records")
	fl.DurationVar(&f.timeout, "timeout", 10*time.Minute, "maximum time to wait for a stored export")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func exportToFile(ctx context.Context, stdout io.Writer, a *app.App, kind domain.RecordKind, q records.Query, format export.Format, out string) error {
	if out == "-" {
		_, err := export.Write(ctx, a.Recorder, kind, q, format, stdout)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	file, err := os.Create(out)
	if err != nil {
		return err
	}
	n, err := export.Write(ctx, a.Recorder, kind, q, format, file)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%d %s records written to %s\n", n, kind, out)
	return nil
}

func exportToStore(ctx context.Context, stdout io.Writer, a *app.App, kind domain.RecordKind, q records.Query, format export.Format, timeout time.Duration) error {
	a.Exports.Start()
	defer func() { _ = a.Exports.Stop(context.Background()) }()

	job, err := a.Exports.Enqueue(ctx, export.Input{Kind: kind, Query: q, Formats: []export.Format{format}, RequestedBy: "cli"})
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done, err := a.Exports.Wait(wctx, job.ID)
	if err != nil {
		return err
	}
	for _, art := range done.Artifacts {
		fmt.Fprintf(stdout, "%d %s records stored at %s\n", art.Rows, kind, art.Key)
		if art.URL != "" {
			fmt.Fprintln(stdout, art.URL)
		}
	}
	return nil
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "gemini", version)
		},
	}
}
