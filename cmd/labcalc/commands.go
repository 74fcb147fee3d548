package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"labcore/internal/blob"
	"labcore/internal/core"
	"labcore/internal/engine"
	"labcore/internal/schema"
	"labcore/pkg/domain"
)

type app struct {
	stdin          io.Reader
	stdout, stderr io.Writer

	verbose     bool
	noArchive   bool
	showMetrics bool

	logger  *zap.Logger
	metrics *prometheus.Registry
	svc     *core.Service
	ledger  domain.RevisionStore
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{stdin: stdin, stdout: stdout, stderr: stderr}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "labcalc",
		Short:         "Evaluate construction materials test records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setupLogger()
		},
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	flags := root.PersistentFlags()
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&a.noArchive, "no-archive", false, "skip archiving report JSON for finalized revisions")
	flags.BoolVar(&a.showMetrics, "metrics", false, "print operation metrics to stderr on exit")

	root.AddCommand(
		a.typesCmd(),
		a.describeCmd(),
		a.computeCmd(),
		a.submitCmd(),
		a.amendCmd(),
		a.historyCmd(),
	)
	return root
}

func (a *app) setupLogger() error {
	cfg := zap.NewProductionConfig()
	if a.verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	a.logger = logger
	return nil
}

// engine builds a calculation engine over the embedded catalog and the
// overrides in LABCORE_CATALOG_DIR.
func (a *app) engine() (*engine.Engine, error) {
	reg, err := schema.NewRegistryFromEnv()
	if err != nil {
		return nil, err
	}
	return engine.New(reg), nil
}

// service opens the ledger and archive on first use.
func (a *app) service(cmd *cobra.Command) (*core.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	eng, err := a.engine()
	if err != nil {
		return nil, err
	}
	ledger, err := core.OpenRevisionStore()
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	a.ledger = ledger
	a.metrics = prometheus.NewRegistry()
	recorder, err := core.NewPrometheusMetricsRecorder(a.metrics)
	if err != nil {
		return nil, err
	}
	opts := []core.Option{core.WithLogger(a.logger), core.WithMetrics(recorder)}
	if !a.noArchive {
		archive, err := blob.Open(cmd.Context())
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		opts = append(opts, core.WithArchive(archive))
	}
	a.svc = core.NewService(eng, ledger, opts...)
	return a.svc, nil
}

// close releases whatever the command opened. It runs after failed commands
// too, so every field may still be nil.
func (a *app) close() error {
	var errs []error
	if a.showMetrics && a.metrics != nil {
		errs = append(errs, a.writeMetrics())
	}
	if a.ledger != nil {
		errs = append(errs, a.ledger.Close())
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}

func (a *app) writeMetrics() error {
	families, err := a.metrics.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(a.stderr, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

func (a *app) typesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List registered test types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.engine()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			for _, id := range eng.Registry().IDs() {
				s, err := eng.Schema(id)
				if err != nil {
					return err
				}
				def := s.Definition()
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", id, def.Title, def.Standard)
			}
			return tw.Flush()
		},
	}
}

func (a *app) describeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <test-type>",
		Short: "Print the schema of a test type as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine()
			if err != nil {
				return err
			}
			s, err := eng.Schema(domain.TestTypeID(args[0]))
			if err != nil {
				return err
			}
			out, err := schema.Encode(s.Definition())
			if err != nil {
				return err
			}
			_, err = a.stdout.Write(out)
			return err
		},
	}
}

type computeOutput struct {
	Record   domain.TestRecord `json:"record"`
	Rejected []core.Rejection  `json:"rejected,omitempty"`
}

func (a *app) computeCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "compute <test-type>",
		Short: "Compute a draft without finalizing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.readDraft(file)
			if err != nil {
				return err
			}
			eng, err := a.engine()
			if err != nil {
				return err
			}
			svc := core.NewService(eng, nil, core.WithLogger(a.logger))
			rec, rejected, err := svc.Compute(cmd.Context(), domain.TestTypeID(args[0]), d)
			if err != nil {
				return err
			}
			return a.writeJSON(computeOutput{Record: rec, Rejected: rejected})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "draft JSON file, - for stdin")
	return cmd
}

func (a *app) submitCmd() *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "submit <test-type>",
		Short: "Finalize drafts as new records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(files) == 0 {
				files = []string{"-"}
			}
			drafts := make([]core.Draft, len(files))
			for i, f := range files {
				d, err := a.readDraft(f)
				if err != nil {
					return err
				}
				drafts[i] = d
			}
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			out, err := svc.SubmitAll(cmd.Context(), domain.TestTypeID(args[0]), drafts)
			if err != nil {
				return err
			}
			return a.writeJSON(out)
		},
	}
	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "draft JSON files, - for stdin (repeatable)")
	return cmd
}

func (a *app) amendCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "amend <record-id>",
		Short: "Finalize the next revision of a record with corrected values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.readDraft(file)
			if err != nil {
				return err
			}
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			fin, err := svc.Amend(cmd.Context(), args[0], d)
			if err != nil {
				return err
			}
			return a.writeJSON(fin)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "draft JSON file with the corrected values, - for stdin")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <record-id>",
		Short: "Print every finalized revision of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			revs, err := svc.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.writeJSON(revs)
		},
	}
}

func (a *app) readDraft(path string) (core.Draft, error) {
	var r io.Reader = a.stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return core.Draft{}, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	var d core.Draft
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return core.Draft{}, fmt.Errorf("decode draft %s: %w", path, err)
	}
	return d, nil
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
