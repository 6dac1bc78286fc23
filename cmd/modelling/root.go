package main

import (
	"context"
	"fmt"
	"io"

	"github.com/YuminosukeSato/mlproject/config"
	"github.com/YuminosukeSato/mlproject/dataset"
	"github.com/YuminosukeSato/mlproject/evaluation"
	"github.com/YuminosukeSato/mlproject/harness"
	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"github.com/YuminosukeSato/mlproject/pkg/log"
	"github.com/YuminosukeSato/mlproject/registry"
	"github.com/YuminosukeSato/mlproject/report"
	"github.com/YuminosukeSato/mlproject/tracking"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type options struct {
	modelType   string
	configPath  string
	dataPath    string
	trackingURI string
	experiment  string
	outputDir   string
	logLevel    string
	logFormat   string
	chart       bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "modelling",
		Short: "Train and compare heart disease classifiers with experiment tracking",
		Long: "modelling trains the configured classifiers on the train partition of the\n" +
			"pre-processed heart disease dataset, evaluates them on the test partition,\n" +
			"records each run in the tracking store and writes a ranked comparison.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			known := registry.Names()
			for _, n := range known {
				if n == opts.modelType {
					return nil
				}
			}
			return errors.Wrapf(errors.NewUnknownModelError(opts.modelType, known),
				"invalid --model_type (choose from %s)", quoteList(known))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			if err := setupLogging(stderr, cfg.LogLevel, opts.logFormat); err != nil {
				return err
			}
			return run(cmd.Context(), stdout, opts.modelType, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.modelType, "model_type", registry.SelectAll,
		"model to train: "+quoteList(registry.Names()))
	f.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	f.StringVar(&opts.dataPath, "data", "", "pre-processed CSV (overrides data.path)")
	f.StringVar(&opts.trackingURI, "tracking-uri", "", "tracking store: path, file:// or sqlite:/// URI")
	f.StringVar(&opts.experiment, "experiment", "", "experiment name")
	f.StringVar(&opts.outputDir, "output-dir", "", "directory for the comparison files")
	f.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	f.StringVar(&opts.logFormat, "log-format", "json", "json or console")
	f.BoolVar(&opts.chart, "chart", false, "also render model_comparison_results.png")

	_ = cmd.RegisterFlagCompletionFunc("model_type",
		func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return registry.Names(), cobra.ShellCompDirectiveNoFileComp
		})
	return cmd
}

// resolveConfig loads the config file, then applies the flags that were set
// explicitly.
func resolveConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	override := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	override("data", &cfg.Data.Path, opts.dataPath)
	override("tracking-uri", &cfg.Tracking.URI, opts.trackingURI)
	override("experiment", &cfg.Tracking.Experiment, opts.experiment)
	override("output-dir", &cfg.Output.Dir, opts.outputDir)
	override("log-level", &cfg.LogLevel, opts.logLevel)
	if flags.Changed("chart") {
		cfg.Output.Chart = opts.chart
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(w io.Writer, level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	if err := log.SetupLoggerTo(w, level); err != nil {
		return err
	}
	switch format {
	case "json":
	case "console":
		w = zerolog.ConsoleWriter{Out: w, NoColor: true}
	default:
		return errors.NewValidationError("log-format", "must be json or console", format)
	}
	log.SetProvider(log.NewZerologProvider(w, lvl))
	log.RouteWarnings(log.GetLoggerWithName("warnings"))
	return nil
}

func run(ctx context.Context, stdout io.Writer, modelType string, cfg *config.Config) error {
	logger := log.GetLoggerWithName("modelling")

	configs, err := registry.ApplyOverrides(registry.Default(), cfg.Overrides())
	if err != nil {
		return err
	}
	configs, err = registry.Select(configs, modelType)
	if err != nil {
		return err
	}

	banner(stdout,
		"MACHINE LEARNING MODEL TRAINING WITH EXPERIMENT TRACKING",
		"Dataset: "+cfg.Data.Path,
		"Model Type: "+modelType,
	)

	logger.Info("loading dataset", log.DataPathKey, cfg.Data.Path, log.PhaseKey, log.PhaseLoading)
	split, err := dataset.Load(cfg.Data.Path, dataset.Options{
		TargetColumn: cfg.Data.TargetColumn,
		SplitColumn:  cfg.Data.SplitColumn,
		TrainLabel:   cfg.Data.TrainLabel,
		TestLabel:    cfg.Data.TestLabel,
	})
	if err != nil {
		return err
	}

	store, err := tracking.OpenStore(cfg.Tracking.URI)
	if err != nil {
		return err
	}
	defer store.Close()
	client, err := tracking.NewClient(ctx, store, cfg.Tracking.Experiment)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Tracking URI: %s\n", client.TrackingURI())
	fmt.Fprintf(stdout, "Experiment Name: %s\n", client.Experiment().Name)

	ev := evaluation.New(split.Classes, evaluation.WithDiagnostics(stdout))
	h := harness.New(client, ev,
		harness.WithOutput(stdout),
		harness.WithTags(map[string]string{
			harness.TagDataset:       cfg.Data.Path,
			harness.TagModelSelector: modelType,
		}),
	)
	rows := h.Run(ctx, split, configs)

	fmt.Fprintln(stdout)
	reporter := report.New(cfg.Output.Dir, report.WithOutput(stdout), report.WithChart(cfg.Output.Chart))
	ok, err := reporter.Write(rows)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(stdout, "No models were trained successfully!")
	}

	fmt.Fprintln(stdout)
	banner(stdout,
		"TRAINING COMPLETED!",
		"To view the runs, run:",
		"  mlflow ui --backend-store-uri "+client.TrackingURI(),
	)
	return nil
}
