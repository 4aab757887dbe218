package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jjhbw/GoMINLP/lpnlp"
	"github.com/jjhbw/GoMINLP/model"
)

type solveOptions struct {
	modelPath   string
	configPath  string
	logLevel    string
	logFormat   string
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "gominlp",
		Short:        "LP/NLP branch and bound for mixed-integer nonlinear programs",
		SilenceUsage: true,
	}
	root.AddCommand(newSolveCmd(), newConfigCmd())
	return root
}

func newSolveCmd() *cobra.Command {
	opts := &solveOptions{}
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Solve a model and print the result as YAML",
		Long: `Solves the model in the given YAML file with LP/NLP based branch and bound.

Examples:
  gominlp solve --model plant.yaml
  gominlp solve --model plant.yaml --config oa.yaml --log-level debug
  gominlp solve --model plant.yaml --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runSolve(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.modelPath, "model", "m", "", "model file (YAML)")
	flags.StringVarP(&opts.configPath, "config", "c", "", "solver configuration file (YAML); defaults are used when empty")
	flags.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	flags.StringVar(&opts.logFormat, "log-format", "text", "text or json")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while solving")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the default solver configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(lpnlp.DefaultConfig())
		},
	}
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

func runSolve(ctx context.Context, opts *solveOptions, stdout, stderr io.Writer) error {
	logger, err := newLogger(stderr, opts.logLevel, opts.logFormat)
	if err != nil {
		return err
	}

	cfg := lpnlp.DefaultConfig()
	if opts.configPath != "" {
		if cfg, err = lpnlp.LoadConfig(opts.configPath); err != nil {
			return err
		}
	}

	f, err := os.Open(opts.modelPath)
	if err != nil {
		return err
	}
	defer f.Close()
	m, err := model.Decode(f)
	if err != nil {
		return fmt.Errorf("%s: %w", opts.modelPath, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	solverOpts := []lpnlp.Option{
		lpnlp.WithLogger(logger),
		lpnlp.WithMetrics(lpnlp.NewMetrics(reg)),
	}

	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:    opts.metricsAddr,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	res, solveErr := lpnlp.Solve(ctx, m, cfg, solverOpts...)
	if res != nil {
		enc := yaml.NewEncoder(stdout)
		if err := enc.Encode(res); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
	}
	return solveErr
}
