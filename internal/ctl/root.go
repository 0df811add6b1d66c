// Package ctl implements the rerankctl command tree. Every subcommand is a
// synchronous, single-shot invocation; state lives on disk and in the OS.
package ctl

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"rerankctl/internal/bench"
	"rerankctl/internal/client"
	"rerankctl/internal/config"
	"rerankctl/internal/mockapi"
	"rerankctl/internal/supervisor"
)

var version = "dev"

type rootOpts struct {
	configFile string
	logLevel   string
	log        zerolog.Logger
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error", "err":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// resolveConfig layers defaults, optional config file, then environment.
func (o *rootOpts) resolveConfig() (config.ServiceConfig, error) {
	cfg := config.Default()
	if o.configFile != "" {
		var err error
		cfg, err = config.LoadFile(cfg, o.configFile)
		if err != nil {
			return cfg, err
		}
	}
	return config.FromEnv(cfg)
}

func (o *rootOpts) supervisor() (*supervisor.Supervisor, config.ServiceConfig, error) {
	cfg, err := o.resolveConfig()
	if err != nil {
		return nil, cfg, err
	}
	return supervisor.New(cfg, supervisor.WithLogger(o.log)), cfg, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOpts{}
	root := &cobra.Command{
		Use:           "rerankctl",
		Short:         "Control and exercise a local vLLM reranker service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Optional config file (yaml|json|toml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", envStr("RERANKCTL_LOG_LEVEL", "info"), "Log level: debug|info|warn|error")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		opts.log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
			Level(parseLevel(opts.logLevel)).
			With().Timestamp().Logger()
	}

	root.AddCommand(
		newStartCmd(opts),
		newStopCmd(opts),
		newRestartCmd(opts),
		newStatusCmd(opts),
		newTailCmd(opts),
		newCfgCmd(opts),
		newScoreCmd(opts),
		newRerankCmd(opts),
		newBenchCmd(opts),
		newMockCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newStartCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the reranker service (no-op if already running)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := opts.supervisor()
			if err != nil {
				return err
			}
			rec, err := s.Start(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rerank service running: pid=%d log=%s\n", rec.PID, rec.LogFile)
			return nil
		},
	}
}

func newStopCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the reranker service (no-op if not running)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := opts.supervisor()
			if err != nil {
				return err
			}
			if err := s.Stop(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "rerank service stopped")
			return nil
		},
	}
}

func newRestartCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the reranker service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := opts.supervisor()
			if err != nil {
				return err
			}
			rec, err := s.Restart(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rerank service running: pid=%d log=%s\n", rec.PID, rec.LogFile)
			return nil
		},
	}
}

func newStatusCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the reranker service is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := opts.supervisor()
			if err != nil {
				return err
			}
			rec, running, err := s.Status()
			if err != nil {
				return err
			}
			if running {
				fmt.Fprintf(cmd.OutOrStdout(), "running: pid=%d log=%s\n", rec.PID, rec.LogFile)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "not running")
			}
			return nil
		},
	}
}

func newTailCmd(opts *rootOpts) *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the service log (Ctrl+C to stop)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := opts.supervisor()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := s.Tail(ctx, cmd.OutOrStdout(), lines); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&lines, "lines", supervisor.DefaultTailLines, "History lines to replay before following")
	return cmd
}

func newCfgCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "cfg",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolveConfig()
			if err != nil {
				return err
			}
			b, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the rerankctl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "rerankctl "+version)
		},
	}
}

// MainWithArgs runs the CLI and returns an exit code; testable variant of
// Main.
func MainWithArgs(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	return 0
}

// Main returns an exit code for use by cmd/rerankctl.
func Main() int { return MainWithArgs(os.Args[1:]) }

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newMockCmd(opts *rootOpts) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Run a deterministic local mock of the scoring endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolveConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = fmt.Sprintf("127.0.0.1:%d", cfg.Port)
			}
			ctx, stop := signalContext()
			defer stop()
			return mockapi.Serve(ctx, addr, opts.log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to 127.0.0.1:<configured port>)")
	return cmd
}

func newScoreCmd(opts *rootOpts) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "score <query> <document>...",
		Short: "Score documents against a query, preserving input order",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolveConfig()
			if err != nil {
				return err
			}
			c := client.FromService(cfg, timeout)
			scores, err := c.Score(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}
			for i, s := range scores {
				fmt.Fprintf(cmd.OutOrStdout(), "- score=%.4f | idx=%d | doc=%s\n", s, i, args[1+i])
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", client.DefaultTimeout, "Per-request deadline")
	return cmd
}

func newRerankCmd(opts *rootOpts) *cobra.Command {
	var timeout time.Duration
	var topN int
	cmd := &cobra.Command{
		Use:   "rerank <query> <document>...",
		Short: "Rank documents by relevance to a query",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolveConfig()
			if err != nil {
				return err
			}
			c := client.FromService(cfg, timeout)
			ranked, err := c.Rerank(cmd.Context(), args[0], args[1:], topN)
			if err != nil {
				return err
			}
			for _, r := range ranked {
				fmt.Fprintf(cmd.OutOrStdout(), "- rank=%d score=%.4f | idx=%d | doc=%s\n", r.Rank, r.Score, r.Index, r.Document)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", client.DefaultTimeout, "Per-request deadline")
	cmd.Flags().IntVar(&topN, "top-n", 0, "Return at most N results (0 = all)")
	return cmd
}

func newBenchCmd(opts *rootOpts) *cobra.Command {
	var (
		kind        string
		concurrency []int
		requests    int
		duration    time.Duration
		nDocs       int
		topN        int
		warmup      int
		timeout     time.Duration
		chartPath   string
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Stress the service with concurrent score/rerank requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolveConfig()
			if err != nil {
				return err
			}
			if len(concurrency) == 0 {
				concurrency = []int{50}
			}
			if err := (bench.Options{TotalRequests: requests, Duration: duration}).Validate(); err != nil {
				return err
			}
			c := client.FromService(cfg, timeout)
			var fn bench.RequestFunc
			switch kind {
			case "rerank":
				fn = func(ctx context.Context, q string, docs []string) error {
					ranked, err := c.Rerank(ctx, q, docs, topN)
					if err != nil {
						return err
					}
					if len(ranked) == 0 {
						return fmt.Errorf("empty rerank result")
					}
					return nil
				}
			case "score":
				fn = func(ctx context.Context, q string, docs []string) error {
					_, err := c.Score(ctx, q, docs)
					return err
				}
			default:
				return fmt.Errorf("unknown workload kind: %s (want rerank|score)", kind)
			}

			workload := bench.Generated(nDocs)
			warm := warmup
			for _, conc := range concurrency {
				res, err := bench.Run(cmd.Context(), opts.log, fn, workload, bench.Options{
					Concurrency:   conc,
					TotalRequests: requests,
					Duration:      duration,
					Warmup:        warm,
				})
				if err != nil {
					return err
				}
				warm = 0 // one warmup phase is enough for the whole sweep
				tag := fmt.Sprintf("%s | conc=%d", kind, conc)
				fmt.Fprintln(cmd.OutOrStdout(), res.Summary(tag))
				if chartPath != "" {
					p := chartPath
					if len(concurrency) > 1 {
						p = sweepChartPath(chartPath, conc)
					}
					if err := res.WriteChart(p, tag); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "latency chart written to %s\n", p)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "rerank", "Workload kind: rerank|score")
	cmd.Flags().IntSliceVar(&concurrency, "concurrency", []int{50}, "Concurrency levels to sweep, e.g. 1,8,32")
	cmd.Flags().IntVar(&requests, "requests", 0, "Total request bound (mutually exclusive with --duration)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Time bound (mutually exclusive with --requests)")
	cmd.Flags().IntVar(&nDocs, "docs", 16, "Documents per request")
	cmd.Flags().IntVar(&topN, "top-n", 10, "top_n for rerank workloads")
	cmd.Flags().IntVar(&warmup, "warmup", 2, "Serial warmup requests before measuring")
	cmd.Flags().DurationVar(&timeout, "timeout", client.DefaultTimeout, "Per-request deadline")
	cmd.Flags().StringVar(&chartPath, "chart", "", "Write an HTML latency chart to this path")
	return cmd
}

// sweepChartPath derives a per-level chart path, e.g. lat.html -> lat-c8.html.
func sweepChartPath(path string, conc int) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s-c%d%s", strings.TrimSuffix(path, ext), conc, ext)
}
