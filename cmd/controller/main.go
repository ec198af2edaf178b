package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/mutation-controller/internal/config"
	"github.com/danielpatrickdp/mutation-controller/internal/engine"
	"github.com/danielpatrickdp/mutation-controller/internal/logging"
	"github.com/danielpatrickdp/mutation-controller/internal/mutator"
	"github.com/danielpatrickdp/mutation-controller/internal/simclient"
	"github.com/danielpatrickdp/mutation-controller/internal/state"
)

// #region main
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

// exitCode maps malformed caller input to 2 and any other failure to 1.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case engine.IsMalformed(err):
		fmt.Fprintln(os.Stderr, "malformed input:", err)
		return 2
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
}

// #endregion main

// #region root
type cli struct {
	out        io.Writer
	configPath string
	logLevel   string
	jsonOut    bool

	cfg config.Config
	log *zap.Logger
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}
	root := &cobra.Command{
		Use:           "controller",
		Short:         "Risk-gated self-mutation controller",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			if c.logLevel != "" {
				cfg.Log.Level = c.logLevel
			}
			c.cfg = cfg
			c.log, err = logging.New(cfg.Log.Level, cfg.Log.Format)
			return err
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.log != nil {
				_ = c.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", os.Getenv("MUTCTL_CONFIG"), "path to a YAML config file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override the configured log level")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", true, "print results as JSON")

	root.AddCommand(
		c.runCmd(),
		c.evaluateCmd(),
		c.forceCmd(),
		c.forkCmd(),
		c.routeCmd(),
		c.overrideCmd(),
		c.topForksCmd(),
		c.simServerCmd(),
	)
	return root
}

// withApp builds the controller for one command and tears it down after.
func (c *cli) withApp(ctx context.Context, fn func(*app) error) error {
	a, err := build(ctx, c.cfg, c.log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			c.log.Warn("close", zap.Error(err))
		}
	}()
	return fn(a)
}

func (c *cli) print(v any) error {
	if !c.jsonOut {
		_, err := fmt.Fprintf(c.out, "%+v\n", v)
		return err
	}
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion root

// #region run
func (c *cli) runCmd() *cobra.Command {
	var (
		cycles      int
		interval    time.Duration
		metricsAddr string
		quiet       bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run cognition cycles until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("cycles") {
				c.cfg.Engine.MaxCycles = cycles
			}
			if cmd.Flags().Changed("interval") {
				c.cfg.Engine.Interval = interval
			}
			if metricsAddr == "" {
				metricsAddr = c.cfg.MetricsAddr
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				if metricsAddr != "" {
					srv := serveMetrics(a, metricsAddr)
					defer srv.Close()
				}
				a.log.Info("controller started",
					zap.Int("max_cycles", c.cfg.Engine.MaxCycles),
					zap.Duration("interval", c.cfg.Engine.Interval),
					zap.String("lineage", c.cfg.Lineage.Backend))
				return a.engine.Run(cmd.Context(), func(rep engine.CycleReport) {
					if !quiet {
						_ = c.print(rep)
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&cycles, "cycles", 0, "stop after N cycles (0 = until interrupted)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "delay between cycles")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "do not print cycle reports")
	return cmd
}

func serveMetrics(a *app, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server", zap.Error(err))
		}
	}()
	a.log.Info("serving metrics", zap.String("addr", addr))
	return srv
}

// #endregion run

// #region single-shot
func (c *cli) evaluateCmd() *cobra.Command {
	var (
		emotion   string
		urgency   float64
		coherence float64
		cycle     int
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score one cognitive state and mutate if risk is high",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				rec, err := a.engine.EvaluateThought(cmd.Context(), cycle, state.Emotion(emotion), urgency, coherence)
				if err != nil {
					return err
				}
				return c.print(map[string]any{"accepted": rec != nil, "record": rec})
			})
		},
	}
	cmd.Flags().StringVar(&emotion, "emotion", "neutral", "emotion label")
	cmd.Flags().Float64Var(&urgency, "urgency", 0.5, "urgency in [0, 1]")
	cmd.Flags().Float64Var(&coherence, "coherence", 1, "coherence in [0, 1]")
	cmd.Flags().IntVar(&cycle, "cycle", 1, "cycle number")
	return cmd
}

func (c *cli) forceCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "force",
		Short: "Force a mutation regardless of risk",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				rec, err := a.engine.ForceMutation(cmd.Context(), reason)
				if err != nil {
					return err
				}
				return c.print(rec)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual_override", "reason recorded as the trigger")
	return cmd
}

func (c *cli) forkCmd() *cobra.Command {
	var mood string
	cmd := &cobra.Command{
		Use:   "fork",
		Short: "Run one fork cycle over the current forecast",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				f, err := a.forecast.Forecast(cmd.Context())
				if err != nil {
					return err
				}
				res, err := a.engine.RunForkCycle(cmd.Context(), engine.ForkInputs{Cycle: 1, Mood: state.Emotion(mood), Forecast: f})
				if err != nil {
					return err
				}
				return c.print(res)
			})
		},
	}
	cmd.Flags().StringVar(&mood, "mood", "neutral", "mood biasing the perturbation")
	return cmd
}

func (c *cli) routeCmd() *cobra.Command {
	var in mutator.Inputs
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Dispatch one set of signals through the mutation router",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				res, err := a.engine.RouteCycle(cmd.Context(), 1, in)
				if err != nil {
					return err
				}
				return c.print(res)
			})
		},
	}
	cmd.Flags().StringVar(&in.Context, "context", "cli", "origin recorded with the decision")
	cmd.Flags().Float64Var(&in.Regret, "regret", 0, "regret in [0, 1]")
	cmd.Flags().Float64Var(&in.Coherence, "coherence", 1, "coherence in [0, 1]")
	cmd.Flags().Float64Var(&in.Curiosity, "curiosity", 0, "curiosity in [0, 1]")
	cmd.Flags().IntVar(&in.Forks, "forks", 0, "active fork count")
	return cmd
}

func (c *cli) overrideCmd() *cobra.Command {
	var patch, live, origin string
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Put a patch to a shadow-agent vote against the live strategy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if patch == "" {
				return fmt.Errorf("--patch is required: %w", state.ErrMalformedInput)
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				d, err := a.shadow.RunOverrideCheck(cmd.Context(), patch, live, origin)
				if err != nil {
					return err
				}
				return c.print(d)
			})
		},
	}
	cmd.Flags().StringVar(&patch, "patch", "", "candidate patch strategy")
	cmd.Flags().StringVar(&live, "live", "live_strategy", "strategy currently live")
	cmd.Flags().StringVar(&origin, "context", "cli", "origin recorded with the decision")
	return cmd
}

func (c *cli) topForksCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "top-forks",
		Short: "List the best retained forks from the lineage store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				return c.print(a.tracker.TopForks(limit))
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "how many forks to list")
	return cmd
}

// #endregion single-shot

// #region sim-server
func (c *cli) simServerCmd() *cobra.Command {
	var (
		addr     string
		passRate float64
	)
	cmd := &cobra.Command{
		Use:   "sim-server",
		Short: "Serve the stochastic scenario simulator over gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			srv := grpc.NewServer()
			simclient.RegisterSimulatorServer(srv, simclient.NewStochasticSimulator(c.cfg.Seed, passRate))

			go func() {
				<-cmd.Context().Done()
				srv.GracefulStop()
			}()
			c.log.Info("simulator listening", zap.String("addr", lis.Addr().String()), zap.Float64("pass_rate", passRate))
			if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "listen address")
	cmd.Flags().Float64Var(&passRate, "pass-rate", 0.72, "probability a candidate passes")
	return cmd
}

// #endregion sim-server
