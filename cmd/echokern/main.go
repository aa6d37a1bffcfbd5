// Command echokern is the operator CLI for the echokern cognitive kernel.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/sbl8/echokern/bootstrap"
	"github.com/sbl8/echokern/config"
	"github.com/sbl8/echokern/logging"
	"github.com/sbl8/echokern/metrics"
)

// Version information (set at build time)
var version = "dev"

// app carries the state shared by every subcommand.
type app struct {
	configPath  string
	logLevel    string
	logFormat   string
	metricsAddr string
	traceOut    string

	cfg      *config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	cleanup []func(context.Context) error
}

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "echokern",
		Short: "echokern - cognitive kernel runtime",
		Long: titleStyle.Render("echokern") + `

Boots and exercises the cognitive kernel:
• memory arena and tensor buffers
• hypergraph store and priority scheduler
• atoms, attention and truth values
• echo-state reservoirs

` + dimStyle.Render("Use 'echokern [command] --help' for more information."),
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default: built-in defaults, no file)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level override: trace, debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "", "log format override: console, json")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while the command runs")
	flags.StringVar(&a.traceOut, "trace", "none", "span exporter: none, stdout")

	root.AddCommand(
		newBootCmd(a),
		newDemoCmd(a),
		newBenchCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration and wires logging, metrics and tracing.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	var err error
	if a.configPath != "" {
		a.cfg, err = config.LoadFromPath(a.configPath)
		if err != nil {
			return err
		}
	} else {
		a.cfg = config.Default()
	}
	if a.logLevel != "" {
		a.cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		a.cfg.Logging.Format = a.logFormat
	}
	if a.metricsAddr != "" {
		a.cfg.Metrics.Enabled = true
		a.cfg.Metrics.Addr = a.metricsAddr
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	if a.cfg.Logging.Level != "" {
		logCfg.Level = a.cfg.Logging.Level
	}
	if a.cfg.Logging.Format != "" {
		logCfg.Format = a.cfg.Logging.Format
	}
	logCfg.Output = cmd.ErrOrStderr()
	a.log = logging.New(logCfg)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)
	if a.cfg.Metrics.Enabled {
		if err := a.serveMetrics(a.cfg.Metrics.Addr); err != nil {
			return err
		}
	}

	tracer, shutdown, err := newTracer(a.traceOut, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.tracer = tracer
	if shutdown != nil {
		a.cleanup = append(a.cleanup, shutdown)
	}
	return nil
}

func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	a.log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	a.cleanup = append(a.cleanup, srv.Shutdown)
	return nil
}

func (a *app) teardown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		if err := a.cleanup[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.cleanup = nil
	return errors.Join(errs...)
}

// newKernel builds a kernel from the loaded configuration.
func (a *app) newKernel() *bootstrap.Kernel {
	opts := bootstrap.FromConfig(a.cfg, a.log, a.metrics)
	opts.Tracer = a.tracer
	return bootstrap.New(opts)
}
