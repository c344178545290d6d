// Command gatekeeper wires the feature-access gate components together:
// configuration load, the consumer pool, the HTTP API, and the
// circuit-breaker loop, run as a coordinated oklog/run actor group
// (grounded on inhibit.Inhibitor.Run's use of run.Group).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/route"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/gatekeeper/gatekeeper/internal/api"
	"github.com/gatekeeper/gatekeeper/internal/config"
	"github.com/gatekeeper/gatekeeper/internal/consumer"
	"github.com/gatekeeper/gatekeeper/internal/grant"
	"github.com/gatekeeper/gatekeeper/internal/metrics"
	"github.com/gatekeeper/gatekeeper/internal/notifier"
	"github.com/gatekeeper/gatekeeper/internal/processor"
)

func main() {
	var (
		configFile    = kingpin.Flag("config.file", "Gatekeeper configuration file name.").Default("gatekeeper.yml").String()
		listenAddress = kingpin.Flag("web.listen-address", "Address to listen on for the HTTP API.").Default(":9095").String()
		numConsumers  = kingpin.Flag("consumers", "Number of event consumer workers. Overrides the config file's tunables.num_consumers when set.").Int()
		autoGOMAXPROCS = kingpin.Flag("auto-gomaxprocs", "Automatically set GOMAXPROCS to match the Linux container CPU quota.").Default("true").Bool()
		autoGOMEMLIMIT = kingpin.Flag("auto-gomemlimit", "Automatically set GOMEMLIMIT to match the Linux container or system memory limit.").Default("true").Bool()
	)
	kingpin.Version("gatekeeper, version development")
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if *autoGOMAXPROCS {
		if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
			logger.Info(fmt.Sprintf(format, args...))
		})); err != nil {
			logger.Warn("failed to set GOMAXPROCS", "err", err)
		}
	}
	if *autoGOMEMLIMIT {
		if _, err := memlimit.SetGoMemLimitWithOpts(memlimit.WithLogger(logger)); err != nil {
			logger.Warn("failed to set GOMEMLIMIT", "err", err)
		}
	}

	if err := run_(*configFile, *listenAddress, *numConsumers, logger); err != nil {
		logger.Error("gatekeeper exited with error", "err", err)
		os.Exit(1)
	}
}

func run_(configFile, listenAddress string, numConsumers int, logger *slog.Logger) error {
	raw, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	resolved, err := config.Build(raw)
	if err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if numConsumers > 0 {
		resolved.Tunables.NumConsumers = numConsumers
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	notif, err := notifier.New(resolved.Subscribers, logger)
	if err != nil {
		return fmt.Errorf("constructing notifier: %w", err)
	}

	grantSvc := grant.NewService(
		resolved.Features.List(), notif, m, logger,
		grant.WithWindow(resolved.Tunables.BreakerWindow),
		grant.WithPeriod(resolved.Tunables.BreakerPeriod),
		grant.WithThreshold(resolved.Tunables.DenialThreshold),
	)

	proc := processor.New(resolved.Aggregates, resolved.Rules, resolved.Features, grantSvc, m, logger)
	pool := consumer.New(proc, m, logger, resolved.Tunables.NumConsumers, resolved.Tunables.QueueCapacity)

	router := route.New()
	handler := api.New(router, resolved.Schemas, resolved.Features, pool, grantSvc, m, logger)
	httpServer := &http.Server{Addr: listenAddress, Handler: handler}

	var g run.Group

	ctx, cancel := context.WithCancel(context.Background())
	g.Add(func() error {
		return grantSvc.Run(ctx)
	}, func(error) {
		cancel()
	})

	poolCtx, poolCancel := context.WithCancel(context.Background())
	g.Add(func() error {
		return pool.Run(poolCtx)
	}, func(error) {
		poolCancel()
	})

	g.Add(func() error {
		logger.Info("listening", "address", listenAddress)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}, func(error) {
		_ = httpServer.Shutdown(context.Background())
	})

	{
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		termCtx, termCancel := context.WithCancel(context.Background())
		g.Add(func() error {
			select {
			case <-sig:
				return nil
			case <-termCtx.Done():
				return nil
			}
		}, func(error) {
			termCancel()
		})
	}

	return g.Run()
}
