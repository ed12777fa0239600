package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/getsentry/raven-go"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"ouilookup/internal/log"
	"ouilookup/internal/meta"
	"ouilookup/internal/metrics"
	"ouilookup/internal/network"
	"ouilookup/internal/protocol"
	"ouilookup/internal/refresh"
	"ouilookup/internal/registry"
	"ouilookup/internal/resolver"
)

func main() {
	configPath := flag.String(
		"config",
		os.Getenv("OUILOOKUP_CONFIG"),
		"path to the configuration file on disk",
	)
	version := flag.Bool(
		"version",
		false,
		"print the compiled ouilookup version SHA",
	)
	verbosity := flag.String(
		"verbosity",
		"info",
		"desired logging verbosity: one of error, warn, info, debug",
	)
	verbose := flag.BoolP(
		"verbose",
		"v",
		false,
		"shorthand for --verbosity=debug",
	)
	host := flag.StringP(
		"host",
		"l",
		"",
		"host of the HTTP server, overriding the configured listener address",
	)
	port := flag.IntP(
		"port",
		"p",
		0,
		"port of the HTTP server, overriding the configured listener address",
	)
	cors := flag.StringArrayP(
		"cors",
		"c",
		nil,
		"allowed CORS domain (can specify multiple)",
	)
	dataDir := flag.String(
		"data-dir",
		"",
		"directory holding the persisted registry, overriding the configured one",
	)
	refreshOnly := flag.Bool(
		"refresh-only",
		false,
		"download and persist the registry, then exit",
	)
	flag.Parse()

	// Report the compiled version and exit
	if *version {
		fmt.Printf("ouilookup/%s\n", meta.Version())
		return
	}

	// Logging configuration; default to log.Info verbosity
	level, _ := log.ParseLevel(*verbosity)
	if *verbose {
		level = log.Debug
	}
	logger := log.NewConsoleLogger(level)
	logger.Debug("main: initialized logger: level=%v", level)

	// Parse application configuration
	logger.Debug("main: reading and parsing config: path=%s", *configPath)
	config, err := meta.ParseConfig(*configPath)
	if err != nil {
		panic(err)
	}

	if err := applyFlagOverrides(config, *host, *port, *cors, *dataDir); err != nil {
		panic(err)
	}

	// Configure error reporting
	if config.Application.SentryDSN != "" {
		raven.SetDSN(config.Application.SentryDSN)
		raven.SetRelease(meta.Version())
	}

	// Configure metrics reporting
	queryHooks := metrics.MultiQueryHook{}
	refreshHooks := metrics.MultiRefreshHook{}
	requestHooks := metrics.MultiRequestHook{}

	if config.Metrics.Statsd != nil {
		logger.Info(
			"main: configuring statsd metrics reporting: addr=%s sample_rate=%f",
			config.Metrics.Statsd.Address,
			config.Metrics.Statsd.SampleRate,
		)

		addr := config.Metrics.Statsd.Address
		sampleRate := float32(config.Metrics.Statsd.SampleRate)

		queryHook, err := metrics.NewAsyncStatsdQueryHook(addr, sampleRate, meta.VersionSHA)
		if err != nil {
			panic(err)
		}

		refreshHook, err := metrics.NewAsyncStatsdRefreshHook(addr, sampleRate, meta.VersionSHA)
		if err != nil {
			panic(err)
		}

		requestHook, err := metrics.NewAsyncStatsdRequestHook(addr, sampleRate, meta.VersionSHA)
		if err != nil {
			panic(err)
		}

		queryHooks = append(queryHooks, queryHook)
		refreshHooks = append(refreshHooks, refreshHook)
		requestHooks = append(requestHooks, requestHook)
	}

	handlerOpts := protocol.QueryHandlerOpts{
		DefaultLimit:   config.Query.DefaultLimit,
		AllowedDomains: config.Listener.CORS.AllowedDomains,
	}

	if config.Metrics.Prometheus != nil {
		logger.Info("main: exposing prometheus metrics: path=%s", config.Metrics.Prometheus.Path)

		prometheusHooks := metrics.NewPrometheusHooks(meta.VersionSHA)
		queryHooks = append(queryHooks, prometheusHooks)
		refreshHooks = append(refreshHooks, prometheusHooks)
		requestHooks = append(requestHooks, prometheusHooks)

		handlerOpts.MetricsPath = config.Metrics.Prometheus.Path
		handlerOpts.MetricsHandler = prometheusHooks.Handler()
	}

	if len(queryHooks) == 0 {
		logger.Warn("main: no metrics output engine specified; disabling metrics")
	}

	// Configure upstreams
	policy, ok := network.ParseLoadBalancingPolicy(config.Upstream.MirrorPolicy)
	if !ok {
		logger.Warn(
			"main: unknown mirror policy; use default: supplied=%s default=%s",
			config.Upstream.MirrorPolicy,
			policy,
		)
	}

	clients := make(map[registry.Tier]network.Client, len(registry.Tiers))
	for _, tier := range registry.Tiers {
		var mirrors []network.Client
		for _, source := range config.Upstream.SourcesFor(tier) {
			logger.Debug("main: configuring upstream source: tier=%s url=%s", tier, source)

			mirrors = append(mirrors, network.NewHTTPClient(source, network.HTTPClientOpts{
				Timeout:    config.Upstream.Timeout,
				MaxRetries: config.Upstream.MaxRetries,
				Logger:     logger,
			}))
		}

		client, err := network.NewShardedClient(mirrors, policy)
		if err != nil {
			panic(err)
		}

		logger.Info("main: configured upstream: tier=%s source=%s", tier, client)
		clients[tier] = client
	}

	// Configure the registry lifecycle
	store := registry.NewStore()
	scheduler := refresh.NewScheduler(
		registry.NewDirectory(config.Registry.DataDir),
		store,
		clients,
		refresh.SchedulerOpts{
			RefreshInterval:    config.Registry.RefreshInterval,
			RetryInterval:      config.Registry.RetryInterval,
			ServeDuringRefresh: config.Registry.ServeDuringRefresh,
			RefreshHook:        refreshHooks,
			Logger:             logger,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *refreshOnly {
		logger.Info("main: downloading registry: data_dir=%s", config.Registry.DataDir)

		if err := scheduler.Download(ctx); err != nil {
			logger.Error("main: error downloading registry: err=%v", err)
			stop()
			os.Exit(1)
		}

		return
	}

	// Configure the server listener
	dispatcher := resolver.NewDispatcher(store, scheduler, resolver.DispatcherOpts{
		QueryHook: queryHooks,
		Logger:    logger,
	})

	h := &protocol.QueryHandler{
		Resolver:    dispatcher,
		RequestHook: requestHooks,
		Logger:      logger,
		Opts:        handlerOpts,
	}

	server := network.NewHTTPServer(config.Listener.HTTP.Address, network.HTTPServerOpts{
		ReadTimeout:     config.Listener.HTTP.ReadTimeout,
		WriteTimeout:    config.Listener.HTTP.WriteTimeout,
		ShutdownTimeout: config.Listener.HTTP.ShutdownTimeout,
		ErrorCallback: func(err error) {
			raven.CaptureError(err, map[string]string{"component": "server"})
		},
	})

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("main: configuring HTTP server listener: addr=%s", config.Listener.HTTP.Address)
		return server.ListenAndServe(groupCtx, h.Router())
	})

	group.Go(func() error {
		if err := scheduler.Initialize(groupCtx); err != nil {
			return err
		}

		group.Go(func() error {
			if err := scheduler.Watch(groupCtx); err != nil {
				logger.Warn("main: data directory watcher stopped: err=%v", err)
			}
			return nil
		})

		return scheduler.Run(groupCtx)
	})

	// Serve until interrupted
	logger.Info("main: serving until interrupted")

	if err := group.Wait(); err != nil {
		var fetchErr *refresh.FetchError
		if errors.As(err, &fetchErr) {
			logger.Error("main: error initializing registry: tier=%s source=%s err=%v", fetchErr.Tier, fetchErr.Source, fetchErr.Err)
		} else {
			logger.Error("main: %v", err)
		}

		raven.CaptureErrorAndWait(err, map[string]string{"component": "main"})
		stop()
		os.Exit(1)
	}

	logger.Info("main: shut down")
}

// applyFlagOverrides folds command line overrides into the parsed configuration.
func applyFlagOverrides(config *meta.Config, host string, port int, cors []string, dataDir string) error {
	if host != "" || port != 0 {
		currentHost, currentPort, err := net.SplitHostPort(config.Listener.HTTP.Address)
		if err != nil {
			return fmt.Errorf("main: error parsing listener address: addr=%s err=%v", config.Listener.HTTP.Address, err)
		}

		if host != "" {
			currentHost = host
		}

		if port != 0 {
			if port < 0 || port > 65535 {
				return fmt.Errorf("main: port out of range: port=%d", port)
			}
			currentPort = strconv.Itoa(port)
		}

		config.Listener.HTTP.Address = net.JoinHostPort(currentHost, currentPort)
	}

	if len(cors) > 0 {
		config.Listener.CORS.AllowedDomains = cors
	}

	if dataDir != "" {
		config.Registry.DataDir = dataDir
	}

	return nil
}
