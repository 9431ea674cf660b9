package hubd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"randhub/core/events"
	"randhub/native/vrfhub"
	"randhub/observability"
	"randhub/observability/logging"
	telemetry "randhub/observability/otel"
	"randhub/services/hubd/journal"
	"randhub/services/hubd/notify"
	"randhub/services/hubd/oracle"
	"randhub/services/hubd/provider"
	"randhub/services/hubd/server"
	"randhub/services/hubd/transport"
	"randhub/storage"
)

// Main parses flags, loads configuration and runs the daemon until SIGINT or
// SIGTERM.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/hubd/config.yaml", "path to hubd configuration file (.yaml or .toml)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("HUB_ENV"))
	cfg, err := Load(cfgPath)
	if err != nil {
		return fmt.Errorf("hubd: load config: %w", err)
	}
	logger, logCloser := logging.SetupWithOptions("hubd", env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("hubd", env))
	if err != nil {
		return fmt.Errorf("hubd: init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	a, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := a.run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("hubd stopped")
	return nil
}

// app holds the wired daemon components.
type app struct {
	cfg     Config
	logger  *slog.Logger
	db      storage.Database
	hub     *vrfhub.Hub
	journal *journal.Journal
	alerts  *notify.Alerts
	beacon  *provider.Beacon
	oracle  *oracle.Manager
	server  *server.Server
}

func build(cfg Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	db, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("hubd: open storage: %w", err)
	}
	a.db = db

	emitters := events.MultiEmitter{observability.Hub()}
	if dsn := strings.TrimSpace(cfg.Journal.DSN); dsn != "" {
		j, err := journal.Open(cfg.Journal.Driver, dsn, journal.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("hubd: open journal: %w", err)
		}
		a.journal = j
		emitters = append(emitters, j)
	}
	if endpoint := strings.TrimSpace(cfg.Alerts.Endpoint); endpoint != "" {
		opts := []notify.Option{notify.WithLogger(logger)}
		if len(cfg.Alerts.Events) > 0 {
			opts = append(opts, notify.WithEventTypes(cfg.Alerts.Events...))
		}
		alerts, err := notify.NewAlerts(endpoint, []byte(cfg.Alerts.Secret), opts...)
		if err != nil {
			return nil, fmt.Errorf("hubd: alerts: %w", err)
		}
		a.alerts = alerts
		emitters = append(emitters, alerts)
	}
	stream := server.NewBroadcaster()
	emitters = append(emitters, stream)

	prov, err := a.buildProvider()
	if err != nil {
		return nil, err
	}
	trans, err := buildTransport(cfg.Transport)
	if err != nil {
		return nil, err
	}

	hubOpts := []vrfhub.Option{
		vrfhub.WithLogger(logger),
		vrfhub.WithEmitter(emitters),
	}
	if secret := cfg.Callbacks.Secret; secret != "" {
		callbacks, err := notify.NewCallbacks([]byte(secret), notify.WithCallbackRetry(cfg.Callbacks.Attempts, cfg.Callbacks.Backoff.Duration))
		if err != nil {
			return nil, fmt.Errorf("hubd: callbacks: %w", err)
		}
		hubOpts = append(hubOpts, vrfhub.WithNotifier(callbacks))
	}
	if len(cfg.Sources) > 0 {
		mgr, err := buildOracle(cfg, logger)
		if err != nil {
			return nil, err
		}
		a.oracle = mgr
		hubOpts = append(hubOpts, vrfhub.WithPriceSource(mgr))
	}

	hubCfg := vrfhub.Config{
		Address:          common.HexToAddress(cfg.Hub.Address),
		DefaultGasBudget: cfg.Hub.DefaultGasBudget,
		StalenessWindow:  cfg.Hub.StalenessWindow.Duration,
		FeeBufferBps:     cfg.Hub.FeeBufferBps,
		CallbackTimeout:  cfg.Hub.CallbackTimeout.Duration,
	}
	if raw := strings.TrimSpace(cfg.Hub.MinBalance); raw != "" {
		floor, err := uint256.FromDecimal(raw)
		if err != nil {
			return nil, fmt.Errorf("hubd: hub.min_balance: %w", err)
		}
		hubCfg.MinBalance = floor
	}
	hub, err := vrfhub.New(storage.NewKVStore(db), prov, trans, hubCfg, hubOpts...)
	if err != nil {
		return nil, fmt.Errorf("hubd: hub: %w", err)
	}
	a.hub = hub
	if a.beacon != nil {
		a.beacon.Attach(hub)
	}
	if err := a.seed(); err != nil {
		return nil, err
	}

	srv, err := server.New(server.Config{
		ListenAddress:  cfg.ListenAddress,
		AdminToken:     cfg.Auth.AdminToken,
		RelayerToken:   cfg.Auth.RelayerToken,
		ProviderSecret: cfg.Auth.ProviderSecret,
		CallerSecret:   cfg.Auth.CallerSecret,
		Issuer:         cfg.Auth.Issuer,
		RateLimit:      server.RateLimit{RequestsPerMinute: cfg.Auth.RequestsPerMinute, Burst: cfg.Auth.Burst},
	}, hub, server.WithBroadcaster(stream), server.WithLogger(logger), withJournal(a.journal))
	if err != nil {
		return nil, fmt.Errorf("hubd: server: %w", err)
	}
	a.server = srv
	ok = true
	return a, nil
}

func withJournal(j *journal.Journal) server.Option {
	if j == nil {
		return nil
	}
	return server.WithJournal(j)
}

func (a *app) buildProvider() (vrfhub.Provider, error) {
	cfg := a.cfg.Provider
	switch strings.ToLower(cfg.Type) {
	case "beacon":
		opts := []provider.BeaconOption{
			provider.WithDelay(cfg.Delay.Duration),
			provider.WithWords(cfg.Words),
			provider.WithBeaconLogger(a.logger),
		}
		if cfg.QueueSize > 0 {
			opts = append(opts, provider.WithQueueSize(cfg.QueueSize))
		}
		beacon, err := provider.NewBeacon([]byte(cfg.Seed), opts...)
		if err != nil {
			return nil, fmt.Errorf("hubd: beacon: %w", err)
		}
		a.beacon = beacon
		return beacon, nil
	case "http":
		p, err := provider.NewHTTP(cfg.Endpoint, cfg.APIKey, cfg.CallbackURL, cfg.Words, &http.Client{Timeout: 10 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("hubd: http provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("hubd: unsupported provider type %q", cfg.Type)
	}
}

func buildTransport(cfg TransportConfig) (vrfhub.Transport, error) {
	switch strings.ToLower(cfg.Type) {
	case "loopback":
		var schedule transport.FeeSchedule
		for _, field := range []struct {
			name string
			raw  string
			dst  **uint256.Int
		}{
			{"transport.base_fee", cfg.BaseFee, &schedule.Base},
			{"transport.per_byte_fee", cfg.PerByte, &schedule.PerByte},
			{"transport.gas_price", cfg.GasPrice, &schedule.GasPrice},
		} {
			if strings.TrimSpace(field.raw) == "" {
				continue
			}
			v, err := uint256.FromDecimal(strings.TrimSpace(field.raw))
			if err != nil {
				return nil, fmt.Errorf("hubd: %s: %w", field.name, err)
			}
			*field.dst = v
		}
		return transport.NewLoopback(schedule), nil
	case "relayer":
		r, err := transport.NewRelayer(transport.RelayerConfig{
			Endpoint: cfg.Endpoint,
			Token:    cfg.Token,
			RPS:      cfg.RPS,
			Burst:    cfg.Burst,
			Timeout:  cfg.Timeout.Duration,
		})
		if err != nil {
			return nil, fmt.Errorf("hubd: relayer: %w", err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("hubd: unsupported transport type %q", cfg.Type)
	}
}

func buildOracle(cfg Config, logger *slog.Logger) (*oracle.Manager, error) {
	registry := oracle.NewRegistry()
	sources := make([]oracle.Source, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		built, err := registry.Build(src.Name, src.Type, src.Endpoint, src.APIKey, src.Price)
		if err != nil {
			return nil, fmt.Errorf("hubd: build source %s: %w", src.Name, err)
		}
		sources = append(sources, built)
	}
	mgr, err := oracle.New(sources, cfg.Oracle.Interval.Duration, cfg.Oracle.MaxAge.Duration, cfg.Oracle.MinFeeds, oracle.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("hubd: oracle manager: %w", err)
	}
	return mgr, nil
}

// seed registers the configured chains and callers and applies the initial
// funding on first boot only. Once the store carries the seed marker the
// registry belongs to the admin API, so revocations survive restarts.
func (a *app) seed() error {
	seeded, err := a.hub.Seeded()
	if err != nil {
		return fmt.Errorf("hubd: %w", err)
	}
	if seeded {
		a.logger.Debug("store already seeded; skipping configured registry")
		return nil
	}
	for _, chain := range a.cfg.Chains {
		err := a.hub.AddChain(vrfhub.SupportedChain{
			ID:        vrfhub.ChainID(chain.ID),
			Name:      chain.Name,
			Peer:      common.HexToHash(chain.Peer),
			GasBudget: chain.GasBudget,
			Enabled:   !chain.Disabled,
		})
		if err != nil {
			return fmt.Errorf("hubd: seed chain %d: %w", chain.ID, err)
		}
	}
	for _, caller := range a.cfg.Callers {
		err := a.hub.AuthorizeCaller(vrfhub.AuthorizedCaller{
			Address:     common.HexToAddress(caller.Address),
			CallbackURL: strings.TrimSpace(caller.CallbackURL),
		})
		if err != nil {
			return fmt.Errorf("hubd: seed caller %s: %w", caller.Address, err)
		}
	}
	if raw := strings.TrimSpace(a.cfg.Hub.InitialFunding); raw != "" {
		amount, err := uint256.FromDecimal(raw)
		if err != nil {
			return fmt.Errorf("hubd: hub.initial_funding: %w", err)
		}
		solvency, err := a.hub.Solvency()
		if err != nil {
			return fmt.Errorf("hubd: read balance: %w", err)
		}
		if solvency.Balance.IsZero() && !amount.IsZero() {
			if _, err := a.hub.Fund(amount); err != nil {
				return fmt.Errorf("hubd: initial funding: %w", err)
			}
		}
	}
	if err := a.hub.MarkSeeded(); err != nil {
		return fmt.Errorf("hubd: %w", err)
	}
	return nil
}

func (a *app) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Run(ctx) })
	g.Go(func() error { return a.recordGauges(ctx) })
	if a.beacon != nil {
		g.Go(func() error { return a.beacon.Run(ctx) })
	}
	if a.oracle != nil {
		g.Go(func() error { return a.oracle.Run(ctx, a.hub) })
	}
	return g.Wait()
}

// recordGauges publishes solvency and aggregate price gauges on an interval.
func (a *app) recordGauges(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Hub.MetricsInterval.Duration)
	defer ticker.Stop()
	for {
		a.publishGauges()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *app) publishGauges() {
	metrics := observability.Hub()
	if solvency, err := a.hub.Solvency(); err == nil {
		pending, err := a.hub.PendingResponses()
		if err != nil {
			a.logger.Warn("read pending responses", "error", err)
		}
		metrics.RecordSolvency(solvency.Balance.ToBig(), len(pending))
	} else {
		a.logger.Warn("read solvency", "error", err)
	}
	price, count := a.hub.AggregatedPrice()
	metrics.RecordAggregate(price, count)
}

func (a *app) close() {
	if a.alerts != nil {
		a.alerts.Close()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("close journal", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
