package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/alertbridge/internal/blob/s3"
	"github.com/alanyoungcy/alertbridge/internal/cache/redis"
	"github.com/alanyoungcy/alertbridge/internal/config"
	"github.com/alanyoungcy/alertbridge/internal/control"
	"github.com/alanyoungcy/alertbridge/internal/dedup"
	"github.com/alanyoungcy/alertbridge/internal/domain"
	"github.com/alanyoungcy/alertbridge/internal/events"
	"github.com/alanyoungcy/alertbridge/internal/executor"
	"github.com/alanyoungcy/alertbridge/internal/metrics"
	"github.com/alanyoungcy/alertbridge/internal/monitor"
	"github.com/alanyoungcy/alertbridge/internal/parser"
	"github.com/alanyoungcy/alertbridge/internal/pipeline"
	"github.com/alanyoungcy/alertbridge/internal/server"
	"github.com/alanyoungcy/alertbridge/internal/server/handler"
	"github.com/alanyoungcy/alertbridge/internal/server/ws"
	"github.com/alanyoungcy/alertbridge/internal/store/postgres"
	"github.com/alanyoungcy/alertbridge/internal/tradingwindow"
)

// Dependencies bundles every component the bridge runs. Optional pieces are
// nil when their backend is disabled.
type Dependencies struct {
	Executor    *executor.Executor
	Gate        *control.Gate
	LocalDedup  *dedup.Window
	Monitor     *monitor.Monitor
	Coordinator *pipeline.Coordinator
	Recent      *events.Recent
	Metrics     *metrics.Metrics
	Sink        events.Sink
	Async       []*events.Async
	Hub         *ws.Hub
	Server      *server.Server
	Archiver    domain.LogArchiver

	Redis    *redis.Client
	Postgres *postgres.Client
}

// Wire constructs all components from cfg and returns them together with a
// cleanup function that releases resources in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	deps := &Dependencies{
		Recent:  events.NewRecent(cfg.Server.RecentEvents),
		Metrics: metrics.New(),
	}
	sinks := events.Multi{events.NewLogSink(logger), deps.Metrics, deps.Recent}

	// --- Redis (shared dedup window and event stream) ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,

			DialTimeout: 5 * time.Second,
			ReadTimeout: time.Second,
		})
		if err != nil {
			return fail(fmt.Errorf("app: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Redis = rc
		logger.Info("redis connected", slog.String("addr", cfg.Redis.Addr))

		if cfg.Redis.StreamEvents {
			stream := events.NewAsync("redis_stream",
				events.NewStreamSink(redis.NewEventStream(rc), cfg.Redis.Stream, logger), 1024, logger)
			deps.Async = append(deps.Async, stream)
			sinks = append(sinks, stream)
		}
	}

	// --- PostgreSQL (event and execution journals) ---
	var executions domain.ExecutionStore
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: 10 * time.Second,
		})
		if err != nil {
			return fail(fmt.Errorf("app: %w", err))
		}
		closers = append(closers, pg.Close)
		deps.Postgres = pg

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("app: %w", err))
			}
			logger.Info("postgres migrations applied")
		}
		executions = postgres.NewExecutionStore(pg.Pool())
		journal := events.NewAsync("postgres_journal",
			events.NewJournalSink(postgres.NewEventStore(pg.Pool()), executions, logger), 1024, logger)
		deps.Async = append(deps.Async, journal)
		sinks = append(sinks, journal)
	}

	// --- S3 (rotated alert log archive) ---
	if cfg.S3.Enabled {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("app: %w", err))
		}
		if err := s3c.Health(ctx); err != nil {
			logger.Warn("s3 bucket not reachable, archiving may fail", slog.String("error", err.Error()))
		}
		if cfg.Alert.ArchiveRotated {
			deps.Archiver = s3blob.NewLogArchiver(s3blob.NewWriter(s3c), s3blob.NewReader(s3c), cfg.S3.Prefix, logger)
		}
	}

	if cfg.Server.Enabled && cfg.Server.Websocket {
		deps.Hub = ws.NewHub(strings.ToLower(cfg.Mode), deps.Recent, logger)
		sinks = append(sinks, deps.Hub)
	}
	deps.Sink = sinks

	// --- Executor ---
	term, creds, err := newTerminal(cfg, logger)
	if err != nil {
		return fail(err)
	}
	deps.Executor = executor.NewExecutor(term, creds, executor.RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		Delay:          cfg.Retry.Delay.Duration,
		ConnectTimeout: cfg.Terminal.ConnectTimeout.Duration,
	}, logger)
	deps.Executor.OnConnectionEvent(func(ev domain.ConnectionEvent) {
		deps.Sink.ConnectionEvent(context.Background(), ev)
	})
	closers = append(closers, func() { _ = deps.Executor.Close() })

	// --- Pipeline stages ---
	loc, err := time.LoadLocation(cfg.TradingWindow.Timezone)
	if err != nil {
		return fail(fmt.Errorf("app: trading window timezone: %w", err))
	}
	p, err := parser.New(parser.Config{
		Symbols:          cfg.EnabledSymbols(),
		CloseSymbol:      cfg.ResolveCloseSymbol(),
		Prefix:           cfg.Alert.SignalPrefix,
		CloseLongMarker:  cfg.Alert.CloseLongMarker,
		CloseShortMarker: cfg.Alert.CloseShortMarker,
	})
	if err != nil {
		return fail(fmt.Errorf("app: %w", err))
	}

	var gate pipeline.ControlGate = control.AlwaysEnabled{}
	if cfg.TradeControl.Enabled {
		deps.Gate = control.NewGate(control.Config{
			Path:           cfg.TradeControl.FilePath,
			Interval:       cfg.TradeControl.CheckInterval.Duration,
			DefaultEnabled: cfg.TradeControl.DefaultEnabled,
			Location:       loc,
		}, logger)
		gate = deps.Gate
	}

	window, err := tradingWindow(cfg, loc)
	if err != nil {
		return fail(err)
	}

	threshold := cfg.Trading.DuplicateThreshold.Duration
	deps.LocalDedup = dedup.NewWindow(threshold)
	var (
		primary  domain.DedupWindow = deps.LocalDedup
		fallback pipeline.LocalDedup
	)
	if cfg.Dedup.Backend == "redis" && deps.Redis != nil {
		primary = redis.NewDedupWindow(deps.Redis, cfg.Dedup.KeyPrefix, threshold)
		fallback = deps.LocalDedup
	}

	lots := make(map[string]decimal.Decimal, len(cfg.Symbols))
	for _, name := range cfg.EnabledSymbols() {
		lots[name] = decimal.NewFromFloat(cfg.Symbols[name].LotSize)
	}

	deps.Coordinator = pipeline.New(pipeline.Deps{
		Parser:   p,
		Gate:     gate,
		Dedup:    primary,
		Fallback: fallback,
		Window:   window,
		Executor: deps.Executor,
		Sink:     deps.Sink,
	}, pipeline.Config{
		LotSizes:          lots,
		MaxExecutionDelay: cfg.Trading.MaxExecutionDelay.Duration,
		Comment:           cfg.Terminal.Comment,
	}, logger)

	// --- Alert monitor ---
	deps.Monitor, err = monitor.New(monitor.Config{
		Path:           cfg.Alert.Path,
		Encoding:       cfg.Alert.Encoding,
		AutoSwitchDate: cfg.Alert.AutoSwitchDate,
		PollInterval:   cfg.Alert.PollInterval.Duration,
		QueueSize:      cfg.Alert.QueueSize,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("app: %w", err))
	}
	if deps.Archiver != nil {
		archiver := deps.Archiver
		deps.Monitor.OnRotate(func(ctx context.Context, old string) {
			if err := archiver.ArchiveLog(ctx, old); err != nil {
				logger.Warn("archive rotated alert log failed",
					slog.String("path", old),
					slog.String("error", err.Error()),
				)
			}
		})
	}

	// --- Status server ---
	if cfg.Server.Enabled {
		deps.Server = newStatusServer(cfg, deps, executions, logger)
	}

	return deps, cleanup, nil
}

func tradingWindow(cfg *config.Config, loc *time.Location) (*tradingwindow.Policy, error) {
	marketClose, err := tradingwindow.ParseWeekTime(cfg.TradingWindow.MarketClose)
	if err != nil {
		return nil, fmt.Errorf("app: market close: %w", err)
	}
	marketOpen, err := tradingwindow.ParseWeekTime(cfg.TradingWindow.MarketOpen)
	if err != nil {
		return nil, fmt.Errorf("app: market open: %w", err)
	}
	stops := make(map[string]bool, len(cfg.Symbols))
	for name, sc := range cfg.Symbols {
		stops[name] = sc.WeekendStop
	}
	return tradingwindow.NewPolicy(loc, marketClose, marketOpen, stops), nil
}

func newStatusServer(cfg *config.Config, deps *Dependencies, executions domain.ExecutionStore, logger *slog.Logger) *server.Server {
	status := &handler.StatusHandler{
		Mode:      strings.ToLower(cfg.Mode),
		Executor:  deps.Executor,
		Monitor:   deps.Monitor,
		Outcomes:  deps.Recent,
		StartedAt: time.Now(),
	}
	if deps.Gate != nil {
		status.Gate = deps.Gate
	}
	var probes []handler.Probe
	if deps.Redis != nil {
		probes = append(probes, handler.Probe{Name: "redis", Check: deps.Redis.Ping})
	}
	if deps.Postgres != nil {
		probes = append(probes, handler.Probe{Name: "postgres", Check: deps.Postgres.Ping})
	}
	h := server.Handlers{
		Health:  handler.NewHealthHandler(probes...),
		Status:  status,
		Events:  handler.NewEventsHandler(deps.Recent),
		Metrics: deps.Metrics.Handler(),
		Hub:     deps.Hub,
	}
	if executions != nil {
		h.Executions = handler.NewExecutionsHandler(executions, logger)
	}
	return server.NewServer(server.Config{
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		APIKey:      cfg.Server.APIKey,
		RateLimit:   cfg.Server.RateLimit,
		RateBurst:   cfg.Server.RateBurst,
	}, h, logger)
}
