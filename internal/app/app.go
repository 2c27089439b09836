// Package app assembles the pipeline units from configuration and runs them
// next to the operator HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/host-inventory/internal/api"
	"github.com/JakeFAU/host-inventory/internal/config"
	"github.com/JakeFAU/host-inventory/internal/dispatcher"
	"github.com/JakeFAU/host-inventory/internal/fetcher"
	collyfetcher "github.com/JakeFAU/host-inventory/internal/fetcher/colly"
	"github.com/JakeFAU/host-inventory/internal/id/uuid"
	"github.com/JakeFAU/host-inventory/internal/inventory"
	"github.com/JakeFAU/host-inventory/internal/normalizer"
	"github.com/JakeFAU/host-inventory/internal/policy/ratelimit"
	queuememory "github.com/JakeFAU/host-inventory/internal/queue/memory"
	gcsstore "github.com/JakeFAU/host-inventory/internal/storage/gcs"
	memorystore "github.com/JakeFAU/host-inventory/internal/storage/memory"
	pgstore "github.com/JakeFAU/host-inventory/internal/storage/postgres"
	"github.com/JakeFAU/host-inventory/internal/store"
	"github.com/JakeFAU/host-inventory/internal/telemetry"
	transportmemory "github.com/JakeFAU/host-inventory/internal/transport/memory"
	natstransport "github.com/JakeFAU/host-inventory/internal/transport/nats"
	pubsubtransport "github.com/JakeFAU/host-inventory/internal/transport/pubsub"
	"github.com/JakeFAU/host-inventory/internal/worker"
)

// Unit selects which half of the pipeline a process runs.
type Unit string

// Pipeline units.
const (
	// UnitFetch polls every source and publishes raw records.
	UnitFetch Unit = "fetch"
	// UnitNormalize consumes raw records, maps them and writes hosts.
	UnitNormalize Unit = "normalize"
	// UnitRun runs both halves in one process.
	UnitRun Unit = "run"
)

func (u Unit) fetches() bool    { return u == UnitFetch || u == UnitRun }
func (u Unit) normalizes() bool { return u == UnitNormalize || u == UnitRun }

type closer struct {
	name string
	fn   func() error
}

// App contains the dependencies of one pipeline unit.
type App struct {
	cfg    config.Config
	unit   Unit
	logger *zap.Logger

	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	runners   int
	pollers   []*fetcher.Poller

	publisher  inventory.Publisher
	subscriber inventory.Subscriber
	hosts      inventory.HostStore

	memChannel   *transportmemory.Channel
	pubsubClient *pubsub.Client

	closers        []closer
	tracerShutdown func(context.Context) error
}

// Build creates the dependencies of unit from cfg. The returned App must be
// closed by the caller.
func Build(ctx context.Context, cfg config.Config, unit Unit, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch unit {
	case UnitFetch, UnitNormalize, UnitRun:
	default:
		return nil, fmt.Errorf("unknown unit %q", unit)
	}
	if unit != UnitRun && cfg.Transport.Backend == config.BackendMemory {
		return nil, fmt.Errorf("the %s unit needs a networked transport; use nats or pubsub, or the run command", unit)
	}

	a := &App{cfg: cfg, unit: unit, logger: logger}
	logger.Info("building application dependencies",
		zap.String("unit", string(unit)),
		zap.String("transport", cfg.Transport.Backend),
		zap.String("store", cfg.Store.Backend),
		zap.Int("sources", len(cfg.Sources)),
	)

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Options{
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown

	var runners []dispatcher.Runner
	if unit.fetches() {
		fetchRunners, err := a.setupFetch(ctx)
		if err != nil {
			a.closeQuietly()
			return nil, err
		}
		runners = append(runners, fetchRunners...)
	}
	if unit.normalizes() {
		normalizeRunners, err := a.setupNormalize(ctx)
		if err != nil {
			a.closeQuietly()
			return nil, err
		}
		runners = append(runners, normalizeRunners...)
	}

	a.runners = len(runners)
	a.dispatch = dispatcher.New(runners, logger.Named("dispatcher"))

	opts := api.Options{
		Ready:  a.ready,
		Logger: logger.Named("api"),
	}
	if unit.fetches() {
		opts.Sources = a
	}
	if a.hosts != nil {
		opts.Hosts = a.hosts
	}
	a.apiServer = api.NewServer(opts)
	return a, nil
}

func (a *App) setupFetch(ctx context.Context) ([]dispatcher.Runner, error) {
	sources := a.cfg.InventorySources()
	if len(sources) == 0 {
		return nil, fetcher.ErrNoSources
	}
	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}
	a.publisher = publisher

	client := collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Fetch.UserAgent,
		Timeout:   a.cfg.Fetch.Timeout,
	})
	a.pollers = fetcher.NewAll(sources, fetcher.Options{
		Fetcher:   client,
		Publisher: publisher,
		Retry: fetcher.NewExponentialRetryPolicy(
			a.cfg.Retry.MaxAttempts,
			a.cfg.Retry.BaseDelay,
			a.cfg.Retry.MaxDelay,
		),
		Limiter:      ratelimit.New(ratelimit.Config{DefaultRPS: a.cfg.Fetch.RatePerSecond}),
		Logger:       a.logger.Named("fetcher"),
		Token:        a.cfg.Fetch.Token,
		IdleInterval: a.cfg.Fetch.IdleInterval,
	})
	a.logger.Info("fetch unit configured",
		zap.Int("pollers", len(a.pollers)),
		zap.Int("page_size", a.cfg.Fetch.PageSize),
		zap.Int("retry_attempts", a.cfg.Retry.MaxAttempts),
	)

	runners := make([]dispatcher.Runner, 0, len(a.pollers))
	for _, p := range a.pollers {
		runners = append(runners, p)
	}
	return runners, nil
}

func (a *App) setupNormalize(ctx context.Context) ([]dispatcher.Runner, error) {
	subscriber, err := a.buildSubscriber(ctx)
	if err != nil {
		return nil, err
	}
	a.subscriber = subscriber

	hosts, err := a.buildHostStore(ctx)
	if err != nil {
		return nil, err
	}
	a.hosts = hosts

	work := queuememory.NewQueue[inventory.HostRecord]("work", a.cfg.Queue.Depth, a.cfg.QueuePolicy())
	a.addCloser("work queue", func() error {
		work.Close()
		return nil
	})

	norm := normalizer.NewDispatcher(normalizer.DefaultRegistry(), subscriber, work, a.logger.Named("normalizer"))
	writer := worker.New(work, store.NewWriter(hosts, a.logger.Named("store")), a.logger.Named("worker"))
	a.logger.Info("normalize unit configured",
		zap.Strings("mappers", normalizer.DefaultRegistry().Sources()),
		zap.Int("queue_depth", a.cfg.Queue.Depth),
		zap.String("full_policy", string(a.cfg.QueuePolicy())),
	)
	return []dispatcher.Runner{norm, writer}, nil
}

func (a *App) memoryChannel() *transportmemory.Channel {
	if a.memChannel == nil {
		a.memChannel = transportmemory.New(a.cfg.Transport.Buffer, a.cfg.QueuePolicy())
		a.addCloser("memory transport", a.memChannel.Close)
	}
	return a.memChannel
}

func (a *App) ensurePubSub(ctx context.Context) (*pubsub.Client, error) {
	if a.pubsubClient != nil {
		return a.pubsubClient, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.Transport.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.addCloser("pubsub client", client.Close)
	a.logger.Info("Pub/Sub client initialized", zap.String("project", a.cfg.Transport.PubSub.ProjectID))
	return client, nil
}

func (a *App) buildPublisher(ctx context.Context) (inventory.Publisher, error) {
	switch a.cfg.Transport.Backend {
	case config.BackendNATS:
		pub, err := natstransport.NewPublisher(natstransport.Config{
			URL:     a.cfg.Transport.NATS.PublisherURL(),
			Subject: a.cfg.Transport.NATS.Subject,
			Name:    "hostinv-fetch",
		})
		if err != nil {
			return nil, fmt.Errorf("nats publisher init failed: %w", err)
		}
		a.addCloser("nats publisher", pub.Close)
		return pub, nil
	case config.BackendPubSub:
		client, err := a.ensurePubSub(ctx)
		if err != nil {
			return nil, err
		}
		pub, err := pubsubtransport.NewPublisher(client, a.cfg.Transport.PubSub.TopicID)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.addCloser("pubsub publisher", pub.Close)
		return pub, nil
	default:
		return a.memoryChannel(), nil
	}
}

func (a *App) buildSubscriber(ctx context.Context) (inventory.Subscriber, error) {
	switch a.cfg.Transport.Backend {
	case config.BackendNATS:
		sub, err := natstransport.NewSubscriber(natstransport.Config{
			URL:          a.cfg.Transport.NATS.SubscriberURL(),
			Subject:      a.cfg.Transport.NATS.Subject,
			Queue:        a.cfg.Transport.NATS.Queue,
			PendingLimit: a.cfg.Transport.Buffer,
			Name:         "hostinv-normalize",
		}, a.logger.Named("transport"))
		if err != nil {
			return nil, fmt.Errorf("nats subscriber init failed: %w", err)
		}
		a.addCloser("nats subscriber", sub.Close)
		return sub, nil
	case config.BackendPubSub:
		client, err := a.ensurePubSub(ctx)
		if err != nil {
			return nil, err
		}
		sub, err := pubsubtransport.NewSubscriber(
			ctx,
			client,
			a.cfg.Transport.PubSub.SubscriptionID,
			a.cfg.Transport.Buffer,
			a.logger.Named("transport"),
		)
		if err != nil {
			return nil, fmt.Errorf("pubsub subscriber init failed: %w", err)
		}
		a.addCloser("pubsub subscriber", sub.Close)
		return sub, nil
	default:
		return a.memoryChannel(), nil
	}
}

func (a *App) buildHostStore(ctx context.Context) (inventory.HostStore, error) {
	switch a.cfg.Store.Backend {
	case config.BackendPostgres:
		pg := a.cfg.Store.Postgres
		hosts, err := pgstore.NewHostStore(ctx, postgresConfig(pg))
		if err != nil {
			return nil, fmt.Errorf("host store init failed: %w", err)
		}
		a.addCloser("postgres host store", func() error {
			hosts.Close()
			return nil
		})
		if pg.EnsureSchema {
			if err := hosts.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("ensure host schema: %w", err)
			}
		}
		a.logger.Info("postgres host store initialized", zap.String("table", pg.Table))
		return hosts, nil
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.addCloser("gcs client", client.Close)
		hosts, err := gcsstore.New(client, gcsstore.Config{
			Bucket: a.cfg.Store.GCS.Bucket,
			Prefix: a.cfg.Store.GCS.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs host store init failed: %w", err)
		}
		a.logger.Info("GCS host store initialized", zap.String("bucket", a.cfg.Store.GCS.Bucket))
		return hosts, nil
	default:
		a.logger.Info("using in-memory host store")
		return memorystore.NewHostStore(uuid.New()), nil
	}
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Handler exposes the operator HTTP routes.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// SourceStatuses reports every poll loop with its current cursor.
func (a *App) SourceStatuses() []api.SourceStatus {
	ended := make(map[string]error)
	stopped := make(map[string]bool)
	for _, res := range a.dispatch.Results() {
		stopped[res.Name] = true
		ended[res.Name] = res.Err
	}
	out := make([]api.SourceStatus, 0, len(a.pollers))
	for _, p := range a.pollers {
		cur := p.Cursor()
		status := api.SourceStatus{
			Name:    cur.Name,
			URL:     cur.URL,
			Skip:    cur.Skip,
			Limit:   cur.Limit,
			Stopped: stopped[cur.Name],
		}
		if err := ended[cur.Name]; err != nil {
			status.Error = err.Error()
		}
		out = append(out, status)
	}
	return out
}

func (a *App) ready(context.Context) error {
	if len(a.dispatch.Results()) >= a.runners {
		return errors.New("no pipeline loops running")
	}
	return nil
}

// Run serves the unit on the configured port until SIGINT/SIGTERM or ctx ends.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", a.cfg.Server.Port, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the pipeline loops and the HTTP server on ln, and blocks until
// ctx ends and every loop has returned. A failing HTTP server stops the loops
// and its error is returned.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.logger.Info("application started", zap.String("unit", string(a.unit)))
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.dispatch.Run(gctx)
		return nil
	})

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		a.logger.Error("application stopped with error", zap.Error(err))
		return err
	}
	return nil
}

// Close releases transports, stores and telemetry in reverse build order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeQuietly() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Close(ctx) //nolint:errcheck // build already failed
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracerShutdown = nil
	}
}

func postgresConfig(pg config.PostgresConfig) pgstore.Config {
	return pgstore.Config{
		DSN:             pg.DSN,
		Table:           pg.Table,
		MaxConns:        pg.MaxConns,
		MinConns:        pg.MinConns,
		MaxConnLifetime: pg.MaxConnLifetime,
	}
}
