package main

import (
	"context"
	"errors"
	"io"
	"os/user"

	"github.com/redis/go-redis/v9"
	"github.com/sasha-s/go-deadlock"

	"github.com/alexisbeaulieu97/graphrun/internal/application/execution"
	"github.com/alexisbeaulieu97/graphrun/internal/blocks"
	"github.com/alexisbeaulieu97/graphrun/internal/config"
	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
	"github.com/alexisbeaulieu97/graphrun/internal/engine"
	infrablocks "github.com/alexisbeaulieu97/graphrun/internal/infrastructure/blocks"
	infraconfig "github.com/alexisbeaulieu97/graphrun/internal/infrastructure/config"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/events"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/graphstore"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/lease"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/ledger"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/graphrun/internal/infrastructure/queue"
	"github.com/alexisbeaulieu97/graphrun/internal/logger"
	"github.com/alexisbeaulieu97/graphrun/internal/ports"
)

// AppContext bundles the long-lived services one command invocation uses.
type AppContext struct {
	Settings    *config.Settings
	Logger      ports.Logger
	Loader      *infraconfig.YAMLLoader
	Registry    *infrablocks.Registry
	Graphs      *graphstore.Store
	Ledger      *ledger.MemDB
	Queue       *queue.Memory
	Events      *events.AsyncPublisher
	Coordinator *engine.Coordinator
	Service     *execution.Service

	redis     redis.UniversalClient
	logBuffer *logging.Buffer
	logSink   ports.Logger
}

type appOptions struct {
	SettingsPath string
	Verbose      bool
	// Out receives block output such as the print block.
	Out io.Writer
	// LogOut receives structured logs.
	LogOut io.Writer
	// BufferLogs holds log entries in memory until Close, for full screen
	// output that log lines would corrupt.
	BufferLogs bool
}

func newAppContext(opts appOptions) (*AppContext, error) {
	settings, err := config.LoadSettings(opts.SettingsPath)
	if err != nil {
		return nil, err
	}

	level := settings.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	sink, err := logger.New(logger.Options{
		Level:         level,
		HumanReadable: settings.LogFormat == "console",
		Writer:        opts.LogOut,
		Component:     "graphrun",
	})
	if err != nil {
		return nil, err
	}
	var log ports.Logger = sink
	var buffer *logging.Buffer
	if opts.BufferLogs {
		buffer = logging.NewBuffer(0)
		log = logging.NewBufferedLogger(buffer)
	}

	registry := infrablocks.NewRegistry()
	if err := blocks.RegisterBuiltins(registry, &lockedWriter{w: opts.Out}); err != nil {
		return nil, err
	}
	graphs, err := graphstore.New(log)
	if err != nil {
		return nil, err
	}
	store, err := ledger.NewMemDB(ledger.WithLogger(log))
	if err != nil {
		return nil, err
	}

	app := &AppContext{
		Settings: settings,
		Logger:   log,
		Loader:   infraconfig.NewYAMLLoader(log),
		Registry: registry,
		Graphs:   graphs,
		Ledger:   store,
		Queue:    queue.NewMemory(),

		logBuffer: buffer,
		logSink:   sink,
	}

	// Every live event is logged only in verbose mode.
	var eventLog ports.Logger = logging.NewNoOpLogger()
	if opts.Verbose {
		eventLog = log
	}
	var publisher ports.EventPublisher = events.NewLoggingPublisher(eventLog)
	var leases ports.LeaseManager = lease.NewMemory(nil)
	if settings.RedisURL != "" {
		options, err := redis.ParseURL(settings.RedisURL)
		if err != nil {
			return nil, err
		}
		app.redis = redis.NewClient(options)
		leases = lease.NewRedis(app.redis)
		publisher = events.NewFanout(publisher, events.NewRedisPublisher(app.redis, log))
	}
	app.Events = events.NewAsyncPublisher(publisher, settings.EventBuffer, log)

	policy := engine.DefaultRetryPolicy()
	policy.MaxAttempts = settings.MaxAttempts
	policy.Backoff = settings.RetryBackoff
	policy.LedgerBackoffCap = settings.LedgerBackoffCap

	app.Coordinator = engine.NewCoordinator(graphs, registry, store,
		engine.WithLogger(log),
		engine.WithEvents(app.Events),
		engine.WithLeaseManager(leases),
		engine.WithPool(engine.NewPool(settings.Workers)),
		engine.WithRetryPolicy(policy),
		engine.WithNodeTimeout(settings.NodeTimeout),
		engine.WithIterationCap(settings.IterationCap),
		engine.WithLeaseTTL(settings.LeaseTTL),
	)
	app.Service = execution.NewService(app.Coordinator, store, app.Queue,
		execution.WithLogger(log),
		execution.WithEvents(app.Events),
		execution.WithWorkers(settings.Workers),
	)
	return app, nil
}

// Close flushes pending live events and buffered logs, then releases the
// Redis client.
func (a *AppContext) Close(ctx context.Context) error {
	var errs []error
	if err := a.Events.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.logBuffer != nil {
		a.logBuffer.Flush(a.logSink)
	}
	if err := a.Queue.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Register loads a graph file and stores it, returning the stored version.
func (a *AppContext) Register(ctx context.Context, path string) (*agent.Graph, error) {
	graph, err := a.Loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	ref, err := a.Graphs.Put(ctx, graph)
	if err != nil {
		return nil, err
	}
	return a.Graphs.Get(ctx, ref)
}

// Compile loads a graph file and compiles it against the registry without
// storing it.
func (a *AppContext) Compile(ctx context.Context, path string) (*engine.CompiledGraph, error) {
	graph, err := a.Loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	return engine.Compile(graph, a.Registry)
}

// lockedWriter serialises writes from blocks running on parallel workers.
type lockedWriter struct {
	mu deadlock.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return len(p), nil
	}
	return l.w.Write(p)
}

func currentOwner() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "graphrun"
}
