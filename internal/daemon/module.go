// Package daemon composes the tracker process with fx.
package daemon

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/matheus3301/wptrack/internal/api"
	"github.com/matheus3301/wptrack/internal/archive"
	"github.com/matheus3301/wptrack/internal/bus"
	"github.com/matheus3301/wptrack/internal/config"
	"github.com/matheus3301/wptrack/internal/ingest"
	"github.com/matheus3301/wptrack/internal/lock"
	"github.com/matheus3301/wptrack/internal/logging"
	"github.com/matheus3301/wptrack/internal/media"
	"github.com/matheus3301/wptrack/internal/metrics"
	"github.com/matheus3301/wptrack/internal/paths"
	"github.com/matheus3301/wptrack/internal/qr"
	"github.com/matheus3301/wptrack/internal/status"
	"github.com/matheus3301/wptrack/internal/store"
	"github.com/matheus3301/wptrack/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	Layout     paths.Layout
	Config     *config.Config
	SocketPath string // optional override for testing; empty = use default
}

// Session is the WhatsApp connection driven by the daemon.
type Session interface {
	Start(sink wa.Sink) error
	Destroy() error
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			metrics.New,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideMediaStore,
			provideQRFile,
			providePipeline,
			provideAdapter,
			provideSession,
			provideArchive,
			provideAPIService,
			NewServer,
			NewMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	logger, err := logging.New(logging.Options{
		Path:  p.Layout.LogPath(),
		Level: p.Config.LogLevel,
		Plain: p.Config.Container,
	})
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("profile", p.Profile)), nil
}

func provideBus(m *metrics.Metrics) *bus.Bus {
	return bus.New(bus.WithDropHook(func(kind string) {
		m.BusDropped.WithLabelValues(kind).Inc()
	}))
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := p.Layout.Ensure(); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock")
	l, err := lock.Acquire(p.Layout.LockPath())
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// storeOptions maps the database config onto the store, defaulting the
// sqlite file into the profile directory.
func storeOptions(p Params) store.Options {
	db := p.Config.Database
	opts := store.Options{
		Dialect:  store.Dialect(db.Driver),
		Path:     db.Path,
		Host:     db.Host,
		Port:     db.Port,
		User:     db.User,
		Password: db.Password,
		Name:     db.Name,
		PoolSize: db.PoolSize,
	}
	if opts.Dialect == store.SQLite && opts.Path == "" {
		opts.Path = p.Layout.MetadataDBPath()
	}
	return opts
}

// provideStore opens and migrates the metadata store. The lock is a dependency
// so two daemons never migrate the same profile. Any failure aborts startup.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	opts := storeOptions(p)
	db, err := store.Open(opts)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("dialect", string(db.Dialect())), zap.Int("pool_size", opts.PoolSize))
	return db, nil
}

func provideMediaStore(p Params) *media.Store {
	dir := p.Config.MediaPath
	if dir == "" {
		dir = p.Layout.MediaDir()
	}
	return media.NewStore(dir)
}

func provideQRFile(p Params) *qr.File {
	return qr.NewFile(p.Layout.QRPath())
}

func providePipeline(p Params, db *store.DB, ms *media.Store, qf *qr.File, m *status.Machine, b *bus.Bus, mt *metrics.Metrics, logger *zap.Logger) *ingest.Pipeline {
	var terminal io.Writer
	if !p.Config.Headless {
		terminal = os.Stdout
	}
	return ingest.New(ingest.Config{
		Metadata:     db,
		Media:        ms,
		QRFile:       qf,
		Machine:      m,
		Bus:          b,
		Metrics:      mt,
		Logger:       logger,
		Terminal:     terminal,
		QueueSize:    p.Config.Pipeline.QueueSize,
		MediaTimeout: p.Config.Pipeline.MediaTimeout.Duration,
	})
}

func deviceName(p Params) string {
	if p.Config.Container {
		return "wptrack"
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "wptrack"
	}
	return fmt.Sprintf("wptrack (%s)", host)
}

func provideAdapter(p Params, _ *lock.Lock, logger *zap.Logger) (*wa.Adapter, error) {
	sessionDir := p.Config.SessionPath
	if sessionDir == "" {
		sessionDir = p.Layout.SessionDir()
	}
	return wa.NewAdapter(context.Background(), wa.Options{
		SessionDB:  paths.SessionDBPath(sessionDir),
		DeviceName: deviceName(p),
	}, logger)
}

func provideSession(a *wa.Adapter) Session {
	return a
}

func provideArchive(db *store.DB, a *wa.Adapter, pl *ingest.Pipeline, m *status.Machine, logger *zap.Logger) *archive.Service {
	return archive.New(archive.Config{
		Reader:  db,
		Gateway: a,
		Sink:    pl,
		Machine: m,
		QR:      pl,
		Dropped: pl.Dropped,
		Logger:  logger,
	})
}

func provideAPIService(p Params, a *archive.Service, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(a, b, p.Profile, logger)
}

type lifecycleDeps struct {
	fx.In

	Lifecycle fx.Lifecycle
	Params    Params
	Server    *Server
	Metrics   *MetricsServer
	Lock      *lock.Lock
	DB        *store.DB
	Pipeline  *ingest.Pipeline
	Session   Session
	Machine   *status.Machine
	Logger    *zap.Logger
}

func registerLifecycle(d lifecycleDeps) {
	logger := d.Logger
	d.Lifecycle.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := d.Metrics.Start(); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}

			d.Pipeline.Start()

			// Start gRPC server in background.
			go func() {
				if err := d.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			// The session reports its progress through the pipeline; a
			// failed first connect leaves the daemon up and queryable.
			if err := d.Session.Start(d.Pipeline); err != nil {
				logger.Error("whatsapp session start failed", zap.Error(err))
				if err := d.Machine.Transition(status.Disconnected); err != nil {
					logger.Warn("status transition rejected", zap.Error(err))
				}
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := d.Machine.Transition(status.ShuttingDown); err != nil {
				logger.Warn("status transition rejected", zap.Error(err))
			}
			d.Server.Stop(ctx)
			if err := d.Metrics.Stop(ctx); err != nil {
				logger.Warn("metrics server shutdown", zap.Error(err))
			}

			drainCtx, cancel := context.WithTimeout(ctx, d.Params.Config.Pipeline.ShutdownTimeout.Duration)
			if err := d.Pipeline.Stop(drainCtx); err != nil {
				logger.Warn("pipeline did not drain", zap.Error(err))
			}
			cancel()

			if err := d.Session.Destroy(); err != nil {
				logger.Warn("error closing whatsapp session", zap.Error(err))
			}
			if err := d.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
