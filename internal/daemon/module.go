package daemon

import (
	"context"
	"os"
	"path/filepath"

	"github.com/Tq-Khanhs/Backend-messaging-app/internal/auth"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/bus"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/config"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/dispatch"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/gateway"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/group"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/lock"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/logging"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/message"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/metrics"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/registry"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/room"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/status"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Config config.Config
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideIssuer,
			provideRegistry,
			provideRoomTable,
			provideDispatcher,
			provideAuthorizer,
			provideAuthority,
			provideEngine,
			provideMetrics,
			provideGateway,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := os.MkdirAll(p.Config.DataDir, 0o755); err != nil {
		return nil, err
	}
	return logging.New(p.Config.DataDir, p.Config.Debug)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data directory lock", zap.String("dir", p.Config.DataDir))
	l, err := lock.Acquire(p.Config.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data directory lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := filepath.Join(p.Config.DataDir, "messaging.db")
	db, err := store.Open(dbPath)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideIssuer(p Params) *auth.Issuer {
	return auth.NewIssuer(p.Config.TokenSecret, p.Config.TokenTTL.Std())
}

func provideRegistry(b *bus.Bus, logger *zap.Logger) *registry.Registry {
	return registry.New(b, logger)
}

func provideRoomTable() *room.Table {
	return room.NewTable()
}

func provideDispatcher(reg *registry.Registry, table *room.Table, db *store.DB, b *bus.Bus, logger *zap.Logger) *dispatch.Dispatcher {
	return dispatch.New(reg, table, db, b, logger)
}

func provideAuthorizer(db *store.DB, table *room.Table, d *dispatch.Dispatcher, logger *zap.Logger) *room.Authorizer {
	return room.NewAuthorizer(db, table, d, logger)
}

func provideAuthority(db *store.DB, d *dispatch.Dispatcher, logger *zap.Logger) *group.Authority {
	return group.NewAuthority(db, d, logger)
}

func provideEngine(p Params, db *store.DB, d *dispatch.Dispatcher, logger *zap.Logger) *message.Engine {
	return message.NewEngine(db, d, p.Config.RecallWindow.Std(), logger)
}

func provideMetrics(b *bus.Bus) *metrics.Collector {
	return metrics.New(b)
}

func provideGateway(p Params, issuer *auth.Issuer, reg *registry.Registry, authz *room.Authorizer, d *dispatch.Dispatcher, eng *message.Engine, m *status.Machine, b *bus.Bus, logger *zap.Logger) *gateway.Gateway {
	return gateway.New(issuer, reg, authz, d, eng, m, b, logger, gateway.Options{
		EventRate:  p.Config.EventRate,
		EventBurst: p.Config.EventBurst,
		SendBuffer: p.Config.SendBuffer,
	})
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, collector *metrics.Collector, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			collector.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
					_ = machine.Transition(status.Error)
				}
			}()

			if err := machine.Transition(status.Ready); err != nil {
				return err
			}
			logger.Info("daemon ready")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = machine.Transition(status.Draining)
			srv.Stop(ctx)
			collector.Stop()
			_ = machine.Transition(status.Stopped)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
