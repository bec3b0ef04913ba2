// Package app builds the stores, publishers and services shared by the
// server and the one-shot sweep.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prudhvinik1/edgepresence/internal/config"
	"github.com/prudhvinik1/edgepresence/internal/database"
	"github.com/prudhvinik1/edgepresence/internal/feed"
	"github.com/prudhvinik1/edgepresence/internal/handlers"
	"github.com/prudhvinik1/edgepresence/internal/metrics"
	"github.com/prudhvinik1/edgepresence/internal/repositories"
	"github.com/prudhvinik1/edgepresence/internal/scheduler"
	"github.com/prudhvinik1/edgepresence/internal/services"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type App struct {
	Config  *config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics
	Hub     *feed.Hub

	Presence *services.PresenceService
	Sweep    *services.SweepService
	Tokens   *services.TokenService
	Locker   scheduler.Locker

	redis   *redis.Client
	closers []func()
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Log:     log,
		Metrics: metrics.New(),
		Hub:     feed.NewHub(),
		Tokens:  services.NewTokenService(cfg.JWTSecret, cfg.JWTExpiry),
		Locker:  scheduler.NoopLocker{},
	}

	if cfg.StorageDriver == config.StoragePostgres || cfg.FeedDriver == config.FeedRedis {
		client, err := database.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			return nil, err
		}
		a.redis = client
		a.closers = append(a.closers, func() { client.Close() })
		a.Locker = scheduler.NewRedisLocker(client, scheduler.LockKey, cfg.SweepLockTTL)
	}

	stores, err := a.buildStores(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	publisher, err := a.buildPublisher()
	if err != nil {
		a.Close()
		return nil, err
	}

	th := cfg.Thresholds()
	agg := services.NewAggregator(stores.Presence, stores.Users, publisher, a.Metrics, log)
	a.Presence = services.NewPresenceService(stores, agg, th, a.Metrics, log)
	a.Sweep = services.NewSweepService(stores, agg, th, a.Metrics, log)

	log.Info("presence core ready",
		zap.String("storage", cfg.StorageDriver),
		zap.String("feed", cfg.FeedDriver),
		zap.Duration("idle_to_away", th.IdleToAway),
		zap.Duration("away_to_offline", th.AwayToOffline),
		zap.Duration("disconnect_grace", th.DisconnectGrace),
	)
	return a, nil
}

func (a *App) buildStores(ctx context.Context) (services.Stores, error) {
	if a.Config.StorageDriver == config.StorageMemory {
		a.Log.Warn("using in-memory storage; state is lost on restart")
		return services.Stores{
			Connections: repositories.NewMemoryConnectionRepository(),
			Timers:      repositories.NewMemoryTimerRepository(),
			Presence:    repositories.NewMemoryPresenceRepository(),
			Users:       repositories.NewMemoryUserStatusRepository(),
		}, nil
	}

	if a.Config.RunMigrations {
		if err := database.Migrate(ctx, a.Config.DatabaseURL); err != nil {
			return services.Stores{}, err
		}
		a.Log.Info("migrations applied")
	}

	pool, err := database.NewPostgresPool(ctx, a.Config.DatabaseURL, database.PoolOptions{
		MaxConns: a.Config.DBMaxConns,
		MinConns: a.Config.DBMinConns,
	}, a.Log)
	if err != nil {
		return services.Stores{}, err
	}
	a.closers = append(a.closers, pool.Close)

	return services.Stores{
		Connections: repositories.NewPostgresConnectionRepository(pool),
		Timers:      repositories.NewRedisTimerRepository(a.redis),
		Presence:    repositories.NewPostgresPresenceRepository(pool),
		Users:       repositories.NewPostgresUserStatusRepository(pool),
	}, nil
}

// buildPublisher returns the change feed publisher. With the redis feed the
// local hub is fed by Relay, so every replica's changes reach local SSE
// clients; the other drivers publish to the hub directly.
func (a *App) buildPublisher() (feed.Publisher, error) {
	switch a.Config.FeedDriver {
	case config.FeedRedis:
		return feed.NewRedisPublisher(a.redis, a.Config.FeedChannel), nil
	case config.FeedAMQP:
		pub, err := feed.NewAMQPPublisher(a.Config.AMQPURL, a.Config.FeedChannel)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = pub.Close() })
		return feed.Multi{pub, a.Hub}, nil
	case config.FeedNATS:
		pub, err := feed.NewNATSPublisher(a.Config.NATSURL, a.Config.FeedChannel)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = pub.Close() })
		return feed.Multi{pub, a.Hub}, nil
	case config.FeedNone:
		return a.Hub, nil
	}
	return nil, fmt.Errorf("unknown feed driver %q", a.Config.FeedDriver)
}

func (a *App) Router() http.Handler {
	return handlers.NewRouter(handlers.RouterConfig{
		Presence:     a.Presence,
		Tokens:       a.Tokens,
		Sweeper:      a.Sweep,
		SweepKeyHash: a.Config.SweepKeyHash,
		Hub:          a.Hub,
		Metrics:      a.Metrics,
		Log:          a.Log,
	})
}

func (a *App) Scheduler() *scheduler.Scheduler {
	return scheduler.New(a.Sweep, a.Locker, a.Config.SweepInterval, a.Log)
}

// RunRelay forwards the redis feed into the local hub until ctx is done.
// It returns immediately for the other feed drivers.
func (a *App) RunRelay(ctx context.Context) error {
	if a.Config.FeedDriver != config.FeedRedis {
		return nil
	}
	return feed.Relay(ctx, a.redis, a.Config.FeedChannel, a.Hub, a.Log)
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
