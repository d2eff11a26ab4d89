package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/smallbiznis/hubspot-connector/internal/adapter/cache"
	"github.com/smallbiznis/hubspot-connector/internal/adapter/hubspot"
	"github.com/smallbiznis/hubspot-connector/internal/cipher"
	"github.com/smallbiznis/hubspot-connector/internal/config"
	httptransport "github.com/smallbiznis/hubspot-connector/internal/http"
	"github.com/smallbiznis/hubspot-connector/internal/http/handler"
	"github.com/smallbiznis/hubspot-connector/internal/identity"
	"github.com/smallbiznis/hubspot-connector/internal/metrics"
	"github.com/smallbiznis/hubspot-connector/internal/repository"
	"github.com/smallbiznis/hubspot-connector/internal/server"
	"github.com/smallbiznis/hubspot-connector/internal/service/gateway"
	"github.com/smallbiznis/hubspot-connector/internal/service/token"
	"github.com/smallbiznis/hubspot-connector/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newCipher,
			metrics.New,
			newStorage,
			newTokenStore,
			newHubSpotClient,
			newIdentityResolver,
			newTokenService,
			newGateway,
			newConnectorHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Environment == "development" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	if cfg.DebugTokens {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}

func newCipher(cfg config.Config) (*cipher.Cipher, error) {
	return cipher.New(cfg.EncryptionSecret)
}

// storage is the database behind the token store, chosen by driver and
// schema variant.
type storage struct {
	tokens     repository.TokenStore
	identities repository.IdentityRepository
	ping       handler.PingFunc
}

func newStorage(lc fx.Lifecycle, cfg config.Config, node *snowflake.Node, sealer *cipher.Cipher, logger *zap.Logger) (*storage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.StoreDriver == config.DriverSQLite {
		db, err := repository.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return db.Close()
			},
		})
		logger.Info("token store ready", zap.String("driver", cfg.StoreDriver), zap.String("path", cfg.SQLitePath))
		return &storage{
			tokens: repository.NewSQLiteTokenRepo(db, sealer, logger),
			ping:   db.PingContext,
		}, nil
	}

	pool, err := newPGXPool(ctx, lc, cfg)
	if err != nil {
		return nil, err
	}
	if err := repository.MigratePostgres(ctx, pool, cfg.StoreVariant); err != nil {
		return nil, err
	}
	logger.Info("token store ready", zap.String("driver", cfg.StoreDriver), zap.String("variant", cfg.StoreVariant))

	st := &storage{ping: pool.Ping}
	if cfg.MultiTenant() {
		st.tokens = repository.NewPostgresOrgTokenRepo(pool, node, sealer, logger)
		st.identities = repository.NewPostgresIdentityRepo(pool, node)
	} else {
		st.tokens = repository.NewPostgresTokenRepo(pool, node, sealer, logger)
	}
	return st, nil
}

func newPGXPool(ctx context.Context, lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newTokenStore(lc fx.Lifecycle, cfg config.Config, st *storage, sealer *cipher.Cipher, logger *zap.Logger) (repository.TokenStore, error) {
	if !cfg.CacheEnabled() {
		return st.tokens, nil
	}
	client, err := newRedisClient(lc, cfg)
	if err != nil {
		return nil, err
	}
	return cacheadapter.NewTokenCache(st.tokens, client, sealer, cfg.TokenCacheTTL, logger), nil
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newHubSpotClient(cfg config.Config) *hubspot.Client {
	return hubspot.NewClient(hubspot.Config{
		ClientID:     cfg.HubSpotClientID,
		ClientSecret: cfg.HubSpotClientSecret,
		RedirectURI:  cfg.HubSpotRedirectURI,
		Scopes:       cfg.HubSpotScopes,
		AuthURL:      cfg.HubSpotAuthURL,
		TokenURL:     cfg.HubSpotTokenURL,
		APIBaseURL:   cfg.HubSpotAPIBaseURL,
	}, &http.Client{Timeout: cfg.HTTPClientTimeout})
}

func newIdentityResolver(st *storage, hub *hubspot.Client, logger *zap.Logger) token.IdentityResolver {
	if st.identities == nil {
		return nil
	}
	return identity.NewResolver(st.identities, hub, logger)
}

func newTokenService(hub *hubspot.Client, store repository.TokenStore, resolver token.IdentityResolver, m *metrics.Metrics, logger *zap.Logger) token.Service {
	return token.NewService(hub, store, resolver, m, logger)
}

func newGateway(store repository.TokenStore, hub *hubspot.Client, tokens token.Service, m *metrics.Metrics, logger *zap.Logger) *gateway.Gateway {
	return gateway.NewGateway(store, hub, tokens, m, logger)
}

func newConnectorHandler(tokens token.Service, gw *gateway.Gateway, st *storage, logger *zap.Logger) *handler.ConnectorHandler {
	return handler.NewConnectorHandler(tokens, gw, st.ping, logger)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
