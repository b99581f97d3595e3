package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-tracker/config"
	"go-tracker/handlers"
	"go-tracker/logging"
	"go-tracker/realtime"
	"go-tracker/services"
	"go-tracker/supervisor"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Fatal().Err(err).Msg("server exited")
	}
	logging.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	hub := realtime.NewHub()
	health := handlers.NewHealthHandler(hub.ClientCount)
	tree := supervisor.NewTree("go-tracker", supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})

	// Storage
	var store services.UserStore
	if cfg.Mongo.URI == services.MemoryURI {
		logging.Warn().Msg("using in-memory user store; data is lost on restart")
		mem := services.NewMemoryUserStore()
		store = mem
		health.Add("store", mem.Ping)
	} else {
		client, err := services.ConnectMongo(ctx, cfg.Mongo)
		if err != nil {
			return err
		}
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(dctx)
		}()
		mongoStore := services.NewMongoUserStore(client.Database(cfg.Mongo.Database), cfg.Mongo.Collection)
		if err := mongoStore.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("ensure indexes: %w", err)
		}
		store = mongoStore
		health.Add("mongo", mongoStore.Ping)
	}

	// Presence
	var presence services.Presence
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		redisPresence := services.NewRedisPresence(rdb, cfg.Presence.TTL)
		if err := redisPresence.Ping(ctx); err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		presence = redisPresence
		health.Add("redis", redisPresence.Ping)
		logging.Info().Str("addr", cfg.Redis.Addr).Msg("redis presence enabled")
	} else {
		presence = services.NewFreshnessPresence(cfg.Presence.TTL)
	}

	// Realtime fan-out, optionally bridged across instances
	var publisher services.Publisher = hub
	tree.AddMessagingService(supervisor.NewHubService(hub))
	natsURL := cfg.NATS.URL
	if cfg.NATS.EmbeddedPort > 0 {
		embedded, err := realtime.StartEmbeddedNATS("0.0.0.0", cfg.NATS.EmbeddedPort)
		if err != nil {
			return err
		}
		defer embedded.Shutdown()
		if natsURL == "" {
			natsURL = embedded.ClientURL()
		}
		logging.Info().Str("url", embedded.ClientURL()).Msg("embedded nats started")
	}
	if natsURL != "" {
		nc, err := realtime.ConnectNATS(natsURL, cfg.NATS.Name)
		if err != nil {
			return err
		}
		defer nc.Close()
		bridge := realtime.NewNATSBridge(nc, cfg.NATS.Subject, hub)
		publisher = bridge
		tree.AddMessagingService(supervisor.NewNamedService("nats-bridge", bridge))
		health.Add("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats %s", nc.Status())
			}
			return nil
		})
	}

	// Auth
	tokens, err := services.NewSessionTokens(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	if err != nil {
		return err
	}
	jwks := services.NewJWKSCache(cfg.Auth.GoogleJWKSURL, &http.Client{Timeout: cfg.Auth.VerifyTimeout}, cfg.Auth.JWKSCacheTTL)
	verifier := services.NewGoogleVerifier(services.GoogleVerifierConfig{
		ClientID: cfg.Auth.GoogleClientID,
		Issuers:  cfg.Auth.GoogleIssuers,
	}, jwks)

	authService := services.NewAuthService(store, verifier, tokens, presence, cfg.Auth.VerifyTimeout)
	userService := services.NewUserService(store, presence, publisher)

	router := handlers.NewRouter(
		handlers.RouterConfig{
			APIPrefix:       cfg.Server.APIPrefix,
			CORSOrigins:     cfg.Server.CORSOrigins,
			LoginRateLimit:  cfg.Auth.LoginRateLimit,
			LoginRateWindow: cfg.Auth.LoginRateWindow,
		},
		tokens,
		handlers.NewAuthHandler(authService),
		handlers.NewUserHandler(userService),
		handlers.NewWSHandler(hub, cfg.Server.CORSOrigins),
		health,
	)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	tree.AddAPIService(supervisor.NewHTTPServerService(srv, cfg.Server.ShutdownTimeout))

	logging.Info().
		Str("addr", cfg.Server.Addr).
		Str("api_prefix", cfg.Server.APIPrefix).
		Msg("server starting")

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		logging.Warn().Int("count", len(report)).Msg("services did not stop in time")
	}
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
