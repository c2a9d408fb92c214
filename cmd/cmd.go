package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"couple-sync-backend/internal/auth"
	"couple-sync-backend/internal/config"
	"couple-sync-backend/internal/handlers"
	"couple-sync-backend/internal/jobs"
	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/pubsub"
	"couple-sync-backend/internal/push"
	"couple-sync-backend/internal/repository"
	"couple-sync-backend/internal/repository/memstore"
	"couple-sync-backend/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const redisChannelPrefix = "couple:"

// App holds the wired services behind the HTTP router
type App struct {
	Users         *services.UserService
	Pairs         *services.PairService
	Records       *services.RecordService
	Feed          *services.FeedService
	Notifications *services.NotificationService
	Hub           *services.WSHub
}

// NewApp wires services over a store, broker, blacklist, media storage and push sender
func NewApp(cfg *config.Config, store repository.Store, broker pubsub.Broker, blacklist auth.TokenBlacklist, media services.MediaStorage, sender push.Sender) *App {
	hub := services.NewWSHub()
	return &App{
		Users:         services.NewUserService(store, blacklist, cfg.JWT.Secret, cfg.JWT.TTL),
		Pairs:         services.NewPairService(store, hub, cfg.Pairing.CodeTTL, cfg.Pairing.RedeemTimeout),
		Records:       services.NewRecordService(store, broker),
		Feed:          services.NewFeedService(store, media, hub),
		Notifications: services.NewNotificationService(store, sender, hub),
		Hub:           hub,
	}
}

// NewRouter builds the HTTP routes
func NewRouter(app *App) http.Handler {
	userHandler := handlers.NewUserHandler(app.Users)
	pairHandler := handlers.NewPairHandler(app.Pairs)
	recordHandler := handlers.NewRecordHandler(app.Records, app.Users)
	feedHandler := handlers.NewFeedHandler(app.Feed)
	notificationHandler := handlers.NewNotificationHandler(app.Notifications, app.Users)
	wsHandler := handlers.NewWebSocketHandler(app.Hub, app.Users, app.Records)

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/users", userHandler.CreateUser)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(app.Users))

			r.Get("/users/me", userHandler.GetMe)
			r.Patch("/users/me", userHandler.UpdateMe)
			r.Put("/users/me/push-token", userHandler.RegisterPushToken)
			r.Post("/auth/sign-out", userHandler.SignOut)

			r.Post("/pairing/invite", pairHandler.CreateInvite)
			r.Delete("/pairing/invite/{connection_id}", pairHandler.CancelInvite)
			r.Post("/pairing/redeem", pairHandler.RedeemInvite)
			r.Get("/pairing/status", pairHandler.Status)
			r.Delete("/pairing", pairHandler.Unpair)

			r.Get("/couple/{feature}", recordHandler.Get)
			r.Put("/couple/{feature}", recordHandler.Put)
			r.Delete("/couple/{feature}", recordHandler.Delete)

			r.Get("/feed", feedHandler.GetPosts)
			r.Post("/feed", feedHandler.CreatePost)
			r.Post("/feed/upload-url", feedHandler.UploadURL)
			r.Delete("/feed/{post_id}", feedHandler.DeletePost)
			r.Put("/feed/{post_id}/reaction", feedHandler.React)
			r.Post("/feed/{post_id}/comments", feedHandler.Comment)

			r.Get("/notifications", notificationHandler.List)
			r.Post("/notifications", notificationHandler.Send)
			r.Post("/notifications/{notification_id}/read", notificationHandler.MarkRead)
		})
	})

	r.With(middleware.AuthMiddleware(app.Users)).Post("/api/send-thinking-of-you", notificationHandler.SendThinkingOfYou)

	// WebSocket route
	r.Get("/ws", wsHandler.HandleWebSocket)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return r
}

func Run() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("Server exited")
}

func serve(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	var (
		broker    pubsub.Broker       = pubsub.NewLocal()
		blacklist auth.TokenBlacklist = auth.NewMemoryBlacklist()
		relay     *pubsub.Redis
	)
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis connection established")

		relay = pubsub.NewRedis(client, redisChannelPrefix)
		broker = relay
		blacklist = auth.NewRedisBlacklist(client)
	}

	media, err := services.NewS3Storage(ctx, cfg.AWS.Region, cfg.AWS.S3Bucket, cfg.AWS.AccessKey, cfg.AWS.SecretKey, cfg.AWS.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to create media storage: %w", err)
	}

	var sender push.Sender = push.NopSender{}
	if cfg.APNs.Enabled {
		apns, err := push.NewAPNsSender(push.APNsOptions{
			KeyFile:    cfg.APNs.KeyFile,
			KeyID:      cfg.APNs.KeyID,
			TeamID:     cfg.APNs.TeamID,
			Topic:      cfg.APNs.Topic,
			Production: cfg.APNs.Production,
		})
		if err != nil {
			return err
		}
		sender = apns
	}

	app := NewApp(cfg, store, broker, blacklist, media, sender)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      NewRouter(app),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		jobs.NewInviteReaper(app.Pairs, cfg.Pairing.ReapInterval).Start(gctx)
		return nil
	})

	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		app.Hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		app.Notifications.Wait()
		return nil
	})

	return g.Wait()
}

// openStore connects the configured persistence driver
func openStore(ctx context.Context, cfg config.DatabaseConfig) (repository.Store, error) {
	if cfg.Driver == "memory" {
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		return memstore.New(), nil
	}

	dsn := cfg.DSN()
	if cfg.Migrate {
		if err := repository.RunMigrations(dsn); err != nil {
			return nil, err
		}
		log.Info().Msg("Database migrations applied")
	}

	db, err := repository.NewPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Database connection established")
	return db, nil
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
