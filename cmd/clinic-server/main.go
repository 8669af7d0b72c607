package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/booking"
	"github.com/clinic/clinic/internal/domain/conversation"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/events"
	"github.com/clinic/clinic/internal/platform/livefeed"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/notification"
	"github.com/clinic/clinic/internal/platform/reminder"
	"github.com/clinic/clinic/pkg/validation"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "clinic-server",
		Short:         "Clinic appointment scheduling service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(availabilityCmd())
	root.AddCommand(remindersCmd())
	root.AddCommand(tokenCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and reminder scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger() zerolog.Logger {
	if os.Getenv("ENV") == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadConfig loads and validates configuration, exiting on failure.
func loadConfig(logger zerolog.Logger) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	return cfg
}

// newPublisher fans events out to the broker and the chat webhook, whichever
// are configured.
func newPublisher(cfg *config.Config, logger zerolog.Logger) events.Publisher {
	var pubs events.Fanout
	if cfg.AMQPURL != "" {
		pub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to message broker")
		}
		logger.Info().Str("exchange", cfg.AMQPExchange).Msg("connected to message broker")
		pubs = append(pubs, pub)
	}
	if cfg.WebhookURL != "" {
		pub, err := events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret,
			events.WithWebhookLogger(logger.With().Str("component", "webhook").Logger()))
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid chat webhook")
		}
		pubs = append(pubs, pub)
	}
	switch len(pubs) {
	case 0:
		logger.Warn().Msg("neither AMQP_URL nor CHAT_WEBHOOK_URL set: events are dropped")
		return events.NopPublisher{Logger: logger}
	case 1:
		return pubs[0]
	}
	return pubs
}

func newEmailSender(cfg *config.Config, logger zerolog.Logger) notification.EmailSender {
	if !cfg.SMTPEnabled() {
		return notification.LogSender{Logger: logger}
	}
	return notification.NewSMTPSender(notification.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.EmailSender,
	})
}

func newConversationStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) conversation.Store {
	if cfg.RedisURL == "" {
		store := conversation.NewMemoryStore(cfg.ConversationTTL)
		go conversation.RunSweeper(ctx, store, time.Minute, func(n int, _ error) {
			if n > 0 {
				logger.Debug().Int("evicted", n).Msg("expired conversations swept")
			}
		})
		return store
	}
	client, err := conversation.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	logger.Info().Msg("conversation state in redis")
	return conversation.NewRedisStore(client, cfg.ConversationTTL)
}

// newService wires the booking service over Postgres.
func newService(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger, notifiers ...booking.Notifier) (*booking.Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return booking.NewService(
		booking.NewAvailabilityRepoPG(pool),
		booking.NewAppointmentRepoPG(pool),
		booking.NewTxRunnerPG(pool),
		booking.WithNotifiers(notifiers...),
		booking.WithLocation(loc),
		booking.WithLogger(logger.With().Str("component", "booking").Logger()),
	), nil
}

func runServer() error {
	logger := newLogger()
	cfg := loadConfig(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	live := livefeed.NewHub(logger.With().Str("component", "livefeed").Logger())
	publisher := events.Fanout{newPublisher(cfg, logger), live}
	defer publisher.Close()

	notifications := notification.NewManager(newEmailSender(cfg, logger), notification.NewTemplateEngine())
	notifiers := []booking.Notifier{booking.EventNotifier{Publisher: publisher}}
	if cfg.EmailReceiver != "" {
		notifiers = append(notifiers, booking.EmailNotifier{Manager: notifications, Recipient: cfg.EmailReceiver})
	}
	dispatcher := booking.NewDispatcher(logger.With().Str("component", "notify").Logger(), 256, 15*time.Second, notifiers...)
	dispatcher.Start(2)
	defer dispatcher.Close()

	svc, err := newService(cfg, pool, logger, dispatcher)
	if err != nil {
		return err
	}

	flow := conversation.NewFlow(svc, newConversationStore(ctx, cfg, logger), logger.With().Str("component", "conversation").Logger())

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.PoolHealthHandler(pool))

	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{Issuer: cfg.AuthIssuer, SigningKey: []byte(cfg.AuthSigningKey)})
	}
	apiV1 := e.Group("/api/v1", authMW, middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}))

	booking.NewHandler(svc, logger).RegisterRoutes(apiV1)
	conversation.NewHandler(flow, logger).RegisterRoutes(apiV1)
	notification.NewHandler(notifications).RegisterRoutes(apiV1.Group("", auth.RequireRole(auth.RoleAdmin)))
	livefeed.NewHandler(live, cfg.CORSOrigins).RegisterRoutes(apiV1)

	sched := reminder.NewScheduler(svc, publisher, logger.With().Str("component", "reminder").Logger())
	sched.Hour = cfg.ReminderHour
	sched.Location = svc.Location()
	go sched.Start(ctx)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
