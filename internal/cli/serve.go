package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"erp_wa/internal/cache"
	"erp_wa/internal/config"
	"erp_wa/internal/database"
	"erp_wa/internal/eventbus"
	"erp_wa/internal/handlers"
	"erp_wa/internal/logging"
	"erp_wa/internal/repository"
	"erp_wa/internal/services"
	"erp_wa/internal/whatsapp"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the WhatsApp session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	log := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := database.Migrate(db, cfg.Verification.TemplateCode); err != nil {
		return err
	}
	log.Info().Str("type", cfg.Database.Type).Msg("database ready")

	sentCache, closeCache, err := openCache(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer closeCache()

	bus := eventbus.New(logging.Component(log, "eventbus"))
	unsubscribe := subscribeLogging(bus, logging.Component(log, "events"))
	defer unsubscribe()

	transport := whatsapp.NewWhatsmeowTransport(storeConfig(cfg), logging.Component(log, "whatsmeow"))
	manager := whatsapp.NewManager(transport, bus, whatsapp.ManagerConfig{
		MaxReconnectAttempts: cfg.WhatsApp.MaxReconnectAttempts,
		ReconnectDelay:       cfg.WhatsApp.ReconnectDelay,
	}, logging.Component(log, "whatsapp"))
	defer manager.Close()

	location, err := time.LoadLocation(cfg.Messaging.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", cfg.Messaging.Timezone).Msg("unknown timezone, using UTC")
		location = time.UTC
	}

	logs := repository.NewMessageLogRepository(db)
	verifications := repository.NewVerificationRepository(db)

	messages := services.NewMessageService(manager, repository.NewTemplateRepository(db), logs, sentCache, services.MessageServiceConfig{
		Defaults: services.TemplateDefaults{
			AppName:    cfg.Messaging.AppName,
			Location:   location,
			DateFormat: cfg.Messaging.DateFormat,
			TimeFormat: cfg.Messaging.TimeFormat,
		},
		DefaultCountryCode: cfg.WhatsApp.DefaultCountryCode,
	}, logging.Component(log, "messages"))

	verification := services.NewVerificationService(manager, messages, verifications,
		services.NewOTPService(6, cfg.Verification.BcryptCost),
		services.VerificationServiceConfig{
			TemplateCode: cfg.Verification.TemplateCode,
			AppName:      cfg.Messaging.AppName,
		}, logging.Component(log, "verification"))

	router := handlers.NewRouter(handlers.Dependencies{
		Session:      manager,
		Messages:     messages,
		Logs:         logs,
		Notifier:     services.NewNotificationService(messages, verifications),
		Verifier:     verification,
		Tokens:       services.NewAuthService(cfg.Auth.JWTSecret),
		HealthCheck:  func(ctx context.Context) error { return database.Ping(ctx, db) },
		ConnectGrace: cfg.WhatsApp.ConnectGrace,
		CountryCode:  cfg.WhatsApp.DefaultCountryCode,
		Log:          logging.Component(log, "http"),
	})

	if cfg.WhatsApp.AutoConnect {
		go func() {
			if _, err := manager.Connect(ctx); err != nil {
				log.Error().Err(err).Msg("automatic whatsapp connect failed")
			}
		}()
	}

	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Address).Msg("ERP WhatsApp API started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}

	log.Info().Msg("server stopped")
	return nil
}

// openCache connects to Redis when enabled. Without Redis, delivery lookups fall back
// to the message log.
func openCache(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (cache.MessageCache, func(), error) {
	if !cfg.Enabled {
		return cache.Nop{}, func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}

	log.Info().Str("addr", cfg.Addr).Dur("ttl", cfg.SentTTL).Msg("redis sent-message cache enabled")
	return cache.NewRedisCache(rdb, cfg.SentTTL), func() { rdb.Close() }, nil
}

// subscribeLogging records session changes and inbound messages in the log. Inbound
// messages are drained on their own goroutine so a burst never stalls the session.
// The returned function stops both and waits for the drain to finish.
func subscribeLogging(bus *eventbus.Bus, log zerolog.Logger) func() {
	unsubStatus := bus.Subscribe(eventbus.TopicStatus, func(payload any) error {
		st, ok := payload.(whatsapp.Status)
		if !ok {
			return fmt.Errorf("unexpected status payload %T", payload)
		}
		log.Info().Str("state", string(st.State)).Int("reconnect_attempts", st.ReconnectAttempts).Msg("whatsapp status changed")
		return nil
	})
	unsubQR := bus.Subscribe(eventbus.TopicQR, func(payload any) error {
		log.Info().Msg("new pairing code available at /api/whatsapp/status")
		return nil
	})

	inbound, unsubMessage := bus.Channel(eventbus.TopicMessage, 64)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for payload := range inbound {
			msg, ok := payload.(whatsapp.InboundMessage)
			if !ok {
				log.Warn().Str("type", fmt.Sprintf("%T", payload)).Msg("unexpected message payload")
				continue
			}
			log.Info().Str("from", msg.From).Str("push_name", msg.PushName).Str("id", msg.ID).Msg("inbound whatsapp message")
		}
	}()

	return func() {
		unsubStatus()
		unsubQR()
		unsubMessage()
		<-drained
	}
}
