package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/rabbitmq"
	wbfredis "github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/pushbox/outbox-dispatcher/internal/api/handlers/notification"
	"github.com/pushbox/outbox-dispatcher/internal/api/middleware"
	"github.com/pushbox/outbox-dispatcher/internal/api/router"
	"github.com/pushbox/outbox-dispatcher/internal/api/server"
	"github.com/pushbox/outbox-dispatcher/internal/config"
	"github.com/pushbox/outbox-dispatcher/internal/deadletter"
	"github.com/pushbox/outbox-dispatcher/internal/dispatcher"
	"github.com/pushbox/outbox-dispatcher/internal/outbox"
	"github.com/pushbox/outbox-dispatcher/internal/provider/fcm"
	"github.com/pushbox/outbox-dispatcher/internal/provider/registry"
	"github.com/pushbox/outbox-dispatcher/internal/provider/wns"
	"github.com/pushbox/outbox-dispatcher/internal/retrypolicy"
	"github.com/pushbox/outbox-dispatcher/internal/statuscache"
	"github.com/pushbox/outbox-dispatcher/pkg/email"
	"github.com/pushbox/outbox-dispatcher/pkg/telegram"

	fakeprovider "github.com/pushbox/outbox-dispatcher/internal/provider/fake"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.Must()

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	}

	db, err := dbpg.New(cfg.DB.ConnectionString, nil, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	store := outbox.New(db)

	rdb := wbfredis.New(cfg.Cache.RedisAddress, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
	if err := rdb.Ping(ctx).Err(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	cache := statuscache.New(store, rdb.Client, retry.Strategy{Attempts: 3, Delay: 50 * time.Millisecond, Backoff: 2}, cfg.Cache.TTL)

	policy := retrypolicy.New(
		time.Duration(cfg.Retry.BaseDelaySeconds)*time.Second,
		time.Duration(cfg.Retry.MaxDelaySeconds)*time.Second,
		cfg.Retry.JitterFactor,
	)

	reg := buildRegistry(cfg)

	dlp := buildDeadLetterPublisher(cfg)

	disp := dispatcher.New(store, reg, policy, dlp, dispatcher.Config{
		BatchSize:      cfg.Dispatcher.BatchSize,
		PollInterval:   time.Duration(cfg.Dispatcher.PollIntervalSec) * time.Second,
		MaxConcurrency: cfg.Dispatcher.MaxConcurrency,
	})
	go disp.Run(ctx)

	val := validator.New()
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	handler := notification.NewHandler(store, cache, val, cfg.Dispatcher.DefaultMaxRetries)

	r := router.New(handler, limiter)
	s := server.New(cfg.Server.HTTPPort, r, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)

	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	zlog.Logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}

	if err := db.Master.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close database")
	}

	zlog.Logger.Info().Msg("dispatcher stopped")
}

// buildRegistry wires the Fake provider (always available) plus every
// real/demo provider whose credentials were supplied in config.
func buildRegistry(cfg *config.Config) *registry.Registry {
	reg := registry.New()
	reg.MustRegister("fake", fakeprovider.New())

	if cfg.Providers.WNS.ClientID != "" {
		reg.MustRegister("wns", wns.New(wns.Config{
			ClientID:     cfg.Providers.WNS.ClientID,
			ClientSecret: cfg.Providers.WNS.ClientSecret,
			TenantID:     cfg.Providers.WNS.TenantID,
			TokenURL:     cfg.Providers.WNS.TokenURL,
			PushURL:      cfg.Providers.WNS.PushURL,
		}))
	}

	if cfg.Providers.FCM.ServerKey != "" {
		reg.MustRegister("fcm", fcm.New(fcm.Config{
			ProjectID: cfg.Providers.FCM.ProjectID,
			ServerKey: cfg.Providers.FCM.ServerKey,
			Endpoint:  cfg.Providers.FCM.Endpoint,
		}))
	}

	if cfg.Providers.Email.SMTPHost != "" {
		reg.MustRegister("email", email.New(
			cfg.Providers.Email.SMTPHost,
			cfg.Providers.Email.SMTPPort,
			cfg.Providers.Email.Username,
			cfg.Providers.Email.Password,
			cfg.Providers.Email.From,
		))
	}

	if cfg.Providers.Telegram.Token != "" {
		reg.MustRegister("telegram", telegram.New(cfg.Providers.Telegram.Token))
	}

	return reg
}

// buildDeadLetterPublisher connects to RabbitMQ and declares the DLQ
// exchange only when deadletter.enabled is set; otherwise it returns
// the no-op implementation so a disabled publisher never touches the
// network.
func buildDeadLetterPublisher(cfg *config.Config) dispatcher.DeadLetterPublisher {
	if !cfg.DeadLetter.Enabled {
		return deadletter.NoOp{}
	}

	conn, err := rabbitmq.Connect(cfg.DeadLetter.AMQPURL, 5, 2*time.Second)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("deadletter: failed to connect to rabbitmq, disabling publisher")
		return deadletter.NoOp{}
	}

	ch, err := conn.Channel()
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("deadletter: failed to open channel, disabling publisher")
		return deadletter.NoOp{}
	}

	pub, err := deadletter.New(ch, cfg.DeadLetter.Exchange)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("deadletter: failed to declare exchange, disabling publisher")
		return deadletter.NoOp{}
	}

	return pub
}
