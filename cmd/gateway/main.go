package main

import (
	"context"
	"errors"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	goredis "github.com/go-redis/redis/v8"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/zlog"

	msghandler "github.com/notifygw/notify-gateway/internal/api/handlers/message"
	"github.com/notifygw/notify-gateway/internal/api/router"
	"github.com/notifygw/notify-gateway/internal/api/server"
	"github.com/notifygw/notify-gateway/internal/backoff"
	"github.com/notifygw/notify-gateway/internal/config"
	"github.com/notifygw/notify-gateway/internal/dispatch"
	"github.com/notifygw/notify-gateway/internal/model"
	msgrunner "github.com/notifygw/notify-gateway/internal/mq/handlers/message"
	"github.com/notifygw/notify-gateway/internal/mq/queue"
	"github.com/notifygw/notify-gateway/internal/ratelimit"
	msgrepo "github.com/notifygw/notify-gateway/internal/repository/message"
	msgsvc "github.com/notifygw/notify-gateway/internal/service/message"
	"github.com/notifygw/notify-gateway/internal/worker"
	"github.com/notifygw/notify-gateway/pkg/email"
	"github.com/notifygw/notify-gateway/pkg/sms"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.Must()
	val := validator.New()

	// RabbitMQ is optional: without it every send takes the synchronous
	// direct path instead of the durable task runner.
	var (
		conn *rabbitmq.Connection
		ch   *rabbitmq.Channel
		q    *queue.DispatchQueue
		err  error
	)
	if cfg.RabbitMQ.Configured() {
		conn, err = rabbitmq.Connect(cfg.RabbitMQ.URL(), cfg.RabbitMQ.Retries, cfg.RabbitMQ.Pause)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
		}

		ch, err = conn.Channel()
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to open channel")
		}

		q, err = queue.NewDispatchQueue(ch)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to create dispatch queue")
		}
	} else {
		zlog.Logger.Warn().Msg("rabbitmq not configured, sends will be delivered synchronously")
	}

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	repo := msgrepo.NewRepository(db)

	dbNum, err := strconv.Atoi(cfg.Redis.Database)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to parse redis database")
	}

	rdb := redis.New(cfg.Redis.Address, cfg.Redis.Password, dbNum)
	if err = rdb.Ping(ctx).Err(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	// A dedicated client for the windowed counters; the shared wbf client
	// stays status-cache only.
	counterClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       dbNum,
	})
	counter := ratelimit.NewRedisCounter(counterClient, "notify")

	smtpPort, err := strconv.Atoi(cfg.Email.SMTPPort)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to parse email smtp port")
	}

	emailClient := email.NewClient(
		cfg.Email.SMTPHost,
		smtpPort,
		cfg.Email.Username,
		cfg.Email.Password,
		cfg.Email.From,
	)
	smsClient := sms.NewClient(sms.Config{
		URL:        cfg.SMS.URL,
		Username:   cfg.SMS.Username,
		Password:   cfg.SMS.Password,
		SenderID:   cfg.SMS.SenderID,
		TemplateID: cfg.SMS.TemplateID,
		Enabled:    cfg.SMS.Enabled,
	}, cfg.Delivery.SendTimeout)

	transports := map[model.Channel]msgsvc.Transport{
		model.ChannelSMS: msgsvc.NewSMSTransport(
			smsClient, counter,
			int(cfg.SMS.ThrottleWindow/time.Second), cfg.SMS.ThrottleLimit,
		),
		model.ChannelEmail: msgsvc.NewEmailTransport(emailClient),
	}

	dq := dispatch.New(counter, cfg.Dispatch.RateLimit, int(cfg.Dispatch.Window/time.Second))

	healthFn := func(ctx context.Context) (map[string]interface{}, error) {
		res := map[string]interface{}{"status": "healthy"}
		if !cfg.SMS.Enabled {
			res["status"] = "disabled"
			return res, nil
		}
		if cfg.SMS.URL == "" || cfg.SMS.Username == "" || cfg.SMS.Password == "" {
			res["status"] = "unhealthy"
			res["error"] = "sms gateway configuration incomplete"
			return res, nil
		}

		res["gateway"] = cfg.SMS.URL
		return res, nil
	}

	var publisher msgsvc.Publisher
	if q != nil {
		publisher = q
	}
	service := msgsvc.NewService(repo, publisher, transports, rdb, dq, healthFn)

	if q != nil {
		runnerCfg := backoff.Config{
			BaseDelay: cfg.Delivery.BackoffBase,
			MaxDelay:  cfg.Delivery.BackoffMax,
		}
		runner := msgrunner.NewHandler(service, q, runnerCfg, cfg.Delivery.MaxAttempts)
		dispatcher := worker.NewDispatcher(q, runner)

		go dispatcher.Run(ctx, cfg.Retry, cfg.Workers.Count)
	}

	handler := msghandler.NewHandler(service, val, cfg)

	r := router.New(handler)
	s := server.New(cfg.Server.HTTPPort, r)

	go func() {
		if err := s.ListenAndServe(); err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	zlog.Logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}

	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}

	for i, slave := range db.Slaves {
		if err := slave.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}

	if err := counterClient.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close redis counter client")
	}

	if ch != nil {
		if err := ch.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ channel")
		}
	}

	if conn != nil {
		if err := conn.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ connection")
		}
	}
}
