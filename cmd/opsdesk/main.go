package main

import (
	"context"
	"errors"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/zlog"

	notifhandler "github.com/opsdeskhq/opsdesk/internal/api/handlers/notification"
	msghandler "github.com/opsdeskhq/opsdesk/internal/api/handlers/scheduledmessage"
	"github.com/opsdeskhq/opsdesk/internal/api/router"
	"github.com/opsdeskhq/opsdesk/internal/api/server"
	"github.com/opsdeskhq/opsdesk/internal/api/ws"
	"github.com/opsdeskhq/opsdesk/internal/config"
	"github.com/opsdeskhq/opsdesk/internal/events"
	notifrepo "github.com/opsdeskhq/opsdesk/internal/repository/notification"
	msgrepo "github.com/opsdeskhq/opsdesk/internal/repository/scheduledmessage"
	notifsvc "github.com/opsdeskhq/opsdesk/internal/service/notification"
	msgsvc "github.com/opsdeskhq/opsdesk/internal/service/scheduledmessage"
	"github.com/opsdeskhq/opsdesk/pkg/convo"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.Must()
	val := validator.New()

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL(), cfg.RabbitMQ.Retries, cfg.RabbitMQ.Pause)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}

	stream, err := events.NewStream(conn)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to create notification stream")
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

	dbNum, err := strconv.Atoi(cfg.Redis.Database)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to parse redis database")
	}

	rdb := redis.New(cfg.Redis.Address, cfg.Redis.Password, dbNum)
	if err = rdb.Ping(ctx).Err(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	contacts := convo.NewClient(cfg.Convo.BaseURL, cfg.Convo.Token)

	messageService := msgsvc.NewService(msgrepo.NewRepository(db), contacts, rdb)
	notificationService := notifsvc.NewService(notifrepo.NewRepository(db), stream)

	messageHandler := msghandler.NewHandler(messageService, val, cfg)
	notificationHandler := notifhandler.NewHandler(notificationService, val, cfg)
	socketHandler := ws.NewHandler(notificationService, stream, cfg)

	r := router.New(messageHandler, notificationHandler, socketHandler)
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

	for i, s := range db.Slaves {
		if err := s.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}

	if err := stream.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close publish channel")
	}

	if err := conn.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ connection")
	}
}
