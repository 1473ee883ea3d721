package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/gochat-hub/config"
	"github.com/Tyrowin/gochat-hub/internal/auth"
	"github.com/Tyrowin/gochat-hub/internal/delivery/kafka/consumer"
	"github.com/Tyrowin/gochat-hub/internal/delivery/kafka/producer"
	"github.com/Tyrowin/gochat-hub/internal/infra/redis"
	"github.com/Tyrowin/gochat-hub/internal/observability"
	"github.com/Tyrowin/gochat-hub/internal/realtime"
	repo "github.com/Tyrowin/gochat-hub/internal/repository/redis"
	"github.com/Tyrowin/gochat-hub/internal/server"
	pkgKafka "github.com/Tyrowin/gochat-hub/pkg/kafka"
	pkgLog "github.com/Tyrowin/gochat-hub/pkg/logger"
)

func runServe(ctx context.Context, envFile string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFile(envFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	l := pkgLog.InitializeZapLogger(pkgLog.ZapConfig{
		Level:    cfg.Log.Level,
		Mode:     cfg.Log.Mode,
		Encoding: cfg.Log.Encoding,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	hubOpts := []realtime.Option{
		realtime.WithMetrics(metrics),
		realtime.WithLogger(l),
	}

	srvOpts := []server.Option{
		server.WithMetrics(metrics, reg),
		server.WithLogger(l),
	}

	var membership repo.MembershipRepository
	if cfg.Redis.Enabled {
		redisCli, err := redis.Connect(ctx, cfg.Redis, l)
		if err != nil {
			return err
		}
		defer redis.Disconnect(redisCli, l)

		membership = repo.NewRedisMembershipRepository(redisCli, l)
		statuses := repo.NewRedisStatusRepository(redisCli, l)
		hubOpts = append(hubOpts,
			realtime.WithMembership(membership),
			realtime.WithPresenceSink(statuses),
		)
		srvOpts = append(srvOpts, server.WithStatusLookup(statuses))
	}

	var kConsGrCli sarama.ConsumerGroup
	if cfg.Kafka.Enabled {
		kSyncProd, err := pkgKafka.NewProducer(pkgKafka.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			RetryMax:     cfg.Kafka.ProducerRetryMax,
			RequiredAcks: cfg.Kafka.ProducerRequiredAcks,
		}, l)
		if err != nil {
			return err
		}
		prod := producer.NewProducer(kSyncProd, l)
		defer func() {
			if err := prod.Close(); err != nil {
				l.Errorf(ctx, "main.runServe: close producer: %v", err)
			}
		}()
		hubOpts = append(hubOpts, realtime.WithPresenceSink(prod))

		kConsGrCli, err = pkgKafka.NewConsumer(pkgKafka.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.ConsumerGroupID,
		}, l)
		if err != nil {
			return err
		}
	}

	hub := realtime.NewHub(hubOptions(cfg.Realtime), hubOpts...)
	srv := server.New(server.ConfigFrom(cfg), hub, auth.NewJWTAuthenticator(cfg.JWT.Secret), srvOpts...)

	g, gctx := errgroup.WithContext(ctx)

	if err := hub.Start(gctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}
	if kConsGrCli != nil {
		cons := consumer.NewConsumer(kConsGrCli, hub, membership, metrics, l)
		if err := cons.Start(gctx); err != nil {
			return fmt.Errorf("failed to start consumer: %w", err)
		}
		defer func() {
			if err := cons.Close(); err != nil {
				l.Errorf(ctx, "main.runServe: close consumer: %v", err)
			}
		}()
	}

	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		l.Info(ctx, "main.runServe: shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		l.Errorf(ctx, "main.runServe: %v", err)
		return err
	}

	l.Info(ctx, "main.runServe: server exited")
	return nil
}

func hubOptions(rt config.RealtimeConfig) realtime.Options {
	return realtime.Options{
		QueueCapacity:    rt.QueueCapacity,
		Heartbeat:        rt.Heartbeat,
		ReapInterval:     rt.ReapInterval,
		OnlineWindow:     rt.OnlineWindow,
		AwayCutoff:       rt.AwayCutoff,
		DropThreshold:    rt.DropThreshold,
		DropWindow:       rt.DropWindow,
		PresenceDebounce: rt.PresenceDebounce,
	}
}
