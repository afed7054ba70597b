package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"zynx/internal/audit"
	"zynx/internal/audit/sink"
	pdpahandler "zynx/internal/pdpa/handler"
	pdpametrics "zynx/internal/pdpa/metrics"
	"zynx/internal/pdpa/models"
	"zynx/internal/pdpa/service"
	"zynx/internal/pdpa/store"
	"zynx/internal/pdpa/workers/cleanup"
	"zynx/internal/platform/config"
	"zynx/internal/platform/health"
	"zynx/internal/platform/kafka/producer"
	"zynx/internal/platform/logger"
	"zynx/internal/platform/redis"
	"zynx/internal/platform/tracer"
	httptransport "zynx/internal/transport/http"
	"zynx/pkg/platform/circuit"
	"zynx/pkg/platform/middleware/request"
)

const (
	shutdownTimeout   = 10 * time.Second
	poolStatsInterval = 15 * time.Second
	sinkCooldown      = 30 * time.Second
)

// main wires dependencies and owns the process lifecycle. Ledger semantics
// live in internal/pdpa.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)
	for _, warning := range cfg.Warnings {
		log.Warn("configuration warning", "detail", warning)
	}

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retention, err := models.DefaultRetentionPolicy().WithOverrides(cfg.Retention, cfg.DefaultRetention)
	if err != nil {
		return err
	}

	healthHandler := health.New(cfg.Environment)
	var sinks []audit.Sink

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck // shutdown path
		sinks = append(sinks, guard("redis", sink.NewRedisSink(redisClient, cfg.Redis.AuditChannel), log))
		healthHandler.RegisterCheck("redis", redisClient.Health)
		log.Info("audit fan-out to redis enabled", "channel", cfg.Redis.AuditChannel)
	}

	kafkaProducer, err := producer.New(cfg.Kafka, log)
	if err != nil {
		return err
	}
	if kafkaProducer != nil {
		defer kafkaProducer.Close() //nolint:errcheck // shutdown path
		sinks = append(sinks, guard("kafka", sink.NewKafkaSink(kafkaProducer, cfg.Kafka.AuditTopic), log))
		healthHandler.RegisterCheck("kafka", kafkaProducer.Health)
		log.Info("audit fan-out to kafka enabled", "topic", cfg.Kafka.AuditTopic)
	}

	publisher := audit.NewPublisher(sinks,
		audit.WithAsyncBuffer(cfg.AuditBufferSize),
		audit.WithPublisherLogger(log),
	)
	defer publisher.Close()

	ledger := service.New(store.New(), audit.NewLog(cfg.AuditLogCapacity), log,
		service.WithRetentionPolicy(retention),
		service.WithMetrics(pdpametrics.New()),
		service.WithPublisher(publisher),
		service.WithTracer(tracer.NewOTel("zynx/pdpa")),
	)

	worker, err := cleanup.New(ledger,
		cleanup.WithInterval(cfg.CleanupInterval),
		cleanup.WithLogger(log),
	)
	if err != nil {
		return err
	}

	router := httptransport.NewRouter(httptransport.Config{
		Logger:   log,
		API:      pdpahandler.New(ledger, log),
		Health:   healthHandler,
		Metrics:  request.NewMetrics(prometheus.DefaultRegisterer),
		Gatherer: prometheus.DefaultGatherer,
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("starting zynx pdpa ledger",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"audit_log_capacity", cfg.AuditLogCapacity,
		"cleanup_interval", cfg.CleanupInterval.String(),
		"default_retention", models.FormatRetention(retention.Fallback()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := worker.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if redisClient != nil {
		g.Go(func() error {
			ticker := time.NewTicker(poolStatsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					redisClient.RecordPoolStats()
				case <-gctx.Done():
					return nil
				}
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func guard(name string, next audit.Sink, log *slog.Logger) audit.Sink {
	breaker := circuit.New(name, circuit.WithFailureThreshold(5), circuit.WithCooldown(sinkCooldown))
	return sink.NewGuardedSink(next, breaker, log)
}
