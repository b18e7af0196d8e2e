package main

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/window-queue/internal/config"
	"qms/window-queue/internal/events"
	"qms/window-queue/internal/httpapi"
	"qms/window-queue/internal/live"
	"qms/window-queue/internal/lock"
	"qms/window-queue/internal/queue"
	"qms/window-queue/internal/store"
	"qms/window-queue/internal/store/memory"
	"qms/window-queue/internal/store/postgres"
	"qms/window-queue/internal/telemetry"
	"qms/window-queue/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	pflag.StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	pflag.StringVar(&cfg.StoreDriver, "store", cfg.StoreDriver, "ticket store: memory or postgres")
	pflag.StringVar(&cfg.SeedFile, "seed", cfg.SeedFile, "YAML file with branches, windows and categories to load at startup")
	pflag.Parse()

	log := logger.New(cfg.LogLevel, cfg.LogEncoding)
	defer func() { _ = log.Sync() }()

	shutdownTelemetry := telemetry.Setup("queue-service", log)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var seed *store.Seed
	if cfg.SeedFile != "" {
		loaded, err := store.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			log.Fatal("load seed", "path", cfg.SeedFile, "error", err)
		}
		seed = &loaded
	}

	var ticketStore store.TicketStore
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("db connect", "error", err)
		}
		defer pool.Close()
		pg := postgres.NewStore(pool)
		if seed != nil {
			if err := pg.Load(ctx, *seed); err != nil {
				log.Fatal("seed database", "error", err)
			}
		}
		ticketStore = pg
	case "memory":
		mem := memory.NewStore()
		if seed != nil {
			if err := mem.Load(*seed); err != nil {
				log.Fatal("seed memory store", "error", err)
			}
		}
		ticketStore = mem
	default:
		log.Fatal("unknown store driver", "store", cfg.StoreDriver)
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("redis connect", "addr", cfg.RedisAddr, "error", err)
		}
		locker = lock.NewRedis(rdb, log, lock.RedisOptions{TTL: cfg.LockTTL})
		log.Info("using redis window locks", "addr", cfg.RedisAddr)
	}

	replicaID := cfg.ReplicaID
	if replicaID == "" {
		replicaID = uuid.NewString()
	}
	hub := live.New()
	defer hub.Close()

	var (
		publishers []queue.Publisher
		relay      *events.ViewConsumer
	)
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := events.NewSyncProducer(events.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			RetryMax:     5,
			RequiredAcks: -1,
		})
		if err != nil {
			log.Fatal("kafka connect", "brokers", cfg.KafkaBrokers, "error", err)
		}
		publisher := events.NewPublisher(producer, log, replicaID, cfg.KafkaViewTopic, cfg.KafkaTicketTopic)
		defer func() { _ = publisher.Close() }()
		publishers = append(publishers, publisher)

		relay, err = events.NewViewConsumer(events.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaRelayGroupPrefix + replicaID,
			Topic:   cfg.KafkaViewTopic,
		}, events.NewRelay(hub, log, replicaID, cfg.KafkaViewTopic), log)
		if err != nil {
			log.Fatal("kafka relay", "brokers", cfg.KafkaBrokers, "error", err)
		}
	}

	engine := queue.NewEngine(ticketStore, queue.Options{
		MaxRequeueAttempts:  cfg.MaxRequeueAttempts,
		ConflictRetries:     cfg.ConflictRetries,
		ResetAttemptsOnCall: cfg.ResetAttemptsOnCall,
		AutoRequeueAfter:    cfg.AutoRequeueAfter,
		LockTimeout:         cfg.LockTimeout,
		Locker:              locker,
		Hub:                 hub,
		Publishers:          publishers,
		Logger:              log,
	})

	handler := httpapi.NewHandler(engine, httpapi.Options{
		StreamHeartbeat: cfg.StreamHeartbeat,
		Logger:          log,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		BranchPerMinute: cfg.BranchRateLimitPerMinute,
		BranchBurst:     cfg.BranchRateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/", limiter.Middleware(handler.Routes()))

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     otelhttp.NewHandler(httpapi.LoggingMiddleware(log)(mux), "queue-service"),
		ReadTimeout: 10 * time.Second,
		// Streams stay open, so writes are not bounded here.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if relay != nil {
		relay.Start(gctx)
		defer func() { _ = relay.Close() }()
	}
	g.Go(func() error {
		log.Info("queue-service listening", "addr", server.Addr, "store", cfg.StoreDriver, "replica_id", replicaID)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Ends open streams so Shutdown does not wait on them.
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
