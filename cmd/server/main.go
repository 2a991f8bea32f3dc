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
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"trancheflow/internal/config"
	"trancheflow/internal/handler"
	"trancheflow/internal/httpserver"
	"trancheflow/internal/mqhandler"
	"trancheflow/internal/repository"
	"trancheflow/internal/service/escrow"
	"trancheflow/internal/service/judge"
	"trancheflow/pkg/db"
	"trancheflow/pkg/logger"
	"trancheflow/pkg/mq"
	"trancheflow/pkg/objectstore"
	"trancheflow/pkg/otel"
	"trancheflow/pkg/outbox"
	"trancheflow/pkg/redis"
	"trancheflow/pkg/util"
)

const (
	serviceName    = "trancheflow"
	serviceVersion = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger 依赖配置中的环境名，这里只能直接退出
		panic(err)
	}

	log := logger.NewLogger(cfg.Env)
	defer log.Sync()

	log.Info("Starting trancheflow...",
		zap.String("env", cfg.Env),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("mq_url", cfg.MQ.URL),
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.String("object_store", cfg.ObjectStore.Endpoint),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := otel.Init(cfg.OTel, serviceName, serviceVersion, log)
	if err != nil {
		log.Fatal("Failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing()

	var checks []httpserver.ReadinessCheck

	// Redis（可选）：分布式锁、判定缓存、事件去重
	rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to init redis", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
		checks = append(checks, httpserver.ReadinessCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
		log.Info("Redis connection established")
	}

	// Store
	var (
		dbConn     *pgxpool.Pool
		outboxRepo *outbox.Repository
		store      repository.ProjectStore
	)
	switch cfg.Store.Driver {
	case config.StorePostgres:
		log.Info("Initializing database connection...")
		dbConn, err = db.NewConnection(ctx, cfg.DB, log)
		if err != nil {
			log.Fatal("Failed to init DB", zap.Error(err))
		}
		defer dbConn.Close()
		if err := repository.EnsureSchema(ctx, dbConn); err != nil {
			log.Fatal("Failed to apply schema", zap.Error(err))
		}
		outboxRepo = outbox.NewRepository(dbConn)
		store = repository.NewPostgresStore(dbConn, outboxRepo, log)
		log.Info("Database connection established successfully")
	case config.StoreFile:
		store, err = repository.NewFileStore(cfg.Store.FilePath, log)
		if err != nil {
			log.Fatal("Failed to open project file", zap.Error(err))
		}
	default:
		store = repository.NewMemoryStore()
	}
	if pinger, ok := store.(repository.Pinger); ok {
		checks = append(checks, httpserver.ReadinessCheck{Name: "store", Check: pinger.Ping})
	}

	opts := []escrow.Option{
		escrow.WithJudge(judge.New(cfg.Judge, judgeCache(rdb, cfg, log), log)),
	}
	if rdb != nil {
		opts = append(opts, escrow.WithLocker(util.NewRedisLocker(rdb, cfg.Lock.TTL, log)))
	}

	// 对象存储（可选）
	archive, err := objectstore.NewMinioStore(cfg.ObjectStore)
	if err != nil {
		log.Fatal("Failed to init object store", zap.Error(err))
	}
	if archive != nil {
		if err := archive.EnsureBucket(ctx); err != nil {
			log.Fatal("Failed to ensure evidence bucket", zap.Error(err))
		}
		opts = append(opts, escrow.WithArchive(archive))
		checks = append(checks, httpserver.ReadinessCheck{Name: "object_store", Check: archive.Ping})
	}

	// MQ（可选）：PostgreSQL 走 outbox，其余存储直接发布
	var (
		publisher  *mq.Publisher
		consumers  []*mq.Consumer
		dispatcher *outbox.Dispatcher
	)
	if cfg.MQ.URL != "" {
		publisher, err = mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Fatal("Failed to init MQ publisher", zap.Error(err))
		}
		defer publisher.Close()

		if outboxRepo != nil {
			dispatcher = outbox.NewDispatcher(outboxRepo, publisher, log).
				WithInterval(cfg.Outbox.Interval).
				WithBatchSize(cfg.Outbox.BatchSize).
				WithMaxRetries(cfg.Outbox.MaxRetries)
			go dispatcher.Start(ctx)
			log.Info("Outbox dispatcher started")
		} else {
			opts = append(opts, escrow.WithPublisher(publisher))
		}

		eventHandler := mqhandler.NewMilestoneEventHandler(eventDeduper(rdb), log)
		for _, b := range mqhandler.EventBindings {
			log.Info("Initializing MQ consumer...",
				zap.String("queue", b.Queue),
				zap.String("routing_key", b.RoutingKey),
			)
			consumer, err := mq.NewConsumer(cfg.MQ.URL, b.Queue, b.RoutingKey, log)
			if err != nil {
				log.Fatal("Failed to init consumer", zap.String("queue", b.Queue), zap.Error(err))
			}
			defer consumer.Close()
			consumer.SetHandler(eventHandler.Handle)
			consumers = append(consumers, consumer)

			go func() {
				if err := consumer.StartConsuming(); err != nil {
					log.Fatal("Event consumer failed", zap.String("queue", b.Queue), zap.Error(err))
				}
			}()
		}

		checks = append(checks, httpserver.ReadinessCheck{
			Name: "mq",
			Check: func(ctx context.Context) error {
				if !publisher.IsConnected() {
					return errors.New("amqp connection closed")
				}
				for _, c := range consumers {
					if !c.IsConnected() {
						return errors.New("amqp connection closed")
					}
				}
				return nil
			},
		})
	}

	svc := escrow.NewService(store, log, opts...)

	var adminHandler *handler.AdminHandler
	if outboxRepo != nil {
		adminHandler = handler.NewAdminHandler(outbox.NewReplayService(outboxRepo), log)
	}

	router := httpserver.NewRouter(
		handler.NewProjectHandler(svc, log),
		handler.NewJudgeHandler(svc, log),
		adminHandler,
		checks,
		log,
	)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("trancheflow is fully initialized and running",
		zap.String("http_addr", addr),
		zap.Bool("outbox", dispatcher != nil),
		zap.Bool("evidence_archive", archive != nil),
	)

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down trancheflow gracefully...")

	if len(consumers) > 0 {
		log.Info("Stopping MQ consumers...", zap.Int("count", len(consumers)))
		for _, c := range consumers {
			c.Stop()
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	// 停止 outbox dispatcher
	cancel()

	log.Info("trancheflow shutdown complete")
}

func judgeCache(rdb *goredis.Client, cfg *config.Config, log *zap.Logger) judge.Cache {
	if rdb == nil {
		return nil
	}
	return judge.NewRedisCache(rdb, cfg.Judge.CacheTTL, log)
}

func eventDeduper(rdb *goredis.Client) util.Deduper {
	if rdb == nil {
		return util.NewMemoryDeduper(24 * time.Hour)
	}
	return util.NewRedisDeduper(rdb, 24*time.Hour)
}
