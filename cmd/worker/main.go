package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/qs3c/anno_train_server/config"
	"github.com/qs3c/anno_train_server/internal/corpus"
	"github.com/qs3c/anno_train_server/internal/database"
	"github.com/qs3c/anno_train_server/internal/pkg/logger"
	"github.com/qs3c/anno_train_server/internal/pkg/metrics"
	"github.com/qs3c/anno_train_server/internal/pkg/pubsub"
	"github.com/qs3c/anno_train_server/internal/pkg/queue"
	"github.com/qs3c/anno_train_server/internal/pkg/remote"
	"github.com/qs3c/anno_train_server/internal/pkg/storage"
	"github.com/qs3c/anno_train_server/internal/repository"
	"github.com/qs3c/anno_train_server/internal/trainer"
	"github.com/qs3c/anno_train_server/internal/worker"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.Init(&cfg.Log); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 初始化数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	logger.Info("Database connected", zap.String("driver", cfg.Database.Driver))

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()
	logger.Info("Redis connected")

	// 初始化 Queue 和 Pub/Sub
	jobQueue := queue.NewQueue(rdb, cfg.Queue.TrainingQueue)
	publisher := pubsub.NewPublisher(rdb)

	// 初始化 Repository
	jobRepo := repository.NewTrainingJobRepository(db)

	deps := worker.Deps{
		JobRepo:      jobRepo,
		VersionRepo:  repository.NewDatasetVersionRepository(db),
		ImageRepo:    repository.NewImageRepository(db),
		ClassRepo:    repository.NewClassRepository(db),
		Materializer: corpus.NewMaterializer(cfg.Training.DatasetsDir),
		Local:        worker.NewLocalBackend(trainer.NewExecTrainer(cfg.Training.TrainCommand), jobRepo, publisher),
		Publisher:    publisher,
		RunsDir:      cfg.Training.RunsDir,
	}
	if len(cfg.Training.EvalCommand) > 0 {
		deps.Evaluator = trainer.NewExecEvaluator(cfg.Training.EvalCommand)
	}

	// 远程训练（可选）
	if cfg.Training.RemoteEnabled() {
		store, err := storage.New(cfg)
		if err != nil {
			logger.Fatal("Failed to init storage", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
		}
		client := remote.NewClient(cfg.Training.Remote.Endpoint, cfg.Training.Remote.Token)
		deps.Remote = worker.NewRemoteBackend(client, store, jobRepo, publisher, cfg.Training.Remote, cfg.Training.PollInterval)
		logger.Info("Remote training enabled",
			zap.String("endpoint", cfg.Training.Remote.Endpoint),
			zap.String("storage", cfg.Storage.Driver),
		)
	}

	controller := worker.NewController(deps)

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received shutdown signal")
		cancel()
	}()

	if cfg.Metrics.WorkerAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.WorkerAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics listener stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	logger.Info("Worker started", zap.Int("max_workers", cfg.Queue.MaxWorkers))
	worker.NewPool(jobQueue, controller, cfg.Queue.MaxWorkers).Run(ctx)
	logger.Info("Worker shutdown complete")
}
