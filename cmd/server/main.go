package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/anno_train_server/config"
	"github.com/qs3c/anno_train_server/internal/api"
	"github.com/qs3c/anno_train_server/internal/api/handler"
	"github.com/qs3c/anno_train_server/internal/corpus"
	"github.com/qs3c/anno_train_server/internal/database"
	"github.com/qs3c/anno_train_server/internal/pkg/cron"
	"github.com/qs3c/anno_train_server/internal/pkg/logger"
	"github.com/qs3c/anno_train_server/internal/pkg/pubsub"
	"github.com/qs3c/anno_train_server/internal/pkg/queue"
	"github.com/qs3c/anno_train_server/internal/pkg/storage"
	"github.com/qs3c/anno_train_server/internal/pkg/ws"
	"github.com/qs3c/anno_train_server/internal/repository"
	"github.com/qs3c/anno_train_server/internal/service"
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
	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database connected", zap.String("driver", cfg.Database.Driver))

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()
	logger.Info("Redis connected")

	jobQueue := queue.NewQueue(rdb, cfg.Queue.TrainingQueue)
	publisher := pubsub.NewPublisher(rdb)
	materializer := corpus.NewMaterializer(cfg.Training.DatasetsDir)

	// 远程任务的语料和产物在对象存储中，删除任务时一并清理
	var objects storage.Store
	if cfg.Training.RemoteEnabled() {
		if objects, err = storage.New(cfg); err != nil {
			logger.Fatal("Failed to init storage", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
		}
	}

	// 初始化 Repository
	projectRepo := repository.NewProjectRepository(db)
	classRepo := repository.NewClassRepository(db)
	imageRepo := repository.NewImageRepository(db)
	versionRepo := repository.NewDatasetVersionRepository(db)
	jobRepo := repository.NewTrainingJobRepository(db)
	modelRepo := repository.NewCustomModelRepository(db)

	// 初始化 Service
	projectService := service.NewProjectService(projectRepo, classRepo, imageRepo, modelRepo,
		cfg.Training.DatasetsDir, cfg.Training.RunsDir)
	datasetService := service.NewDatasetService(versionRepo, imageRepo, projectRepo)
	trainingService := service.NewTrainingService(jobRepo, versionRepo, projectRepo,
		jobQueue, publisher, materializer, objects, cfg.Training.RunsDir)
	modelService := service.NewCustomModelService(modelRepo, projectRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// WebSocket Hub，worker 事件经 Redis 转发给前端
	hub := ws.NewHub()
	subscriber := pubsub.NewSubscriber(rdb)
	go func() {
		if err := subscriber.Subscribe(ctx, hub.Forward); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Event subscriber stopped", zap.Error(err))
		}
	}()

	// 定时任务
	cronService := cron.NewService(jobRepo, materializer, publisher, objects, cron.Options{
		StaleAfter: cfg.Training.StaleAfter,
		CorpusTTL:  cfg.Cleanup.CorpusTTL,
		Interval:   cfg.Cleanup.Interval,
	})
	cronService.Start()
	defer cronService.Stop()

	// 初始化 Router
	router := api.NewRouter(
		handler.NewProjectHandler(projectService),
		handler.NewDatasetHandler(datasetService),
		handler.NewTrainingHandler(trainingService),
		handler.NewCustomModelHandler(modelService),
		handler.NewWebSocketHandler(hub, cfg.CORS.AllowedOrigins),
		cfg,
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router.Setup(),
	}

	go func() {
		logger.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Received shutdown signal")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	logger.Info("Server stopped")
}
