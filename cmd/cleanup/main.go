package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qs3c/anno_train_server/config"
	"github.com/qs3c/anno_train_server/internal/corpus"
	"github.com/qs3c/anno_train_server/internal/database"
	"github.com/qs3c/anno_train_server/internal/pkg/cron"
	"github.com/qs3c/anno_train_server/internal/pkg/logger"
	"github.com/qs3c/anno_train_server/internal/pkg/pubsub"
	"github.com/qs3c/anno_train_server/internal/pkg/storage"
	"github.com/qs3c/anno_train_server/internal/repository"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "fail stale training jobs and remove expired training corpora",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the config file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "report what would be cleaned without changing anything")

	cmd.RunE = func(*cobra.Command, []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := logger.Init(&cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer logger.Sync()

		db, err := database.Open(&cfg.Database)
		if err != nil {
			return err
		}

		// Redis 不可用时只清理，不推送事件
		var publisher cron.Publisher
		if rdb, err := database.NewRedis(&cfg.Redis); err != nil {
			logger.Warn("Redis unavailable, reaped jobs will not be announced", zap.Error(err))
		} else {
			defer rdb.Close()
			publisher = pubsub.NewPublisher(rdb)
		}

		var objects cron.ObjectRemover
		if cfg.Training.RemoteEnabled() {
			store, err := storage.New(cfg)
			if err != nil {
				return fmt.Errorf("init storage: %w", err)
			}
			objects = store
		}

		svc := cron.NewService(
			repository.NewTrainingJobRepository(db),
			corpus.NewMaterializer(cfg.Training.DatasetsDir),
			publisher,
			objects,
			cron.Options{
				StaleAfter: cfg.Training.StaleAfter,
				CorpusTTL:  cfg.Cleanup.CorpusTTL,
			},
		)

		summary := svc.RunNow(context.Background(), dryRun)
		logger.Info("Cleanup finished",
			zap.Bool("dry_run", dryRun),
			zap.Int("reaped", summary.Reaped),
			zap.Int("pruned", summary.Pruned),
		)
		return nil
	}

	return cmd
}
