package cron

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/anno_train_server/internal/corpus"
	"github.com/qs3c/anno_train_server/internal/model"
	"github.com/qs3c/anno_train_server/internal/pkg/logger"
	"github.com/qs3c/anno_train_server/internal/pkg/metrics"
	"github.com/qs3c/anno_train_server/internal/pkg/pubsub"
	"github.com/qs3c/anno_train_server/internal/pkg/storage"
	"github.com/qs3c/anno_train_server/internal/repository"
)

// StaleMessage 心跳超时的任务写入的错误信息
const StaleMessage = "worker stopped responding"

// Publisher 事件发布
type Publisher interface {
	Publish(ctx context.Context, ev *pubsub.Event) error
}

// ObjectRemover 删除对象存储中的远程语料
type ObjectRemover interface {
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

type Options struct {
	StaleAfter time.Duration
	CorpusTTL  time.Duration
	Interval   time.Duration
}

type Service struct {
	jobRepo      *repository.TrainingJobRepository
	materializer *corpus.Materializer
	publisher    Publisher
	objects      ObjectRemover
	opts         Options
	stopChan     chan struct{}
}

func NewService(
	jobRepo *repository.TrainingJobRepository,
	materializer *corpus.Materializer,
	publisher Publisher,
	objects ObjectRemover,
	opts Options,
) *Service {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	return &Service{
		jobRepo:      jobRepo,
		materializer: materializer,
		publisher:    publisher,
		objects:      objects,
		opts:         opts,
		stopChan:     make(chan struct{}),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	go s.run()
	logger.Info("Cron service started (stale reaper + corpus cleanup)",
		zap.Duration("interval", s.opts.Interval),
	)
}

// Stop 停止定时任务
func (s *Service) Stop() {
	close(s.stopChan)
	logger.Info("Cron service stopped")
}

func (s *Service) run() {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.RunNow(context.Background(), false)
		}
	}
}

// Summary 一次清理的结果
type Summary struct {
	Reaped int
	Pruned int
}

// RunNow 立即执行一轮，dryRun 时只统计不修改
func (s *Service) RunNow(ctx context.Context, dryRun bool) Summary {
	sum := Summary{
		Reaped: s.ReapStale(ctx, dryRun),
		Pruned: s.PruneCorpora(ctx, dryRun),
	}
	if sum.Reaped > 0 || sum.Pruned > 0 {
		logger.Info("Cleanup summary",
			zap.Int("reaped", sum.Reaped),
			zap.Int("pruned", sum.Pruned),
			zap.Bool("dry_run", dryRun),
		)
	}
	return sum
}

// ReapStale 心跳超过 StaleAfter 的训练中任务标记为失败
func (s *Service) ReapStale(ctx context.Context, dryRun bool) int {
	if s.opts.StaleAfter <= 0 {
		return 0
	}

	jobs, err := s.jobRepo.ListStale(time.Now().Add(-s.opts.StaleAfter))
	if err != nil {
		logger.Error("Reaper: failed to list stale jobs", zap.Error(err))
		return 0
	}
	if dryRun {
		return len(jobs)
	}

	reaped := 0
	for _, job := range jobs {
		ok, err := s.jobRepo.Transition(job.ID, []string{model.JobStatusTraining}, map[string]interface{}{
			"status":        model.JobStatusFailed,
			"error_message": StaleMessage,
			"completed_at":  time.Now(),
		})
		if err != nil {
			logger.WithJob(job.ID).Error("Reaper: failed to mark job failed", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		reaped++
		metrics.StaleReaped.Inc()
		logger.WithJob(job.ID).Warn("Reaper: stale job marked failed")

		if s.publisher == nil {
			continue
		}
		err = s.publisher.Publish(ctx, &pubsub.Event{
			Type:      pubsub.EventTrainingError,
			ProjectID: job.ProjectID,
			JobID:     job.ID,
			Status:    model.JobStatusFailed,
			Error:     StaleMessage,
		})
		if err != nil {
			logger.WithJob(job.ID).Warn("Reaper: failed to publish event", zap.Error(err))
		}
	}
	return reaped
}

// PruneCorpora 删除结束超过 CorpusTTL 的任务语料目录及其远程副本，训练产物保留
func (s *Service) PruneCorpora(ctx context.Context, dryRun bool) int {
	if s.opts.CorpusTTL <= 0 || s.materializer == nil {
		return 0
	}

	jobs, err := s.jobRepo.ListFinishedBefore(time.Now().Add(-s.opts.CorpusTTL))
	if err != nil {
		logger.Error("Cleanup corpora: failed to list finished jobs", zap.Error(err))
		return 0
	}

	pruned := 0
	for _, job := range jobs {
		if !s.materializer.Exists(job.ProjectID, job.ID) {
			continue
		}
		if dryRun {
			pruned++
			continue
		}
		if err := s.materializer.Remove(job.ProjectID, job.ID); err != nil {
			logger.WithJob(job.ID).Warn("Cleanup corpora: failed to remove", zap.Error(err))
			continue
		}
		pruned++

		// 远程语料与本地目录同时清理，本地目录已不存在的任务不会再次处理
		if s.objects != nil && job.UsesRemote() {
			prefix := storage.CorpusPrefix(job.ProjectID, job.ID)
			if _, err := s.objects.DeletePrefix(ctx, prefix); err != nil {
				logger.WithJob(job.ID).Warn("Cleanup corpora: failed to remove remote copy",
					zap.String("prefix", prefix),
					zap.Error(err),
				)
			}
		}
	}
	return pruned
}
