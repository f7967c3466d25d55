package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/anno_train_server/internal/model"
	"github.com/qs3c/anno_train_server/internal/pkg/logger"
	"github.com/qs3c/anno_train_server/internal/pkg/metrics"
	"github.com/qs3c/anno_train_server/internal/repository"
	"github.com/qs3c/anno_train_server/internal/trainer"
)

// LocalBackend 在 worker 本机运行训练器
type LocalBackend struct {
	trainer   trainer.Trainer
	jobRepo   *repository.TrainingJobRepository
	publisher EventPublisher
}

func NewLocalBackend(t trainer.Trainer, jobRepo *repository.TrainingJobRepository, publisher EventPublisher) *LocalBackend {
	return &LocalBackend{trainer: t, jobRepo: jobRepo, publisher: publisher}
}

func (b *LocalBackend) Name() string { return "local" }

func (b *LocalBackend) Portable() bool { return false }

func (b *LocalBackend) Run(ctx context.Context, run *Run) (*Outcome, error) {
	job := run.Job
	log := logger.WithJob(job.ID)
	ev := emitter{publisher: b.publisher, job: job}

	req := trainer.TrainRequest{
		JobID:     job.ID,
		DataYAML:  run.Corpus.ManifestPath,
		RunDir:    run.RunDir,
		ModelSize: job.ModelSize,
		Epochs:    job.Epochs,
		BatchSize: job.BatchSize,
		ImageSize: job.ImageSize,
	}

	ev.update(ctx, model.JobStatusTraining, fmt.Sprintf("Training started (%d images)", run.Corpus.Total()))

	var series model.MetricsSeries
	onEpoch := func(ctx context.Context, ep *trainer.Epoch) error {
		metrics.Epochs.Inc()
		total := ep.Total
		if total <= 0 {
			total = job.Epochs
		}

		rec := model.EpochRecord{
			Epoch:     ep.Index,
			TrainLoss: ep.Loss(0),
			ValLoss:   ep.Metrics[trainer.KeyValBox],
			MAP50:     ep.Metrics[trainer.KeyMAP50],
			MAP50_95:  ep.Metrics[trainer.KeyMAP50_95],
			Precision: ep.Metrics[trainer.KeyPrecision],
			Recall:    ep.Metrics[trainer.KeyRecall],
			LR:        ep.LR,
		}
		series.Append(rec)

		if err := b.jobRepo.Heartbeat(job.ID); err != nil {
			return fmt.Errorf("heartbeat: %w", err)
		}
		// 每个 epoch 重新读取状态和 stop_early，API 可能已修改
		current, err := b.jobRepo.GetByID(job.ID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("reload job: %w", err)
		}
		if current == nil || current.Status != model.JobStatusTraining {
			ep.Stop = true
			log.Info("job left training, stopping")
			return nil
		}

		ev.progress(ctx, map[string]interface{}{
			"job_id":         job.ID,
			"epoch":          ep.Index,
			"total_epochs":   total,
			"train_box_loss": ep.Loss(0),
			"train_cls_loss": ep.Loss(1),
			"train_dfl_loss": ep.Loss(2),
			"val_box_loss":   ep.Metrics[trainer.KeyValBox],
			"val_cls_loss":   ep.Metrics[trainer.KeyValCls],
			"val_dfl_loss":   ep.Metrics[trainer.KeyValDFL],
			"map50":          rec.MAP50,
			"precision":      rec.Precision,
			"recall":         rec.Recall,
			"lr":             rec.LR,
		})

		if current.StopEarly {
			ep.Stop = true
			ev.update(ctx, model.JobStatusTraining, fmt.Sprintf("Early stopping after epoch %d. Saving model...", ep.Index))
		}
		return nil
	}

	if err := b.trainer.Train(ctx, req, onEpoch); err != nil {
		return nil, err
	}

	// results.csv 比回调中的数据完整
	parsed, err := ParseResultsFile(filepath.Join(run.RunDir, ResultsFile))
	switch {
	case err == nil && parsed.Len() > 0:
		series = parsed
	case err != nil && !errors.Is(err, os.ErrNotExist):
		log.Warn("failed to parse results", zap.Error(err))
	}

	weights := req.WeightsPath()
	if _, err := os.Stat(weights); err != nil {
		last := filepath.Join(filepath.Dir(weights), "last.pt")
		if _, lerr := os.Stat(last); lerr != nil {
			return nil, errors.New("training finished without producing weights")
		}
		weights = last
	}

	return &Outcome{ModelPath: weights, Metrics: series}, nil
}
