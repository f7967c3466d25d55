package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/anno_train_server/internal/model"
	"github.com/qs3c/anno_train_server/internal/model/dto"
	"github.com/qs3c/anno_train_server/internal/pkg/apperror"
	"github.com/qs3c/anno_train_server/internal/pkg/logger"
	"github.com/qs3c/anno_train_server/internal/pkg/pubsub"
	"github.com/qs3c/anno_train_server/internal/pkg/queue"
	"github.com/qs3c/anno_train_server/internal/pkg/storage"
	"github.com/qs3c/anno_train_server/internal/repository"
	"github.com/qs3c/anno_train_server/internal/worker"
)

var (
	ErrJobNotFound      = apperror.NotFound("Training job not found")
	ErrJobNotTraining   = apperror.InvalidState("Training is not in progress")
	ErrJobNotActive     = apperror.InvalidState("Only pending or training jobs can be cancelled")
	ErrJobNotEvaluable  = apperror.InvalidState("Only completed jobs with a model can be evaluated")
	ErrInvalidModelSize = apperror.Validation("model_size must be one of n, s, m, l, x")
)

// 训练默认参数
const (
	DefaultModelSize = "m"
	DefaultEpochs    = 100
	DefaultBatchSize = 16
	DefaultImageSize = 640
)

var modelSizes = map[string]bool{"n": true, "s": true, "m": true, "l": true, "x": true}

// JobQueue 训练任务队列
type JobQueue interface {
	Push(ctx context.Context, msg *queue.JobMessage) error
}

// EventPublisher 进度事件发布
type EventPublisher interface {
	Publish(ctx context.Context, ev *pubsub.Event) error
}

// CorpusRemover 删除任务的物化语料
type CorpusRemover interface {
	Remove(projectID, jobID int64) error
}

// ObjectRemover 删除对象存储中远程任务的语料和产物
type ObjectRemover interface {
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

type TrainingService struct {
	jobRepo     *repository.TrainingJobRepository
	versionRepo *repository.DatasetVersionRepository
	projectRepo *repository.ProjectRepository
	queue       JobQueue
	publisher   EventPublisher
	corpora     CorpusRemover
	objects     ObjectRemover
	runsDir     string
}

// NewTrainingService objects 为 nil 时不清理对象存储
func NewTrainingService(
	jobRepo *repository.TrainingJobRepository,
	versionRepo *repository.DatasetVersionRepository,
	projectRepo *repository.ProjectRepository,
	queue JobQueue,
	publisher EventPublisher,
	corpora CorpusRemover,
	objects ObjectRemover,
	runsDir string,
) *TrainingService {
	return &TrainingService{
		jobRepo:     jobRepo,
		versionRepo: versionRepo,
		projectRepo: projectRepo,
		queue:       queue,
		publisher:   publisher,
		corpora:     corpora,
		objects:     objects,
		runsDir:     runsDir,
	}
}

// StartTraining 创建 pending 任务并入队
func (s *TrainingService) StartTraining(ctx context.Context, projectID int64, req *dto.StartTrainingRequest) (*model.TrainingJob, error) {
	if _, err := s.projectRepo.GetByID(projectID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}

	job := &model.TrainingJob{
		ProjectID:        projectID,
		DatasetVersionID: req.DatasetVersionID,
		Name:             req.Name,
		ModelSize:        req.ModelSize,
		Status:           model.JobStatusPending,
		Epochs:           req.Epochs,
		BatchSize:        req.BatchSize,
		ImageSize:        req.ImageSize,
		RemoteUsername:   req.RemoteUsername,
		Hardware:         req.Hardware,
	}
	if job.ModelSize == "" {
		job.ModelSize = DefaultModelSize
	}
	if !modelSizes[job.ModelSize] {
		return nil, ErrInvalidModelSize
	}
	if job.Epochs < 0 || job.BatchSize < 0 || job.ImageSize < 0 {
		return nil, apperror.Validation("epochs, batch_size and image_size must be positive")
	}
	if job.Epochs == 0 {
		job.Epochs = DefaultEpochs
	}
	if job.BatchSize == 0 {
		job.BatchSize = DefaultBatchSize
	}
	if job.ImageSize == 0 {
		job.ImageSize = DefaultImageSize
	}

	if req.DatasetVersionID != nil {
		version, err := s.versionRepo.GetByID(*req.DatasetVersionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrVersionNotFound
			}
			return nil, err
		}
		if version.ProjectID != projectID {
			return nil, ErrVersionNotFound
		}
	}

	if job.Name == "" {
		count, err := s.jobRepo.CountByProject(projectID)
		if err != nil {
			return nil, err
		}
		job.Name = fmt.Sprintf("Model %d", count+1)
	}

	if err := s.jobRepo.Create(job); err != nil {
		return nil, err
	}

	msg := queue.NewJobMessage(queue.KindTrain, projectID, job.ID)
	if err := s.queue.Push(ctx, msg); err != nil {
		// 入队失败的任务直接标记为失败，避免永远停在 pending
		_, _ = s.jobRepo.Transition(job.ID, []string{model.JobStatusPending}, map[string]interface{}{
			"status":        model.JobStatusFailed,
			"error_message": "failed to enqueue training job",
			"completed_at":  time.Now(),
		})
		return nil, fmt.Errorf("enqueue job %d: %w", job.ID, err)
	}

	logger.WithJob(job.ID).Info("training job queued",
		zap.Int64("project_id", projectID),
		zap.String("trace_id", msg.TraceID),
		zap.Bool("remote", job.UsesRemote()),
	)
	return job, nil
}

func (s *TrainingService) GetJob(id int64) (*model.TrainingJob, error) {
	job, err := s.jobRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *TrainingService) ListJobs(projectID int64) ([]*model.TrainingJob, error) {
	return s.jobRepo.ListByProject(projectID)
}

// StopEarly 只设置 stop_early，由 worker 在下一个 epoch 结束时停止
func (s *TrainingService) StopEarly(id int64) error {
	ok, err := s.jobRepo.RequestStop(id)
	if err != nil {
		return err
	}
	if ok {
		logger.WithJob(id).Info("early stop requested")
		return nil
	}
	if _, err := s.GetJob(id); err != nil {
		return err
	}
	return ErrJobNotTraining
}

// Cancel pending/training -> failed
func (s *TrainingService) Cancel(ctx context.Context, id int64) error {
	ok, err := s.jobRepo.Cancel(id)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := s.GetJob(id); err != nil {
			return err
		}
		return ErrJobNotActive
	}

	job, err := s.GetJob(id)
	if err != nil {
		return err
	}
	logger.WithJob(id).Info("training job cancelled")

	if s.publisher != nil {
		err := s.publisher.Publish(ctx, &pubsub.Event{
			Type:      pubsub.EventTrainingError,
			ProjectID: job.ProjectID,
			JobID:     job.ID,
			Status:    model.JobStatusFailed,
			Error:     model.CancelledMessage,
		})
		if err != nil {
			logger.WithJob(id).Warn("failed to publish cancel event", zap.Error(err))
		}
	}
	return nil
}

// Delete 活动中的任务只取消，已结束的任务删除记录、目录和远程对象
func (s *TrainingService) Delete(ctx context.Context, id int64) (*dto.DeleteJobResponse, error) {
	job, err := s.GetJob(id)
	if err != nil {
		return nil, err
	}

	if job.IsActive() {
		err := s.Cancel(ctx, id)
		if err == nil {
			return &dto.DeleteJobResponse{Cancelled: true}, nil
		}
		// 取消与 worker 的最终提交竞争失败时按已结束处理
		if !errors.Is(err, ErrJobNotActive) {
			return nil, err
		}
	}

	if err := s.jobRepo.Delete(id); err != nil {
		return nil, err
	}

	var result *multierror.Error
	if err := os.RemoveAll(worker.RunDir(s.runsDir, job.ProjectID, job.ID)); err != nil {
		result = multierror.Append(result, err)
	}
	if s.corpora != nil {
		if err := s.corpora.Remove(job.ProjectID, job.ID); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.objects != nil && job.UsesRemote() {
		for _, prefix := range []string{
			storage.CorpusPrefix(job.ProjectID, job.ID),
			storage.OutputPrefix(job.ProjectID, job.ID),
		} {
			if _, err := s.objects.DeletePrefix(ctx, prefix); err != nil {
				result = multierror.Append(result, fmt.Errorf("delete %s: %w", prefix, err))
			}
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		logger.WithJob(id).Warn("job files not fully removed", zap.Error(err))
	}

	return &dto.DeleteJobResponse{Deleted: true}, nil
}

// EvaluateOnTest 对已完成任务补做测试集评估
func (s *TrainingService) EvaluateOnTest(ctx context.Context, id int64) error {
	job, err := s.GetJob(id)
	if err != nil {
		return err
	}
	if job.Status != model.JobStatusCompleted || job.ModelPath == "" {
		return ErrJobNotEvaluable
	}

	msg := queue.NewJobMessage(queue.KindEvaluate, job.ProjectID, job.ID)
	if err := s.queue.Push(ctx, msg); err != nil {
		return fmt.Errorf("enqueue evaluation %d: %w", job.ID, err)
	}
	logger.WithJob(id).Info("test evaluation queued", zap.String("trace_id", msg.TraceID))
	return nil
}
