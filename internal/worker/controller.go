package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/qs3c/anno_train_server/internal/corpus"
	"github.com/qs3c/anno_train_server/internal/dataset"
	"github.com/qs3c/anno_train_server/internal/model"
	"github.com/qs3c/anno_train_server/internal/pkg/logger"
	"github.com/qs3c/anno_train_server/internal/pkg/metrics"
	"github.com/qs3c/anno_train_server/internal/pkg/queue"
	"github.com/qs3c/anno_train_server/internal/repository"
	"github.com/qs3c/anno_train_server/internal/trainer"
)

// Controller 训练任务状态机，每个任务只由一个 goroutine 处理
type Controller struct {
	jobRepo      *repository.TrainingJobRepository
	versionRepo  *repository.DatasetVersionRepository
	imageRepo    *repository.ImageRepository
	classRepo    *repository.ClassRepository
	materializer *corpus.Materializer
	local        Backend
	remote       Backend
	evaluator    trainer.Evaluator
	publisher    EventPublisher
	runsDir      string
}

// Deps Controller 的依赖，remote 为空时所有任务在本地训练
type Deps struct {
	JobRepo      *repository.TrainingJobRepository
	VersionRepo  *repository.DatasetVersionRepository
	ImageRepo    *repository.ImageRepository
	ClassRepo    *repository.ClassRepository
	Materializer *corpus.Materializer
	Local        Backend
	Remote       Backend
	Evaluator    trainer.Evaluator
	Publisher    EventPublisher
	RunsDir      string
}

func NewController(d Deps) *Controller {
	return &Controller{
		jobRepo:      d.JobRepo,
		versionRepo:  d.VersionRepo,
		imageRepo:    d.ImageRepo,
		classRepo:    d.ClassRepo,
		materializer: d.Materializer,
		local:        d.Local,
		remote:       d.Remote,
		evaluator:    d.Evaluator,
		publisher:    d.Publisher,
		runsDir:      d.RunsDir,
	}
}

// Process 处理一条队列消息
func (c *Controller) Process(ctx context.Context, msg *queue.JobMessage) error {
	switch msg.Kind {
	case queue.KindEvaluate:
		return c.processEvaluation(ctx, msg)
	case queue.KindTrain, "":
		return c.processTraining(ctx, msg)
	default:
		return fmt.Errorf("unknown message kind %q", msg.Kind)
	}
}

func (c *Controller) backendFor(job *model.TrainingJob) Backend {
	if job.UsesRemote() && c.remote != nil {
		return c.remote
	}
	return c.local
}

func (c *Controller) processTraining(ctx context.Context, msg *queue.JobMessage) error {
	log := logger.WithJob(msg.JobID).With(zap.String("trace_id", msg.TraceID))

	job, err := c.jobRepo.GetByID(msg.JobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Info("job deleted before start, skipped")
			return nil
		}
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job.Status != model.JobStatusPending {
		log.Info("job not pending, skipped", zap.String("status", job.Status))
		return nil
	}

	// pending -> training
	now := time.Now()
	ok, err := c.jobRepo.Transition(job.ID, []string{model.JobStatusPending}, map[string]interface{}{
		"status":        model.JobStatusTraining,
		"started_at":    now,
		"heartbeat_at":  now,
		"error_message": "",
	})
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	if !ok {
		log.Info("job cancelled before start, skipped")
		return nil
	}
	job.Status = model.JobStatusTraining
	job.StartedAt = &now

	backend := c.backendFor(job)
	ev := emitter{publisher: c.publisher, job: job}
	log = log.With(zap.String("backend", backend.Name()))

	metrics.JobsActive.Inc()
	defer metrics.JobsActive.Dec()
	defer metrics.Since(metrics.JobDuration.WithLabelValues(backend.Name()), now)

	// 终态事件与落库不随 worker 关停而取消
	finalCtx := context.WithoutCancel(ctx)

	// 失败处理：只有仍处于 training 时才写入 failed 并发事件
	handleError := func(step string, err error) error {
		errMsg := err.Error()
		log.Error("training failed", zap.String("step", step), zap.Error(err))
		completedAt := time.Now()
		failed, uerr := c.jobRepo.Transition(job.ID, []string{model.JobStatusTraining}, map[string]interface{}{
			"status":        model.JobStatusFailed,
			"error_message": errMsg,
			"completed_at":  completedAt,
		})
		if uerr != nil {
			log.Error("failed to persist failure", zap.Error(uerr))
			return err
		}
		if failed {
			metrics.JobsFinished.WithLabelValues(backend.Name(), model.JobStatusFailed).Inc()
			ev.failed(finalCtx, errMsg)
		}
		return err
	}

	log.Info("training started", zap.Int("epochs", job.Epochs), zap.String("model_size", job.ModelSize))
	ev.update(ctx, model.JobStatusTraining, "Preparing dataset...")

	classes, err := c.classRepo.ListByProject(job.ProjectID)
	if err != nil {
		return handleError("dataset", fmt.Errorf("load classes: %w", err))
	}

	split, err := c.resolveSplit(job)
	if err != nil {
		return handleError("dataset", err)
	}

	built, err := c.materializer.Build(ctx, corpus.Request{
		ProjectID: job.ProjectID,
		JobID:     job.ID,
		Splits:    split,
		Classes:   classes,
		Portable:  backend.Portable(),
	})
	if err != nil {
		return handleError("dataset", fmt.Errorf("prepare dataset: %w", err))
	}

	run := &Run{Job: job, Corpus: built, RunDir: RunDir(c.runsDir, job.ProjectID, job.ID)}
	outcome, err := c.runBackend(ctx, backend, run)
	if errors.Is(err, errLeftTraining) {
		log.Info("job left training, backend abandoned")
		return nil
	}
	if err != nil {
		return handleError("train", err)
	}

	// 评估与提交前确认任务仍在训练中（可能已被取消或删除）
	live, err := stillTraining(c.jobRepo, job.ID)
	if err != nil {
		return handleError("commit", err)
	}
	if !live {
		log.Info("job left training, result dropped")
		return nil
	}

	testMetrics, classMetrics := c.evaluateBestEffort(ctx, ev, job, built, outcome.ModelPath)

	completedAt := time.Now()
	committed, err := c.jobRepo.Transition(job.ID, []string{model.JobStatusTraining}, map[string]interface{}{
		"status":         model.JobStatusCompleted,
		"completed_at":   completedAt,
		"model_path":     outcome.ModelPath,
		"metrics":        datatypes.NewJSONType(outcome.Metrics),
		"test_map50":     testMetrics.MAP50,
		"test_precision": testMetrics.Precision,
		"test_recall":    testMetrics.Recall,
		"class_metrics":  datatypes.NewJSONType(classMetrics),
		"error_message":  "",
	})
	if err != nil {
		return handleError("commit", fmt.Errorf("save results: %w", err))
	}
	if !committed {
		log.Info("job left training before commit, result dropped")
		return nil
	}

	metrics.JobsFinished.WithLabelValues(backend.Name(), model.JobStatusCompleted).Inc()
	log.Info("training completed",
		zap.String("model_path", outcome.ModelPath),
		zap.Int("epochs_run", outcome.Metrics.Len()),
	)
	ev.complete(finalCtx, map[string]interface{}{
		"model_path":   outcome.ModelPath,
		"metrics":      outcome.Metrics,
		"test_metrics": testMetrics,
	})
	return nil
}

// errLeftTraining 任务在后端运行期间被取消、删除或判定超时
var errLeftTraining = errors.New("job left training")

// stillTraining 任务被删除时返回 false
func stillTraining(repo *repository.TrainingJobRepository, id int64) (bool, error) {
	current, err := repo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("reload job: %w", err)
	}
	return current.Status == model.JobStatusTraining, nil
}

// runBackend 后端 panic 视为训练失败
func (c *Controller) runBackend(ctx context.Context, backend Backend, run *Run) (outcome *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithJob(run.Job.ID).Error("backend panic",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			outcome = nil
			err = fmt.Errorf("training backend panic: %v", r)
		}
	}()
	return backend.Run(ctx, run)
}

// resolveSplit 有版本时回放版本划分，否则按原顺序 70/20/10 切分全部已标注图片
func (c *Controller) resolveSplit(job *model.TrainingJob) (map[string][]*model.Image, error) {
	log := logger.WithJob(job.ID)

	if job.DatasetVersionID != nil {
		version, err := c.versionRepo.GetByID(*job.DatasetVersionID)
		switch {
		case err == nil:
			return c.replayVersion(job.ProjectID, version)
		case errors.Is(err, gorm.ErrRecordNotFound):
			log.Warn("dataset version not found, using all annotated images",
				zap.Int64("version_id", *job.DatasetVersionID),
			)
		default:
			return nil, fmt.Errorf("load dataset version: %w", err)
		}
	}

	images, err := c.imageRepo.ListAnnotated(job.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load annotated images: %w", err)
	}
	if len(images) == 0 {
		return nil, dataset.ErrNoImages
	}

	byID := make(map[int64]*model.Image, len(images))
	ids := make([]int64, 0, len(images))
	for _, img := range images {
		byID[img.ID] = img
		ids = append(ids, img.ID)
	}
	return pick(dataset.DefaultSplit(ids), byID), nil
}

func (c *Controller) replayVersion(projectID int64, version *model.DatasetVersion) (map[string][]*model.Image, error) {
	stored := version.ImageSplits.Data()
	all := make([]int64, 0, stored.Total())
	for _, name := range model.SplitNames {
		all = append(all, stored.Get(name)...)
	}

	byID, err := c.imageRepo.GetByIDsWithAnnotations(projectID, all)
	if err != nil {
		return nil, fmt.Errorf("load version images: %w", err)
	}
	resolved := dataset.Replay(stored, func(id int64) bool {
		_, ok := byID[id]
		return ok
	})
	if dropped := stored.Total() - resolved.Total(); dropped > 0 {
		logger.Info("dropped deleted images from version split",
			zap.Int64("version_id", version.ID),
			zap.Int("dropped", dropped),
		)
	}
	if resolved.Total() == 0 {
		return nil, dataset.ErrNoImages
	}
	return pick(resolved, byID), nil
}

func pick(ids model.SplitIDs, byID map[int64]*model.Image) map[string][]*model.Image {
	out := make(map[string][]*model.Image, len(model.SplitNames))
	for _, name := range model.SplitNames {
		list := ids.Get(name)
		imgs := make([]*model.Image, 0, len(list))
		for _, id := range list {
			imgs = append(imgs, byID[id])
		}
		out[name] = imgs
	}
	return out
}

// evaluateBestEffort 测试集评估失败不影响训练结果，测试指标保持为空
func (c *Controller) evaluateBestEffort(ctx context.Context, ev emitter, job *model.TrainingJob, built *corpus.Corpus, modelPath string) (model.TestMetrics, []model.ClassMetric) {
	log := logger.WithJob(job.ID)

	if c.evaluator == nil {
		return model.TestMetrics{}, nil
	}
	if built.Counts[model.SplitTest] == 0 {
		log.Info("no test images, evaluation skipped")
		return model.TestMetrics{}, nil
	}
	if _, err := os.Stat(modelPath); err != nil {
		log.Warn("weights not available locally, evaluation skipped", zap.String("model_path", modelPath))
		return model.TestMetrics{}, nil
	}

	ev.update(ctx, model.JobStatusTraining, "Evaluating model on test set...")
	tm, cm, err := c.evaluate(ctx, job, built, modelPath)
	if err != nil {
		log.Warn("test evaluation failed", zap.Error(err))
		return model.TestMetrics{}, nil
	}
	return tm, cm
}

func (c *Controller) evaluate(ctx context.Context, job *model.TrainingJob, built *corpus.Corpus, modelPath string) (tm model.TestMetrics, cm []model.ClassMetric, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluator panic: %v", r)
		}
	}()

	// 本地验证需要绝对路径的清单
	manifest := built.ManifestPath
	if m, rerr := corpus.ReadManifest(manifest); rerr == nil && m.Path == "." {
		local, berr := c.rebuildLocal(ctx, job)
		if berr != nil {
			return tm, nil, berr
		}
		manifest = local.ManifestPath
		built = local
	}

	res, err := c.evaluator.Evaluate(ctx, trainer.EvalRequest{
		Weights:   modelPath,
		DataYAML:  manifest,
		Split:     model.SplitTest,
		ImageSize: job.ImageSize,
		RunDir:    RunDir(c.runsDir, job.ProjectID, job.ID),
	})
	if err != nil {
		return tm, nil, err
	}

	tm = model.TestMetrics{
		MAP50:     floatPtr(res.MAP50),
		Precision: floatPtr(res.Precision),
		Recall:    floatPtr(res.Recall),
	}
	for _, r := range res.Classes {
		if r.Index < 0 || r.Index >= len(built.ClassNames) {
			continue
		}
		cm = append(cm, model.ClassMetric{
			Class:     built.ClassNames[r.Index],
			MAP50:     r.MAP50,
			Precision: r.Precision,
			Recall:    r.Recall,
		})
	}
	return tm, cm, nil
}

// rebuildLocal 以绝对路径重新物化语料
func (c *Controller) rebuildLocal(ctx context.Context, job *model.TrainingJob) (*corpus.Corpus, error) {
	classes, err := c.classRepo.ListByProject(job.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load classes: %w", err)
	}
	split, err := c.resolveSplit(job)
	if err != nil {
		return nil, err
	}
	return c.materializer.Build(ctx, corpus.Request{
		ProjectID: job.ProjectID,
		JobID:     job.ID,
		Splits:    split,
		Classes:   classes,
	})
}

// processEvaluation 对已完成任务补做测试集评估
func (c *Controller) processEvaluation(ctx context.Context, msg *queue.JobMessage) error {
	log := logger.WithJob(msg.JobID).With(zap.String("trace_id", msg.TraceID))

	job, err := c.jobRepo.GetByID(msg.JobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Info("job deleted before evaluation, skipped")
			return nil
		}
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job.Status != model.JobStatusCompleted {
		log.Info("job not completed, evaluation skipped", zap.String("status", job.Status))
		return nil
	}

	ev := emitter{publisher: c.publisher, job: job}
	if c.evaluator == nil {
		ev.update(ctx, job.Status, "Test evaluation failed: evaluator not configured")
		return errors.New("evaluator not configured")
	}
	ev.update(ctx, job.Status, "Evaluating model on test set...")

	built, err := c.rebuildLocal(ctx, job)
	if err != nil {
		ev.update(ctx, job.Status, "Test evaluation failed: "+err.Error())
		return fmt.Errorf("prepare dataset: %w", err)
	}
	if built.Counts[model.SplitTest] == 0 {
		ev.update(ctx, job.Status, "Test evaluation failed: no test images")
		return nil
	}
	if _, err := os.Stat(job.ModelPath); err != nil {
		ev.update(ctx, job.Status, "Test evaluation failed: model weights not available locally")
		return nil
	}

	tm, cm, err := c.evaluate(ctx, job, built, job.ModelPath)
	if err != nil {
		ev.update(ctx, job.Status, "Test evaluation failed: "+err.Error())
		return fmt.Errorf("evaluate: %w", err)
	}

	err = c.jobRepo.UpdateFields(job.ID, map[string]interface{}{
		"test_map50":     tm.MAP50,
		"test_precision": tm.Precision,
		"test_recall":    tm.Recall,
		"class_metrics":  datatypes.NewJSONType(cm),
	})
	if err != nil {
		return fmt.Errorf("save test metrics: %w", err)
	}

	log.Info("test evaluation completed")
	ev.evaluated(ctx, tm, cm)
	return nil
}

func floatPtr(v float64) *float64 {
	return &v
}
