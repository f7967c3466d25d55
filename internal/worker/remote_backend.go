package worker

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/anno_train_server/config"
	"github.com/qs3c/anno_train_server/internal/model"
	"github.com/qs3c/anno_train_server/internal/pkg/logger"
	"github.com/qs3c/anno_train_server/internal/pkg/remote"
	"github.com/qs3c/anno_train_server/internal/pkg/storage"
	"github.com/qs3c/anno_train_server/internal/repository"
)

// RemoteArtifacts 远程训练完成后拉回的文件
var RemoteArtifacts = []string{"best.pt", ResultsFile, "results.png", "args.yaml"}

// RemoteClient 远程训练服务
type RemoteClient interface {
	Submit(ctx context.Context, req remote.SubmitRequest) (*remote.JobInfo, error)
	Inspect(ctx context.Context, id string) (*remote.JobInfo, error)
}

// RemoteBackend 上传语料到对象存储并在远程训练服务上运行
type RemoteBackend struct {
	client       RemoteClient
	store        storage.Store
	jobRepo      *repository.TrainingJobRepository
	publisher    EventPublisher
	cfg          config.RemoteConfig
	pollInterval time.Duration
}

func NewRemoteBackend(
	client RemoteClient,
	store storage.Store,
	jobRepo *repository.TrainingJobRepository,
	publisher EventPublisher,
	cfg config.RemoteConfig,
	pollInterval time.Duration,
) *RemoteBackend {
	return &RemoteBackend{
		client:       client,
		store:        store,
		jobRepo:      jobRepo,
		publisher:    publisher,
		cfg:          cfg,
		pollInterval: pollInterval,
	}
}

func (b *RemoteBackend) Name() string { return "remote" }

func (b *RemoteBackend) Portable() bool { return true }

func (b *RemoteBackend) Run(ctx context.Context, run *Run) (*Outcome, error) {
	job := run.Job
	log := logger.WithJob(job.ID)
	ev := emitter{publisher: b.publisher, job: job}

	corpusPrefix := storage.CorpusPrefix(job.ProjectID, job.ID)
	outputPrefix := storage.OutputPrefix(job.ProjectID, job.ID)

	ev.update(ctx, model.JobStatusTraining, "Uploading dataset...")
	uploaded, err := storage.UploadDir(ctx, b.store, run.Corpus.Root, corpusPrefix)
	if err != nil {
		return nil, fmt.Errorf("upload dataset: %w", err)
	}
	log.Info("dataset uploaded", zap.Int("files", uploaded), zap.String("prefix", corpusPrefix))

	hardware := job.Hardware
	if hardware == "" {
		hardware = b.cfg.DefaultHardware
	}
	info, err := b.client.Submit(ctx, remote.SubmitRequest{
		Script: b.cfg.Script,
		Args: []string{
			"--dataset-prefix", corpusPrefix,
			"--output-prefix", outputPrefix,
			"--model-size", job.ModelSize,
			"--epochs", strconv.Itoa(job.Epochs),
			"--batch", strconv.Itoa(job.BatchSize),
			"--imgsz", strconv.Itoa(job.ImageSize),
		},
		Flavor:    hardware,
		Namespace: job.RemoteUsername,
		Timeout:   b.cfg.Timeout,
		Secrets:   b.cfg.Secrets,
	})
	if err != nil {
		return nil, err
	}

	remotePath := "remote://" + path.Join(outputPrefix, "best.pt")
	err = b.jobRepo.UpdateFields(job.ID, map[string]interface{}{
		"remote_job_id":  info.ID,
		"remote_job_url": info.URL,
		"model_path":     remotePath,
	})
	if err != nil {
		return nil, fmt.Errorf("save remote job: %w", err)
	}
	log.Info("remote job submitted", zap.String("remote_job_id", info.ID), zap.String("flavor", hardware))
	ev.update(ctx, model.JobStatusTraining, "Remote job submitted: "+info.URL)

	final, err := b.poll(ctx, ev, info.ID)
	if err != nil {
		return nil, err
	}

	switch {
	case final.Stage == remote.StageCompleted:
		return b.collect(ctx, run, outputPrefix, remotePath), nil
	case final.Failed():
		if final.Message != "" {
			return nil, errors.New(final.Message)
		}
		return nil, errors.New("remote job failed")
	default:
		return nil, fmt.Errorf("remote job %s", final.Stage)
	}
}

// poll 按间隔查询直到远程任务结束。ctx 结束或本地记录离开 training 时提前返回
func (b *RemoteBackend) poll(ctx context.Context, ev emitter, remoteID string) (*remote.JobInfo, error) {
	log := logger.WithJob(ev.job.ID)
	started := time.Now()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		info, ierr := b.client.Inspect(ctx, remoteID)
		if ierr != nil {
			log.Warn("failed to inspect remote job", zap.String("remote_job_id", remoteID), zap.Error(ierr))
		}

		// 已取消或被判定超时的任务不再轮询，也不再发事件
		live, err := stillTraining(b.jobRepo, ev.job.ID)
		if err != nil {
			log.Warn("failed to reload job", zap.Error(err))
			continue
		}
		if !live {
			log.Info("job left training, polling abandoned", zap.String("remote_job_id", remoteID))
			return nil, errLeftTraining
		}
		if ierr != nil {
			continue
		}

		if err := b.jobRepo.Heartbeat(ev.job.ID); err != nil {
			log.Warn("heartbeat failed", zap.Error(err))
		}
		if info.Terminal() {
			log.Info("remote job finished", zap.String("stage", info.Stage))
			return info, nil
		}

		minutes := int(time.Since(started).Minutes())
		ev.update(ctx, model.JobStatusTraining, fmt.Sprintf("Training on remote: %s (%d min)", info.Stage, minutes))
	}
}

// collect 下载产物，单个文件失败只记日志
func (b *RemoteBackend) collect(ctx context.Context, run *Run, outputPrefix, remotePath string) *Outcome {
	log := logger.WithJob(run.Job.ID)
	out := &Outcome{ModelPath: remotePath}

	for _, name := range RemoteArtifacts {
		dst := filepath.Join(run.RunDir, name)
		if name == "best.pt" {
			dst = filepath.Join(run.RunDir, "weights", name)
		}
		if err := storage.Download(ctx, b.store, path.Join(outputPrefix, name), dst); err != nil {
			log.Warn("failed to download artifact", zap.String("file", name), zap.Error(err))
			continue
		}
		if name == "best.pt" {
			out.ModelPath = dst
		}
	}

	series, err := ParseResultsFile(filepath.Join(run.RunDir, ResultsFile))
	if err != nil {
		log.Warn("remote results not available", zap.Error(err))
	} else {
		out.Metrics = series
	}
	return out
}
