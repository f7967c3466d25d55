package worker

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/qs3c/anno_train_server/internal/corpus"
	"github.com/qs3c/anno_train_server/internal/model"
	"github.com/qs3c/anno_train_server/internal/pkg/pubsub"
)

// EventPublisher 进度事件的发布方
type EventPublisher interface {
	Publish(ctx context.Context, ev *pubsub.Event) error
}

// Run 一次训练执行的上下文
type Run struct {
	Job    *model.TrainingJob
	Corpus *corpus.Corpus
	RunDir string
}

// Outcome 训练后端的产出
type Outcome struct {
	ModelPath string
	Metrics   model.MetricsSeries
}

// Backend 训练执行后端
type Backend interface {
	Name() string
	// Portable 为 true 时语料清单使用相对路径
	Portable() bool
	Run(ctx context.Context, run *Run) (*Outcome, error)
}

// RunDir 训练产物目录 <runs>/<project>/job_<id>
func RunDir(runsDir string, projectID, jobID int64) string {
	return filepath.Join(runsDir, fmt.Sprintf("%d", projectID), fmt.Sprintf("job_%d", jobID))
}
