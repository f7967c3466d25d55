package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/qs3c/anno_train_server/internal/model"
	"github.com/qs3c/anno_train_server/internal/pkg/logger"
	"github.com/qs3c/anno_train_server/internal/pkg/metrics"
	"github.com/qs3c/anno_train_server/internal/pkg/pubsub"
)

// emitter 绑定到一个任务的事件发布
type emitter struct {
	publisher EventPublisher
	job       *model.TrainingJob
}

func (e emitter) publish(ctx context.Context, ev *pubsub.Event) {
	if e.publisher == nil {
		return
	}
	ev.ProjectID = e.job.ProjectID
	ev.JobID = e.job.ID
	metrics.EventsPublished.WithLabelValues(ev.Type).Inc()
	if err := e.publisher.Publish(ctx, ev); err != nil {
		logger.WithJob(e.job.ID).Warn("failed to publish event",
			zap.String("type", ev.Type),
			zap.Error(err),
		)
	}
}

func (e emitter) update(ctx context.Context, status, message string) {
	e.publish(ctx, &pubsub.Event{
		Type:    pubsub.EventTrainingUpdate,
		Status:  status,
		Message: message,
	})
}

func (e emitter) progress(ctx context.Context, data map[string]interface{}) {
	e.publish(ctx, &pubsub.Event{
		Type:   pubsub.EventTrainingProgress,
		Status: model.JobStatusTraining,
		Data:   data,
	})
}

func (e emitter) complete(ctx context.Context, data map[string]interface{}) {
	e.publish(ctx, &pubsub.Event{
		Type:    pubsub.EventTrainingComplete,
		Status:  model.JobStatusCompleted,
		Message: "Training completed successfully!",
		Data:    data,
	})
}

func (e emitter) failed(ctx context.Context, errMsg string) {
	e.publish(ctx, &pubsub.Event{
		Type:   pubsub.EventTrainingError,
		Status: model.JobStatusFailed,
		Error:  errMsg,
	})
}

func (e emitter) evaluated(ctx context.Context, tm model.TestMetrics, cm []model.ClassMetric) {
	e.publish(ctx, &pubsub.Event{
		Type:    pubsub.EventTrainingUpdate,
		Status:  model.JobStatusCompleted,
		Message: "Test evaluation completed",
		Data: map[string]interface{}{
			"test_metrics":  tm,
			"class_metrics": cm,
		},
	})
}
