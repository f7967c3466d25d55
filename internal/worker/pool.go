package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/anno_train_server/internal/pkg/logger"
	"github.com/qs3c/anno_train_server/internal/pkg/queue"
)

const popTimeout = 5 * time.Second

// Source 任务来源，超时无消息时返回 nil, nil
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.JobMessage, error)
}

// Handler 处理单条消息
type Handler interface {
	Process(ctx context.Context, msg *queue.JobMessage) error
}

// Pool 固定数量的 goroutine 从队列取任务，每个任务只由一个 goroutine 处理
type Pool struct {
	source  Source
	handler Handler
	size    int
}

func NewPool(source Source, handler Handler, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{source: source, handler: handler, size: size}
}

// Run 阻塞直到 ctx 结束且所有 goroutine 退出
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.loop(ctx, workerID)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	log := logger.WithField("worker_id", workerID)
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			return
		default:
		}

		msg, err := p.source.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("failed to pop job", zap.Error(err))
			// redis 不可用时避免空转
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue
		}

		log.Info("processing job",
			zap.Int64("job_id", msg.JobID),
			zap.String("kind", msg.Kind),
			zap.String("trace_id", msg.TraceID),
		)
		if err := p.handler.Process(ctx, msg); err != nil {
			log.Error("job failed", zap.Int64("job_id", msg.JobID), zap.Error(err))
		}
	}
}
