package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/qs3c/anno_train_server/internal/pkg/pubsub"
	"github.com/qs3c/anno_train_server/internal/pkg/remote"
	"github.com/qs3c/anno_train_server/internal/trainer"
)

type recorder struct {
	mu     sync.Mutex
	events []*pubsub.Event
	// ctxErrs 每次发布时 ctx.Err() 的值
	ctxErrs []error
}

func (r *recorder) Publish(ctx context.Context, ev *pubsub.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *ev
	r.events = append(r.events, &cp)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	return nil
}

// lastCtxErr 最后一次发布时的 ctx 状态
func (r *recorder) lastCtxErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ctxErrs) == 0 {
		return nil
	}
	return r.ctxErrs[len(r.ctxErrs)-1]
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) ofType(typ string) []*pubsub.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*pubsub.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) last() *pubsub.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Message != "" {
			out = append(out, ev.Message)
		}
	}
	return out
}

type fakeTrainer struct {
	epochs    int
	err       error
	panicMsg  string
	noWeights bool
	results   string
	// hook 在第 i 个 epoch 回调之前执行
	hook func(i int)

	calls     int
	req       trainer.TrainRequest
	stoppedAt int
}

func (f *fakeTrainer) Train(ctx context.Context, req trainer.TrainRequest, onEpoch trainer.EpochFunc) error {
	f.calls++
	f.req = req
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}

	for i := 1; i <= f.epochs; i++ {
		if f.hook != nil {
			f.hook(i)
		}
		ep := &trainer.Epoch{
			Index: i,
			Total: f.epochs,
			Metrics: map[string]float64{
				trainer.KeyMAP50:     0.1 * float64(i),
				trainer.KeyPrecision: 0.5,
				trainer.KeyRecall:    0.4,
				trainer.KeyValBox:    2.0,
			},
			LossItems: []float64{1.5, 0.5, 0.25},
			LR:        0.01,
		}
		_ = onEpoch(ctx, ep)
		if ep.Stop {
			f.stoppedAt = i
			break
		}
	}
	if f.err != nil {
		return f.err
	}

	if !f.noWeights {
		if err := os.MkdirAll(filepath.Dir(req.WeightsPath()), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(req.WeightsPath(), []byte("weights"), 0o644); err != nil {
			return err
		}
	}
	if f.results != "" {
		if err := os.WriteFile(filepath.Join(req.RunDir, ResultsFile), []byte(f.results), 0o644); err != nil {
			return err
		}
	}
	return nil
}

type fakeEvaluator struct {
	res   *trainer.EvalResult
	err   error
	calls int
	req   trainer.EvalRequest
}

func (f *fakeEvaluator) Evaluate(_ context.Context, req trainer.EvalRequest) (*trainer.EvalResult, error) {
	f.calls++
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

type fakeRemote struct {
	mu        sync.Mutex
	stages    []*remote.JobInfo
	submitErr error
	submitted []remote.SubmitRequest
	inspects  int
	// inspectErr 非空时每次 Inspect 都失败，onInspect 在其之前执行
	inspectErr error
	onInspect  func(i int)
}

func (f *fakeRemote) Submit(_ context.Context, req remote.SubmitRequest) (*remote.JobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	return &remote.JobInfo{ID: "r-1", URL: "https://jobs.example.com/r-1", Stage: remote.StageQueued}, nil
}

func (f *fakeRemote) Inspect(_ context.Context, id string) (*remote.JobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != "r-1" {
		return nil, errors.New("unknown job")
	}
	i := f.inspects
	f.inspects++
	if f.onInspect != nil {
		f.onInspect(i)
	}
	if f.inspectErr != nil {
		return nil, f.inspectErr
	}
	if i >= len(f.stages) {
		return f.stages[len(f.stages)-1], nil
	}
	return f.stages[i], nil
}
