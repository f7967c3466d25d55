package trainer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/qs3c/anno_train_server/internal/pkg/logger"
)

// StopFileName 训练脚本在每个 epoch 结束时检查这个文件
const StopFileName = "STOP"

const stderrTail = 20

// line 脚本标准输出的一行 JSON
type line struct {
	Event     string             `json:"event"`
	Epoch     int                `json:"epoch"`
	Total     int                `json:"total"`
	Metrics   map[string]float64 `json:"metrics"`
	LossItems []float64          `json:"loss_items"`
	LR        float64            `json:"lr"`
	Message   string             `json:"message"`

	*EvalResult
}

// ExecTrainer 通过子进程运行训练脚本
type ExecTrainer struct {
	command []string
}

func NewExecTrainer(command []string) *ExecTrainer {
	return &ExecTrainer{command: command}
}

func (t *ExecTrainer) Train(ctx context.Context, req TrainRequest, onEpoch EpochFunc) error {
	if len(t.command) == 0 {
		return errors.New("train command not configured")
	}
	if err := os.MkdirAll(req.RunDir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	stopFile := filepath.Join(req.RunDir, StopFileName)
	_ = os.Remove(stopFile)

	args := append(t.command[1:len(t.command):len(t.command)],
		"--data", req.DataYAML,
		"--run-dir", req.RunDir,
		"--model-size", req.ModelSize,
		"--epochs", strconv.Itoa(req.Epochs),
		"--batch", strconv.Itoa(req.BatchSize),
		"--imgsz", strconv.Itoa(req.ImageSize),
		"--stop-file", stopFile,
	)

	log := logger.WithJob(req.JobID)
	return run(ctx, t.command[0], args, func(l *line) {
		switch l.Event {
		case "epoch":
			ep := &Epoch{
				Index:     l.Epoch,
				Total:     l.Total,
				Metrics:   l.Metrics,
				LossItems: l.LossItems,
				LR:        l.LR,
			}
			if ep.Metrics == nil {
				ep.Metrics = map[string]float64{}
			}
			if err := onEpoch(ctx, ep); err != nil {
				log.Warn("epoch callback failed", zap.Int("epoch", ep.Index), zap.Error(err))
			}
			if ep.Stop {
				if err := os.WriteFile(stopFile, nil, 0o644); err != nil {
					log.Warn("failed to write stop file", zap.Error(err))
				}
			}
		case "log":
			log.Debug("trainer", zap.String("message", l.Message))
		}
	})
}

// ExecEvaluator 通过子进程运行验证脚本，最后一行 result 事件即结果
type ExecEvaluator struct {
	command []string
}

func NewExecEvaluator(command []string) *ExecEvaluator {
	return &ExecEvaluator{command: command}
}

func (e *ExecEvaluator) Evaluate(ctx context.Context, req EvalRequest) (*EvalResult, error) {
	if len(e.command) == 0 {
		return nil, errors.New("eval command not configured")
	}

	args := append(e.command[1:len(e.command):len(e.command)],
		"--weights", req.Weights,
		"--data", req.DataYAML,
		"--split", req.Split,
		"--imgsz", strconv.Itoa(req.ImageSize),
	)
	if req.RunDir != "" {
		args = append(args, "--run-dir", req.RunDir)
	}

	var result *EvalResult
	err := run(ctx, e.command[0], args, func(l *line) {
		if l.Event == "result" && l.EvalResult != nil {
			result = l.EvalResult
		}
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errors.New("evaluator produced no result")
	}
	return result, nil
}

// run 启动进程并逐行解析 stdout，失败时错误信息带上 stderr 末尾
func run(ctx context.Context, name string, args []string, handle func(*line)) error {
	cmd := exec.CommandContext(ctx, name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	var (
		wg   sync.WaitGroup
		tail []string
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		tail = readTail(stderr, stderrTail)
	}()

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		raw := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(raw, "{") {
			continue
		}
		var l line
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			continue
		}
		handle(&l)
	}
	// 读完 stdout 后再 Wait
	_, _ = io.Copy(io.Discard, stdout)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(tail) > 0 {
			return fmt.Errorf("%v: %s", err, strings.Join(tail, "\n"))
		}
		return err
	}
	return nil
}

func readTail(r io.Reader, n int) []string {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, sc.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines
}
