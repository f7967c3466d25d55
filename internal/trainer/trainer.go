package trainer

import (
	"context"
	"path/filepath"
)

// Results.csv 中的指标列名
const (
	KeyMAP50     = "metrics/mAP50(B)"
	KeyMAP50_95  = "metrics/mAP50-95(B)"
	KeyPrecision = "metrics/precision(B)"
	KeyRecall    = "metrics/recall(B)"
	KeyValBox    = "val/box_loss"
	KeyValCls    = "val/cls_loss"
	KeyValDFL    = "val/dfl_loss"
)

// TrainRequest 一次训练的输入
type TrainRequest struct {
	JobID     int64
	DataYAML  string
	RunDir    string
	ModelSize string
	Epochs    int
	BatchSize int
	ImageSize int
}

// WeightsPath 训练完成后的最佳权重位置
func (r TrainRequest) WeightsPath() string {
	return filepath.Join(r.RunDir, "weights", "best.pt")
}

// Epoch 每个 epoch 结束时回调的数据，回调中把 Stop 置为 true 可提前停止
type Epoch struct {
	Index     int
	Total     int
	Metrics   map[string]float64
	LossItems []float64 // box, cls, dfl
	LR        float64
	Stop      bool
}

// Loss 第 i 项训练损失，缺失时为 0
func (e *Epoch) Loss(i int) float64 {
	if i < len(e.LossItems) {
		return e.LossItems[i]
	}
	return 0
}

type EpochFunc func(ctx context.Context, ep *Epoch) error

// Trainer 训练后端，权重写入 req.WeightsPath()
type Trainer interface {
	Train(ctx context.Context, req TrainRequest, onEpoch EpochFunc) error
}

// EvalRequest 在某个划分上验证权重
type EvalRequest struct {
	Weights   string
	DataYAML  string
	Split     string
	ImageSize int
	RunDir    string
}

// ClassResult 单个类别的指标，Index 为 data.yaml 中的类别序号
type ClassResult struct {
	Index     int     `json:"index"`
	MAP50     float64 `json:"map50"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
}

type EvalResult struct {
	MAP50     float64       `json:"map50"`
	Precision float64       `json:"mp"`
	Recall    float64       `json:"mr"`
	Classes   []ClassResult `json:"classes"`
}

type Evaluator interface {
	Evaluate(ctx context.Context, req EvalRequest) (*EvalResult, error)
}
