package model

import (
	"time"

	"gorm.io/datatypes"
)

// 训练任务状态
const (
	JobStatusPending   = "pending"
	JobStatusTraining  = "training"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// CancelledMessage 用户取消时写入的错误信息
const CancelledMessage = "cancelled by user"

// MetricsSeries 每个 epoch 的训练指标，本地与远程训练共用
type MetricsSeries struct {
	Epochs    []int     `json:"epochs"`
	TrainLoss []float64 `json:"train_loss"`
	ValLoss   []float64 `json:"val_loss"`
	MAP50     []float64 `json:"map50"`
	MAP50_95  []float64 `json:"map50_95"`
	Precision []float64 `json:"precision"`
	Recall    []float64 `json:"recall"`
	LR        []float64 `json:"lr"`
}

// EpochRecord 单个 epoch 的指标
type EpochRecord struct {
	Epoch     int
	TrainLoss float64
	ValLoss   float64
	MAP50     float64
	MAP50_95  float64
	Precision float64
	Recall    float64
	LR        float64
}

// Append 追加一个 epoch
func (m *MetricsSeries) Append(r EpochRecord) {
	m.Epochs = append(m.Epochs, r.Epoch)
	m.TrainLoss = append(m.TrainLoss, r.TrainLoss)
	m.ValLoss = append(m.ValLoss, r.ValLoss)
	m.MAP50 = append(m.MAP50, r.MAP50)
	m.MAP50_95 = append(m.MAP50_95, r.MAP50_95)
	m.Precision = append(m.Precision, r.Precision)
	m.Recall = append(m.Recall, r.Recall)
	m.LR = append(m.LR, r.LR)
}

// Len epoch 数
func (m MetricsSeries) Len() int {
	return len(m.Epochs)
}

// ClassMetric 单个类别的测试集指标
type ClassMetric struct {
	Class     string  `json:"class"`
	MAP50     float64 `json:"map50"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
}

// TestMetrics 测试集汇总指标，评估失败时全部为 nil
type TestMetrics struct {
	MAP50     *float64 `json:"map50"`
	Precision *float64 `json:"precision"`
	Recall    *float64 `json:"recall"`
}

type TrainingJob struct {
	ID               int64  `gorm:"primaryKey" json:"id"`
	ProjectID        int64  `gorm:"not null;index" json:"project_id"`
	DatasetVersionID *int64 `gorm:"index" json:"dataset_version_id,omitempty"`
	Name             string `gorm:"size:200" json:"name"`
	ModelSize        string `gorm:"size:20;default:n" json:"model_size"` // n, s, m, l, x
	Status           string `gorm:"size:50;default:pending;index" json:"status"`
	Epochs           int    `gorm:"default:100" json:"epochs"`
	BatchSize        int    `gorm:"default:16" json:"batch_size"`
	ImageSize        int    `gorm:"default:640" json:"image_size"`
	ModelPath        string `gorm:"size:1000" json:"model_path,omitempty"`

	Metrics       datatypes.JSONType[MetricsSeries] `json:"metrics"`
	TestMAP50     *float64                          `json:"test_map50"`
	TestPrecision *float64                          `json:"test_precision"`
	TestRecall    *float64                          `json:"test_recall"`
	ClassMetrics  datatypes.JSONType[[]ClassMetric] `json:"class_metrics"`

	StopEarly    bool   `gorm:"default:false" json:"stop_early"`
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`

	// 远程训练
	RemoteJobID    string `gorm:"size:200" json:"remote_job_id,omitempty"`
	RemoteJobURL   string `gorm:"size:500" json:"remote_job_url,omitempty"`
	RemoteUsername string `gorm:"size:100" json:"remote_username,omitempty"`
	Hardware       string `gorm:"size:50" json:"hardware,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (TrainingJob) TableName() string {
	return "training_jobs"
}

// IsActive pending 或 training
func (j *TrainingJob) IsActive() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusTraining
}

// UsesRemote 是否配置了远程执行身份
func (j *TrainingJob) UsesRemote() bool {
	return j.RemoteUsername != ""
}
