package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/anno_train_server/internal/model"
)

type TrainingJobRepository struct {
	db *gorm.DB
}

func NewTrainingJobRepository(db *gorm.DB) *TrainingJobRepository {
	return &TrainingJobRepository{db: db}
}

func (r *TrainingJobRepository) Create(job *model.TrainingJob) error {
	return r.db.Create(job).Error
}

// GetByID 每次都从数据库读取最新记录
func (r *TrainingJobRepository) GetByID(id int64) (*model.TrainingJob, error) {
	var job model.TrainingJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *TrainingJobRepository) UpdateFields(id int64, fields map[string]interface{}) error {
	return r.db.Model(&model.TrainingJob{}).Where("id = ?", id).Updates(fields).Error
}

// Transition 仅当当前状态属于 from 时更新，返回是否发生了转换
func (r *TrainingJobRepository) Transition(id int64, from []string, fields map[string]interface{}) (bool, error) {
	result := r.db.Model(&model.TrainingJob{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RequestStop 仅对 training 状态的任务设置提前停止标记
func (r *TrainingJobRepository) RequestStop(id int64) (bool, error) {
	return r.Transition(id, []string{model.JobStatusTraining}, map[string]interface{}{"stop_early": true})
}

// Cancel pending/training -> failed
func (r *TrainingJobRepository) Cancel(id int64) (bool, error) {
	now := time.Now()
	return r.Transition(id, []string{model.JobStatusPending, model.JobStatusTraining}, map[string]interface{}{
		"status":        model.JobStatusFailed,
		"error_message": model.CancelledMessage,
		"completed_at":  &now,
	})
}

func (r *TrainingJobRepository) Heartbeat(id int64) error {
	return r.db.Model(&model.TrainingJob{}).Where("id = ?", id).Update("heartbeat_at", time.Now()).Error
}

func (r *TrainingJobRepository) ListByProject(projectID int64) ([]*model.TrainingJob, error) {
	var jobs []*model.TrainingJob
	err := r.db.Where("project_id = ?", projectID).Order("created_at DESC, id DESC").Find(&jobs).Error
	return jobs, err
}

func (r *TrainingJobRepository) CountByProject(projectID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.TrainingJob{}).Where("project_id = ?", projectID).Count(&count).Error
	return count, err
}

// ListStale 心跳早于 before 的 training 任务
func (r *TrainingJobRepository) ListStale(before time.Time) ([]*model.TrainingJob, error) {
	var jobs []*model.TrainingJob
	err := r.db.Where("status = ?", model.JobStatusTraining).
		Where("((heartbeat_at IS NULL AND started_at < ?) OR heartbeat_at < ?)", before, before).
		Find(&jobs).Error
	return jobs, err
}

// ListFinishedBefore 完成时间早于 before 的终态任务
func (r *TrainingJobRepository) ListFinishedBefore(before time.Time) ([]*model.TrainingJob, error) {
	var jobs []*model.TrainingJob
	err := r.db.Where("status IN ?", []string{model.JobStatusCompleted, model.JobStatusFailed}).
		Where("completed_at < ?", before).
		Find(&jobs).Error
	return jobs, err
}

func (r *TrainingJobRepository) Delete(id int64) error {
	return r.db.Where("id = ?", id).Delete(&model.TrainingJob{}).Error
}
