package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/qs3c/anno_train_server/internal/model"
)

// ErrVersionInUse 仍被训练任务引用的版本不能删除
var ErrVersionInUse = errors.New("Cannot delete version with associated training jobs")

type DatasetVersionRepository struct {
	db *gorm.DB
}

func NewDatasetVersionRepository(db *gorm.DB) *DatasetVersionRepository {
	return &DatasetVersionRepository{db: db}
}

func (r *DatasetVersionRepository) Create(version *model.DatasetVersion) error {
	return r.db.Create(version).Error
}

func (r *DatasetVersionRepository) GetByID(id int64) (*model.DatasetVersion, error) {
	var version model.DatasetVersion
	err := r.db.Where("id = ?", id).First(&version).Error
	if err != nil {
		return nil, err
	}
	return &version, nil
}

func (r *DatasetVersionRepository) ListByProject(projectID int64) ([]*model.DatasetVersion, error) {
	var versions []*model.DatasetVersion
	err := r.db.Where("project_id = ?", projectID).Order("created_at DESC, id DESC").Find(&versions).Error
	return versions, err
}

func (r *DatasetVersionRepository) CountByProject(projectID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.DatasetVersion{}).Where("project_id = ?", projectID).Count(&count).Error
	return count, err
}

// Delete 没有训练任务引用时才删除
func (r *DatasetVersionRepository) Delete(id int64) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var refs int64
		if err := tx.Model(&model.TrainingJob{}).Where("dataset_version_id = ?", id).Count(&refs).Error; err != nil {
			return err
		}
		if refs > 0 {
			return ErrVersionInUse
		}

		result := tx.Where("id = ?", id).Delete(&model.DatasetVersion{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
