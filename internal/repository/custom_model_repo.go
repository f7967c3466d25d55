package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/anno_train_server/internal/model"
)

type CustomModelRepository struct {
	db *gorm.DB
}

func NewCustomModelRepository(db *gorm.DB) *CustomModelRepository {
	return &CustomModelRepository{db: db}
}

func (r *CustomModelRepository) Create(m *model.CustomModel) error {
	return r.db.Create(m).Error
}

func (r *CustomModelRepository) GetByID(id int64) (*model.CustomModel, error) {
	var m model.CustomModel
	err := r.db.Where("id = ?", id).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *CustomModelRepository) ListByProject(projectID int64) ([]*model.CustomModel, error) {
	var models []*model.CustomModel
	err := r.db.Where("project_id = ?", projectID).Order("created_at DESC, id DESC").Find(&models).Error
	return models, err
}

func (r *CustomModelRepository) Delete(id int64) error {
	return r.db.Where("id = ?", id).Delete(&model.CustomModel{}).Error
}
