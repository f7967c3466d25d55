package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/anno_train_server/internal/model"
)

type ProjectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) Create(project *model.Project) error {
	return r.db.Create(project).Error
}

func (r *ProjectRepository) GetByID(id int64) (*model.Project, error) {
	var project model.Project
	err := r.db.Where("id = ?", id).First(&project).Error
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// Delete 级联删除项目及其所有子实体（不含磁盘文件）
func (r *ProjectRepository) Delete(id int64) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		imageIDs := tx.Model(&model.Image{}).Select("id").Where("project_id = ?", id)
		if err := tx.Where("image_id IN (?)", imageIDs).Delete(&model.Annotation{}).Error; err != nil {
			return err
		}

		children := []interface{}{
			&model.Image{},
			&model.Class{},
			&model.TrainingJob{},
			&model.DatasetVersion{},
			&model.CustomModel{},
		}
		for _, m := range children {
			if err := tx.Where("project_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}

		return tx.Where("id = ?", id).Delete(&model.Project{}).Error
	})
}
