package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/anno_train_server/internal/model"
)

type ClassRepository struct {
	db *gorm.DB
}

func NewClassRepository(db *gorm.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

func (r *ClassRepository) Create(class *model.Class) error {
	return r.db.Create(class).Error
}

func (r *ClassRepository) GetByID(id int64) (*model.Class, error) {
	var class model.Class
	err := r.db.Where("id = ?", id).First(&class).Error
	if err != nil {
		return nil, err
	}
	return &class, nil
}

// ListByProject 按 ID 升序返回项目的类别
func (r *ClassRepository) ListByProject(projectID int64) ([]*model.Class, error) {
	var classes []*model.Class
	err := r.db.Where("project_id = ?", projectID).Order("id ASC").Find(&classes).Error
	return classes, err
}

// Delete 删除类别及引用它的标注
func (r *ClassRepository) Delete(id int64) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("class_id = ?", id).Delete(&model.Annotation{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.Class{}).Error
	})
}
