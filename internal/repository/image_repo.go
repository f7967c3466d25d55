package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/anno_train_server/internal/model"
)

type ImageRepository struct {
	db *gorm.DB
}

func NewImageRepository(db *gorm.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

func (r *ImageRepository) Create(image *model.Image) error {
	return r.db.Create(image).Error
}

func (r *ImageRepository) GetByID(id int64) (*model.Image, error) {
	var image model.Image
	err := r.db.Where("id = ?", id).First(&image).Error
	if err != nil {
		return nil, err
	}
	return &image, nil
}

func (r *ImageRepository) ListByProject(projectID int64) ([]*model.Image, error) {
	var images []*model.Image
	err := r.db.Where("project_id = ?", projectID).Order("id ASC").Find(&images).Error
	return images, err
}

// ListAnnotated 返回至少有一个标注的图片（含标注），按 ID 升序
func (r *ImageRepository) ListAnnotated(projectID int64) ([]*model.Image, error) {
	var images []*model.Image
	err := r.db.Preload("Annotations").
		Where("project_id = ?", projectID).
		Where("EXISTS (SELECT 1 FROM annotations WHERE annotations.image_id = images.id)").
		Order("id ASC").
		Find(&images).Error
	return images, err
}

// GetByIDsWithAnnotations 批量读取项目内的图片，不存在的 ID 不会出现在结果中
func (r *ImageRepository) GetByIDsWithAnnotations(projectID int64, ids []int64) (map[int64]*model.Image, error) {
	result := make(map[int64]*model.Image, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var images []*model.Image
	err := r.db.Preload("Annotations").
		Where("project_id = ? AND id IN ?", projectID, ids).
		Find(&images).Error
	if err != nil {
		return nil, err
	}
	for _, img := range images {
		result[img.ID] = img
	}
	return result, nil
}

// Delete 删除图片及其标注
func (r *ImageRepository) Delete(id int64) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("image_id = ?", id).Delete(&model.Annotation{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.Image{}).Error
	})
}
