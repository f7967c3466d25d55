package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/qs3c/anno_train_server/internal/model"
)

var (
	ErrAnnotationClassMismatch = errors.New("annotation class does not belong to the image's project")
	ErrAnnotationOutOfRange    = errors.New("annotation box must be normalized to [0,1]")
)

type AnnotationRepository struct {
	db *gorm.DB
}

func NewAnnotationRepository(db *gorm.DB) *AnnotationRepository {
	return &AnnotationRepository{db: db}
}

// Create 校验类别与图片同属一个项目后写入
func (r *AnnotationRepository) Create(ann *model.Annotation) error {
	for _, v := range []float64{ann.XCenter, ann.YCenter, ann.Width, ann.Height} {
		if v < 0 || v > 1 {
			return ErrAnnotationOutOfRange
		}
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		var image model.Image
		if err := tx.Select("id", "project_id").Where("id = ?", ann.ImageID).First(&image).Error; err != nil {
			return err
		}
		var class model.Class
		if err := tx.Select("id", "project_id").Where("id = ?", ann.ClassID).First(&class).Error; err != nil {
			return err
		}
		if image.ProjectID != class.ProjectID {
			return ErrAnnotationClassMismatch
		}
		if ann.Confidence == 0 {
			ann.Confidence = 1.0
		}
		return tx.Create(ann).Error
	})
}

func (r *AnnotationRepository) ListByImage(imageID int64) ([]*model.Annotation, error) {
	var anns []*model.Annotation
	err := r.db.Where("image_id = ?", imageID).Order("id ASC").Find(&anns).Error
	return anns, err
}
