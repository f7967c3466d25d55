package service

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/anno_train_server/internal/model"
	"github.com/qs3c/anno_train_server/internal/model/dto"
	"github.com/qs3c/anno_train_server/internal/pkg/apperror"
	"github.com/qs3c/anno_train_server/internal/pkg/logger"
	"github.com/qs3c/anno_train_server/internal/repository"
)

var ErrModelNotFound = apperror.NotFound("Model not found")

type CustomModelService struct {
	modelRepo   *repository.CustomModelRepository
	projectRepo *repository.ProjectRepository
}

func NewCustomModelService(modelRepo *repository.CustomModelRepository, projectRepo *repository.ProjectRepository) *CustomModelService {
	return &CustomModelService{modelRepo: modelRepo, projectRepo: projectRepo}
}

// Register 登记已上传到服务器的 .pt 文件
func (s *CustomModelService) Register(projectID int64, req *dto.RegisterModelRequest) (*model.CustomModel, error) {
	if _, err := s.projectRepo.GetByID(projectID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	if req.Name == "" {
		return nil, apperror.Validation("Model name is required")
	}
	if !strings.HasSuffix(req.FilePath, ".pt") {
		return nil, apperror.Validation("Only .pt files are supported")
	}

	info, err := os.Stat(req.FilePath)
	if err != nil || info.IsDir() {
		return nil, apperror.Validation("Model file not found")
	}

	m := &model.CustomModel{
		ProjectID:   projectID,
		Name:        req.Name,
		Description: req.Description,
		FilePath:    req.FilePath,
		FileSize:    HumanSize(info.Size()),
	}
	if err := s.modelRepo.Create(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *CustomModelService) List(projectID int64) ([]*model.CustomModel, error) {
	return s.modelRepo.ListByProject(projectID)
}

// Delete 删除记录和文件，文件删除失败只记日志
func (s *CustomModelService) Delete(id int64) error {
	m, err := s.modelRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrModelNotFound
		}
		return err
	}
	if err := s.modelRepo.Delete(id); err != nil {
		return err
	}
	if err := removeFile(m.FilePath); err != nil {
		logger.Warn("failed to remove model file", zap.Int64("model_id", id), zap.Error(err))
	}
	return nil
}

// HumanSize B / KB / MB 保留一位小数，GB 保留两位
func HumanSize(n int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case n < kb:
		return fmt.Sprintf("%d B", n)
	case n < mb:
		return fmt.Sprintf("%.1f KB", float64(n)/kb)
	case n < gb:
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	default:
		return fmt.Sprintf("%.2f GB", float64(n)/gb)
	}
}
