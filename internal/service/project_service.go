package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/anno_train_server/internal/model"
	"github.com/qs3c/anno_train_server/internal/model/dto"
	"github.com/qs3c/anno_train_server/internal/pkg/apperror"
	"github.com/qs3c/anno_train_server/internal/pkg/logger"
	"github.com/qs3c/anno_train_server/internal/repository"
)

var ErrProjectNotFound = apperror.NotFound("Project not found")

const defaultClassColor = "#FF0000"

type ProjectService struct {
	projectRepo *repository.ProjectRepository
	classRepo   *repository.ClassRepository
	imageRepo   *repository.ImageRepository
	modelRepo   *repository.CustomModelRepository
	datasetsDir string
	runsDir     string
}

func NewProjectService(
	projectRepo *repository.ProjectRepository,
	classRepo *repository.ClassRepository,
	imageRepo *repository.ImageRepository,
	modelRepo *repository.CustomModelRepository,
	datasetsDir string,
	runsDir string,
) *ProjectService {
	return &ProjectService{
		projectRepo: projectRepo,
		classRepo:   classRepo,
		imageRepo:   imageRepo,
		modelRepo:   modelRepo,
		datasetsDir: datasetsDir,
		runsDir:     runsDir,
	}
}

// Create 创建项目及初始类别
func (s *ProjectService) Create(req *dto.CreateProjectRequest) (*model.Project, error) {
	if req.Name == "" {
		return nil, apperror.Validation("Project name is required")
	}

	project := &model.Project{
		Name:        req.Name,
		Description: req.Description,
		ProjectType: req.ProjectType,
	}
	if project.ProjectType == "" {
		project.ProjectType = "detection"
	}
	if err := s.projectRepo.Create(project); err != nil {
		return nil, err
	}

	for _, c := range req.Classes {
		color := c.Color
		if color == "" {
			color = defaultClassColor
		}
		if err := s.classRepo.Create(&model.Class{ProjectID: project.ID, Name: c.Name, Color: color}); err != nil {
			return nil, err
		}
	}
	return project, nil
}

// Get 项目详情
func (s *ProjectService) Get(id int64) (*dto.ProjectDetail, error) {
	project, err := s.projectRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}

	classes, err := s.classRepo.ListByProject(id)
	if err != nil {
		return nil, err
	}
	images, err := s.imageRepo.ListByProject(id)
	if err != nil {
		return nil, err
	}
	annotated, err := s.imageRepo.ListAnnotated(id)
	if err != nil {
		return nil, err
	}

	return &dto.ProjectDetail{
		Project:         project,
		Classes:         classes,
		ImageCount:      len(images),
		AnnotatedImages: len(annotated),
	}, nil
}

// Delete 删除项目记录后清理磁盘文件，文件清理失败只记日志
func (s *ProjectService) Delete(id int64) error {
	if _, err := s.projectRepo.GetByID(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProjectNotFound
		}
		return err
	}

	images, err := s.imageRepo.ListByProject(id)
	if err != nil {
		return err
	}
	models, err := s.modelRepo.ListByProject(id)
	if err != nil {
		return err
	}

	if err := s.projectRepo.Delete(id); err != nil {
		return err
	}

	var result *multierror.Error
	for _, img := range images {
		if err := removeFile(img.Filepath); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, m := range models {
		if err := removeFile(m.FilePath); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, dir := range []string{s.datasetsDir, s.runsDir} {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, fmt.Sprintf("%d", id))); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		logger.Warn("project files not fully removed", zap.Int64("project_id", id), zap.Error(err))
	}
	return nil
}

// removeFile 文件不存在不算错误
func removeFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
