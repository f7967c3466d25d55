package service

import (
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/qs3c/anno_train_server/internal/dataset"
	"github.com/qs3c/anno_train_server/internal/model"
	"github.com/qs3c/anno_train_server/internal/model/dto"
	"github.com/qs3c/anno_train_server/internal/pkg/apperror"
	"github.com/qs3c/anno_train_server/internal/repository"
)

var (
	ErrVersionNotFound = apperror.NotFound("Dataset version not found")
	ErrVersionInUse    = apperror.Conflict(repository.ErrVersionInUse.Error())
)

type DatasetService struct {
	versionRepo *repository.DatasetVersionRepository
	imageRepo   *repository.ImageRepository
	projectRepo *repository.ProjectRepository
}

func NewDatasetService(
	versionRepo *repository.DatasetVersionRepository,
	imageRepo *repository.ImageRepository,
	projectRepo *repository.ProjectRepository,
) *DatasetService {
	return &DatasetService{
		versionRepo: versionRepo,
		imageRepo:   imageRepo,
		projectRepo: projectRepo,
	}
}

// CreateVersion 对项目当前已标注图片做一次划分并保存为不可变版本
func (s *DatasetService) CreateVersion(projectID int64, req *dto.CreateVersionRequest) (*model.DatasetVersion, error) {
	if _, err := s.projectRepo.GetByID(projectID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}

	ratios := dataset.DefaultRatios
	if req.TrainSplit != nil {
		ratios.Train = *req.TrainSplit
	}
	if req.ValSplit != nil {
		ratios.Val = *req.ValSplit
	}
	if req.TestSplit != nil {
		ratios.Test = *req.TestSplit
	}
	// 先校验再读库
	if err := ratios.Validate(); err != nil {
		return nil, err
	}

	images, err := s.imageRepo.ListAnnotated(projectID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(images))
	annotations := 0
	for _, img := range images {
		ids = append(ids, img.ID)
		annotations += len(img.Annotations)
	}

	splits, err := dataset.Split(ids, ratios, req.Seed)
	if err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		count, err := s.versionRepo.CountByProject(projectID)
		if err != nil {
			return nil, err
		}
		name = fmt.Sprintf("Version %d", count+1)
	}

	version := &model.DatasetVersion{
		ProjectID:        projectID,
		Name:             name,
		Description:      req.Description,
		TrainSplit:       ratios.Train,
		ValSplit:         ratios.Val,
		TestSplit:        ratios.Test,
		Seed:             req.Seed,
		ImageSplits:      datatypes.NewJSONType(splits),
		TotalImages:      splits.Total(),
		TotalAnnotations: annotations,
	}
	if err := s.versionRepo.Create(version); err != nil {
		return nil, err
	}
	return version, nil
}

// ListVersions 按创建时间倒序
func (s *DatasetService) ListVersions(projectID int64) ([]*dto.VersionListItem, error) {
	versions, err := s.versionRepo.ListByProject(projectID)
	if err != nil {
		return nil, err
	}

	items := make([]*dto.VersionListItem, len(versions))
	for i, v := range versions {
		splits := v.ImageSplits.Data()
		items[i] = &dto.VersionListItem{
			ID:               v.ID,
			Name:             v.Name,
			Description:      v.Description,
			TrainSplit:       v.TrainSplit,
			ValSplit:         v.ValSplit,
			TestSplit:        v.TestSplit,
			Seed:             v.Seed,
			TrainCount:       len(splits.Train),
			ValCount:         len(splits.Val),
			TestCount:        len(splits.Test),
			TotalImages:      v.TotalImages,
			TotalAnnotations: v.TotalAnnotations,
			CreatedAt:        v.CreatedAt,
		}
	}
	return items, nil
}

func (s *DatasetService) GetVersion(id int64) (*model.DatasetVersion, error) {
	version, err := s.versionRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVersionNotFound
		}
		return nil, err
	}
	return version, nil
}

// DeleteVersion 有训练任务引用时拒绝删除
func (s *DatasetService) DeleteVersion(id int64) error {
	err := s.versionRepo.Delete(id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrVersionInUse):
		return ErrVersionInUse
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrVersionNotFound
	default:
		return err
	}
}
