package dto

import (
	"time"

	"github.com/qs3c/anno_train_server/internal/model"
)

// CreateProjectRequest 创建项目请求，可同时创建类别
type CreateProjectRequest struct {
	Name        string       `json:"name" binding:"required,max=200"`
	Description string       `json:"description"`
	ProjectType string       `json:"project_type"`
	Classes     []ClassInput `json:"classes"`
}

type ClassInput struct {
	Name  string `json:"name" binding:"required,max=100"`
	Color string `json:"color"`
}

// ProjectDetail 项目详情
type ProjectDetail struct {
	*model.Project
	Classes         []*model.Class `json:"classes"`
	ImageCount      int            `json:"image_count"`
	AnnotatedImages int            `json:"annotated_images"`
}

// CreateVersionRequest 创建数据集版本请求，比例为空时使用 0.7/0.2/0.1
type CreateVersionRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	TrainSplit  *float64 `json:"train_split"`
	ValSplit    *float64 `json:"val_split"`
	TestSplit   *float64 `json:"test_split"`
	Seed        *int64   `json:"seed"`
}

// VersionListItem 版本列表项
type VersionListItem struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	TrainSplit       float64   `json:"train_split"`
	ValSplit         float64   `json:"val_split"`
	TestSplit        float64   `json:"test_split"`
	Seed             *int64    `json:"seed,omitempty"`
	TrainCount       int       `json:"train_count"`
	ValCount         int       `json:"val_count"`
	TestCount        int       `json:"test_count"`
	TotalImages      int       `json:"total_images"`
	TotalAnnotations int       `json:"total_annotations"`
	CreatedAt        time.Time `json:"created_at"`
}

// RegisterModelRequest 登记外部模型文件
type RegisterModelRequest struct {
	Name        string `json:"name" binding:"required,max=200"`
	Description string `json:"description"`
	FilePath    string `json:"file_path" binding:"required"`
}
