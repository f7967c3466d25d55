package model

import (
	"time"
)

// 图片标注状态
const (
	ImageStatusUnassigned = "unassigned"
	ImageStatusAnnotating = "annotating"
	ImageStatusCompleted  = "completed"
)

type Project struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:200;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	ProjectType string    `gorm:"size:50;default:detection" json:"project_type"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Project) TableName() string {
	return "projects"
}

type Class struct {
	ID        int64  `gorm:"primaryKey" json:"id"`
	ProjectID int64  `gorm:"not null;index" json:"project_id"`
	Name      string `gorm:"size:100;not null" json:"name"`
	Color     string `gorm:"size:20" json:"color"`
}

func (Class) TableName() string {
	return "classes"
}

type Image struct {
	ID          int64        `gorm:"primaryKey" json:"id"`
	ProjectID   int64        `gorm:"not null;index" json:"project_id"`
	Filename    string       `gorm:"size:500;not null" json:"filename"`
	Filepath    string       `gorm:"size:1000;not null" json:"filepath"`
	Width       int          `json:"width"`
	Height      int          `json:"height"`
	BatchID     string       `gorm:"size:100;index" json:"batch_id,omitempty"`
	Status      string       `gorm:"size:50;default:unassigned" json:"status"`
	UploadedAt  time.Time    `gorm:"autoCreateTime" json:"uploaded_at"`
	Annotations []Annotation `gorm:"foreignKey:ImageID" json:"annotations,omitempty"`
}

func (Image) TableName() string {
	return "images"
}

// Annotation 归一化坐标的检测框
type Annotation struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	ImageID     int64     `gorm:"not null;index" json:"image_id"`
	ClassID     int64     `gorm:"not null;index" json:"class_id"`
	XCenter     float64   `gorm:"not null" json:"x_center"`
	YCenter     float64   `gorm:"not null" json:"y_center"`
	Width       float64   `gorm:"not null" json:"width"`
	Height      float64   `gorm:"not null" json:"height"`
	Confidence  float64   `gorm:"default:1" json:"confidence"`
	IsPredicted bool      `gorm:"default:false" json:"is_predicted"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Annotation) TableName() string {
	return "annotations"
}

// CustomModel 用户上传的外部模型文件
type CustomModel struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	ProjectID   int64     `gorm:"not null;index" json:"project_id"`
	Name        string    `gorm:"size:200;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	FilePath    string    `gorm:"size:1000;not null" json:"file_path"`
	FileSize    string    `gorm:"size:50" json:"file_size"`
	CreatedAt   time.Time `json:"created_at"`
}

func (CustomModel) TableName() string {
	return "custom_models"
}
