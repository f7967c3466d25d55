package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/qs3c/anno_train_server/internal/model"
)

// TestProject 创建测试项目
func TestProject(t *testing.T, db *gorm.DB) *model.Project {
	t.Helper()

	project := &model.Project{
		Name:        fmt.Sprintf("Test Project %d", time.Now().UnixNano()%10000),
		ProjectType: "detection",
	}
	if err := db.Create(project).Error; err != nil {
		t.Fatalf("Failed to create test project: %v", err)
	}
	return project
}

// TestClass 创建测试类别
func TestClass(t *testing.T, db *gorm.DB, projectID int64, name string) *model.Class {
	t.Helper()

	class := &model.Class{ProjectID: projectID, Name: name, Color: "#ff0000"}
	if err := db.Create(class).Error; err != nil {
		t.Fatalf("Failed to create test class: %v", err)
	}
	return class
}

// TestImage 创建测试图片
func TestImage(t *testing.T, db *gorm.DB, projectID int64, opts ...func(*model.Image)) *model.Image {
	t.Helper()

	n := time.Now().UnixNano()
	image := &model.Image{
		ProjectID: projectID,
		Filename:  fmt.Sprintf("img_%d.jpg", n),
		Filepath:  fmt.Sprintf("uploads/img_%d.jpg", n),
		Width:     640,
		Height:    480,
		Status:    model.ImageStatusCompleted,
	}

	for _, opt := range opts {
		opt(image)
	}

	if err := db.Create(image).Error; err != nil {
		t.Fatalf("Failed to create test image: %v", err)
	}
	return image
}

// WithFilepath 设置图片文件路径
func WithFilepath(path string) func(*model.Image) {
	return func(i *model.Image) {
		i.Filepath = path
	}
}

// WithImageStatus 设置图片状态
func WithImageStatus(status string) func(*model.Image) {
	return func(i *model.Image) {
		i.Status = status
	}
}

// TestAnnotation 创建测试标注，坐标固定在图片中心
func TestAnnotation(t *testing.T, db *gorm.DB, imageID, classID int64) *model.Annotation {
	t.Helper()

	ann := &model.Annotation{
		ImageID:    imageID,
		ClassID:    classID,
		XCenter:    0.5,
		YCenter:    0.5,
		Width:      0.25,
		Height:     0.2,
		Confidence: 1,
	}
	if err := db.Create(ann).Error; err != nil {
		t.Fatalf("Failed to create test annotation: %v", err)
	}
	return ann
}

// TestAnnotatedImages 创建 n 张各带一个标注的图片
func TestAnnotatedImages(t *testing.T, db *gorm.DB, projectID, classID int64, n int) []*model.Image {
	t.Helper()

	images := make([]*model.Image, 0, n)
	for i := 0; i < n; i++ {
		img := TestImage(t, db, projectID, func(im *model.Image) {
			im.Filename = fmt.Sprintf("img_%03d.jpg", i)
			im.Filepath = fmt.Sprintf("uploads/img_%03d.jpg", i)
		})
		TestAnnotation(t, db, img.ID, classID)
		images = append(images, img)
	}
	return images
}

// TestVersion 创建测试数据集版本
func TestVersion(t *testing.T, db *gorm.DB, projectID int64, splits model.SplitIDs) *model.DatasetVersion {
	t.Helper()

	version := &model.DatasetVersion{
		ProjectID:   projectID,
		Name:        "Version 1",
		TrainSplit:  0.7,
		ValSplit:    0.2,
		TestSplit:   0.1,
		ImageSplits: datatypes.NewJSONType(splits),
		TotalImages: splits.Total(),
	}
	if err := db.Create(version).Error; err != nil {
		t.Fatalf("Failed to create test version: %v", err)
	}
	return version
}

// TestJob 创建测试训练任务
func TestJob(t *testing.T, db *gorm.DB, projectID int64, opts ...func(*model.TrainingJob)) *model.TrainingJob {
	t.Helper()

	job := &model.TrainingJob{
		ProjectID: projectID,
		Name:      "Model 1",
		ModelSize: "n",
		Status:    model.JobStatusPending,
		Epochs:    3,
		BatchSize: 4,
		ImageSize: 320,
	}

	for _, opt := range opts {
		opt(job)
	}

	if err := db.Create(job).Error; err != nil {
		t.Fatalf("Failed to create test job: %v", err)
	}
	return job
}

// WithJobStatus 设置任务状态
func WithJobStatus(status string) func(*model.TrainingJob) {
	return func(j *model.TrainingJob) {
		j.Status = status
		if status == model.JobStatusTraining {
			now := time.Now()
			j.StartedAt = &now
			j.HeartbeatAt = &now
		}
	}
}

// WithVersion 绑定数据集版本
func WithVersion(versionID int64) func(*model.TrainingJob) {
	return func(j *model.TrainingJob) {
		j.DatasetVersionID = &versionID
	}
}

// WithRemote 使用远程训练
func WithRemote(username, hardware string) func(*model.TrainingJob) {
	return func(j *model.TrainingJob) {
		j.RemoteUsername = username
		j.Hardware = hardware
	}
}
