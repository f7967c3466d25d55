package model

import (
	"time"

	"gorm.io/datatypes"
)

// 划分名称
const (
	SplitTrain = "train"
	SplitVal   = "val"
	SplitTest  = "test"
)

// SplitNames 固定的划分顺序
var SplitNames = []string{SplitTrain, SplitVal, SplitTest}

// SplitIDs 划分名 -> 有序图片 ID 列表
type SplitIDs struct {
	Train []int64 `json:"train"`
	Val   []int64 `json:"val"`
	Test  []int64 `json:"test"`
}

// Get 按划分名取 ID 列表
func (s SplitIDs) Get(name string) []int64 {
	switch name {
	case SplitTrain:
		return s.Train
	case SplitVal:
		return s.Val
	case SplitTest:
		return s.Test
	}
	return nil
}

// Total 三个划分的图片总数
func (s SplitIDs) Total() int {
	return len(s.Train) + len(s.Val) + len(s.Test)
}

// DatasetVersion 创建后不可变的数据集划分快照
type DatasetVersion struct {
	ID               int64                        `gorm:"primaryKey" json:"id"`
	ProjectID        int64                        `gorm:"not null;index" json:"project_id"`
	Name             string                       `gorm:"size:200;not null" json:"name"`
	Description      string                       `gorm:"type:text" json:"description,omitempty"`
	TrainSplit       float64                      `gorm:"default:0.7" json:"train_split"`
	ValSplit         float64                      `gorm:"default:0.2" json:"val_split"`
	TestSplit        float64                      `gorm:"default:0.1" json:"test_split"`
	Seed             *int64                       `json:"seed,omitempty"`
	ImageSplits      datatypes.JSONType[SplitIDs] `gorm:"not null" json:"image_splits"`
	TotalImages      int                          `json:"total_images"`
	TotalAnnotations int                          `json:"total_annotations"`
	CreatedAt        time.Time                    `json:"created_at"`
}

func (DatasetVersion) TableName() string {
	return "dataset_versions"
}
