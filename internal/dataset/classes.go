package dataset

import (
	"sort"

	"github.com/qs3c/anno_train_server/internal/model"
)

// OrderClasses 按类别 ID 升序排列，标签文件、data.yaml 和分类别评估都用这个顺序
func OrderClasses(classes []*model.Class) []*model.Class {
	ordered := make([]*model.Class, len(classes))
	copy(ordered, classes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

// ClassIndex 类别 ID -> 从 0 开始的序号，ordered 必须来自 OrderClasses
func ClassIndex(ordered []*model.Class) map[int64]int {
	idx := make(map[int64]int, len(ordered))
	for i, c := range ordered {
		idx[c.ID] = i
	}
	return idx
}

// ClassNames 与 ClassIndex 对齐的类别名
func ClassNames(ordered []*model.Class) []string {
	names := make([]string, len(ordered))
	for i, c := range ordered {
		names[i] = c.Name
	}
	return names
}
