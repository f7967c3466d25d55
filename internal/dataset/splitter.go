package dataset

import (
	"math"
	"math/rand"
	"time"

	"github.com/qs3c/anno_train_server/internal/model"
	"github.com/qs3c/anno_train_server/internal/pkg/apperror"
)

// ratioTolerance 三个比例之和与 1 的允许误差
const ratioTolerance = 0.01

var (
	ErrRatioSum      = apperror.Validation("Splits must sum to 1.0")
	ErrRatioNegative = apperror.Validation("Split ratios must not be negative")
	ErrNoImages      = apperror.InsufficientData("No annotated images available")
)

// Ratios train/val/test 比例
type Ratios struct {
	Train float64
	Val   float64
	Test  float64
}

// DefaultRatios 未指定比例时使用
var DefaultRatios = Ratios{Train: 0.7, Val: 0.2, Test: 0.1}

func (r Ratios) Validate() error {
	if r.Train < 0 || r.Val < 0 || r.Test < 0 {
		return ErrRatioNegative
	}
	if math.Abs(r.Train+r.Val+r.Test-1.0) > ratioTolerance {
		return ErrRatioSum
	}
	return nil
}

// Split 打乱后按比例切分，seed 非空时结果可复现
func Split(ids []int64, ratios Ratios, seed *int64) (model.SplitIDs, error) {
	if err := ratios.Validate(); err != nil {
		return model.SplitIDs{}, err
	}
	if len(ids) == 0 {
		return model.SplitIDs{}, ErrNoImages
	}

	shuffled := make([]int64, len(ids))
	copy(shuffled, ids)

	var src rand.Source
	if seed != nil {
		src = rand.NewSource(*seed)
	} else {
		src = rand.NewSource(time.Now().UnixNano())
	}
	rng := rand.New(src)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	n := len(shuffled)
	trainCount := int(math.Floor(float64(n) * ratios.Train))
	valCount := int(math.Floor(float64(n) * ratios.Val))
	if trainCount > n {
		trainCount = n
	}
	if trainCount+valCount > n {
		valCount = n - trainCount
	}

	return model.SplitIDs{
		Train: shuffled[:trainCount],
		Val:   shuffled[trainCount : trainCount+valCount],
		Test:  shuffled[trainCount+valCount:],
	}, nil
}

// Replay 读取已保存的划分，丢弃已不存在的图片
func Replay(stored model.SplitIDs, exists func(id int64) bool) model.SplitIDs {
	keep := func(ids []int64) []int64 {
		out := make([]int64, 0, len(ids))
		for _, id := range ids {
			if exists(id) {
				out = append(out, id)
			}
		}
		return out
	}
	return model.SplitIDs{
		Train: keep(stored.Train),
		Val:   keep(stored.Val),
		Test:  keep(stored.Test),
	}
}

// DefaultSplit 没有数据集版本时按原顺序 70/20/10 切分
func DefaultSplit(ids []int64) model.SplitIDs {
	n := len(ids)
	trainEnd := int(float64(n) * 0.7)
	valEnd := int(float64(n) * 0.9)
	if valEnd < trainEnd {
		valEnd = trainEnd
	}

	return model.SplitIDs{
		Train: append([]int64(nil), ids[:trainEnd]...),
		Val:   append([]int64(nil), ids[trainEnd:valEnd]...),
		Test:  append([]int64(nil), ids[valEnd:]...),
	}
}
