package worker

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/qs3c/anno_train_server/internal/model"
	"github.com/qs3c/anno_train_server/internal/trainer"
)

// ResultsFile 训练脚本在 run 目录下写出的逐 epoch 指标
const ResultsFile = "results.csv"

// ParseResultsFile 读取 results.csv，文件不存在时返回 os.ErrNotExist
func ParseResultsFile(path string) (model.MetricsSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.MetricsSeries{}, err
	}
	defer f.Close()
	return ParseResults(f)
}

// ParseResults 解析 results.csv，缺失的列记为 0
func ParseResults(r io.Reader) (model.MetricsSeries, error) {
	var series model.MetricsSeries

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return series, nil
	}
	if err != nil {
		return series, fmt.Errorf("read results header: %w", err)
	}

	col := make(map[string]int, len(header))
	lrCol := -1
	for i, h := range header {
		name := strings.TrimSpace(h)
		col[name] = i
		if lrCol < 0 && strings.HasPrefix(name, "lr") {
			lrCol = i
		}
	}

	for idx := 0; ; idx++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return series, fmt.Errorf("read results row %d: %w", idx+1, err)
		}

		value := func(name string) float64 {
			i, ok := col[name]
			if !ok {
				return 0
			}
			return cell(row, i)
		}

		epoch := idx + 1
		if i, ok := col["epoch"]; ok && i < len(row) {
			if v, err := strconv.Atoi(strings.TrimSpace(row[i])); err == nil {
				epoch = v
			}
		}

		rec := model.EpochRecord{
			Epoch:     epoch,
			TrainLoss: value("train/box_loss"),
			ValLoss:   value(trainer.KeyValBox),
			MAP50:     value(trainer.KeyMAP50),
			MAP50_95:  value(trainer.KeyMAP50_95),
			Precision: value(trainer.KeyPrecision),
			Recall:    value(trainer.KeyRecall),
		}
		if lrCol >= 0 {
			rec.LR = cell(row, lrCol)
		}
		series.Append(rec)
	}
	return series, nil
}

func cell(row []string, i int) float64 {
	if i >= len(row) {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
	if err != nil {
		return 0
	}
	return v
}
