package corpus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/qs3c/anno_train_server/internal/dataset"
	"github.com/qs3c/anno_train_server/internal/model"
	"github.com/qs3c/anno_train_server/internal/pkg/logger"
)

// ManifestName 训练器读取的清单文件名
const ManifestName = "data.yaml"

// Request 物化一次训练语料所需的输入
type Request struct {
	ProjectID int64
	JobID     int64
	// Splits 划分名 -> 已加载标注的图片，顺序即写入顺序
	Splits  map[string][]*model.Image
	Classes []*model.Class
	// Portable 为 true 时清单中的 path 为 "."，用于上传到远程
	Portable bool
}

// Corpus 物化结果
type Corpus struct {
	Root         string
	ManifestPath string
	Counts       map[string]int
	Skipped      int
	ClassNames   []string
}

// Manifest data.yaml 的内容
type Manifest struct {
	Path  string   `yaml:"path"`
	Train string   `yaml:"train"`
	Val   string   `yaml:"val"`
	Test  string   `yaml:"test"`
	NC    int      `yaml:"nc"`
	Names []string `yaml:"names"`
}

type Materializer struct {
	datasetsDir string
}

func NewMaterializer(datasetsDir string) *Materializer {
	return &Materializer{datasetsDir: datasetsDir}
}

// JobDir 任务语料目录 <datasets>/<project>/job_<id>
func (m *Materializer) JobDir(projectID, jobID int64) string {
	return filepath.Join(m.datasetsDir, fmt.Sprintf("%d", projectID), fmt.Sprintf("job_%d", jobID))
}

// Build 复制图片、写标签与 data.yaml
func (m *Materializer) Build(ctx context.Context, req Request) (*Corpus, error) {
	root, err := filepath.Abs(m.JobDir(req.ProjectID, req.JobID))
	if err != nil {
		return nil, fmt.Errorf("resolve corpus root: %w", err)
	}

	ordered := dataset.OrderClasses(req.Classes)
	classIdx := dataset.ClassIndex(ordered)
	log := logger.WithJob(req.JobID)

	c := &Corpus{
		Root:       root,
		Counts:     make(map[string]int, len(model.SplitNames)),
		ClassNames: dataset.ClassNames(ordered),
	}

	for _, split := range model.SplitNames {
		imgDir := filepath.Join(root, "images", split)
		lblDir := filepath.Join(root, "labels", split)
		for _, dir := range []string{imgDir, lblDir} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create %s: %w", dir, err)
			}
		}

		for _, img := range req.Splits[split] {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			dst := filepath.Join(imgDir, fmt.Sprintf("%d.jpg", img.ID))
			if err := copyFile(img.Filepath, dst); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					log.Warn("source image missing, skipped",
						zap.Int64("image_id", img.ID),
						zap.String("path", img.Filepath),
					)
					c.Skipped++
					continue
				}
				return nil, fmt.Errorf("copy image %d: %w", img.ID, err)
			}

			label := filepath.Join(lblDir, fmt.Sprintf("%d.txt", img.ID))
			if err := os.WriteFile(label, []byte(labelLines(img.Annotations, classIdx)), 0o644); err != nil {
				return nil, fmt.Errorf("write label %d: %w", img.ID, err)
			}
			c.Counts[split]++
		}
	}

	manifest := Manifest{
		Path:  root,
		Train: "images/train",
		Val:   "images/val",
		Test:  "images/test",
		NC:    len(ordered),
		Names: c.ClassNames,
	}
	if req.Portable {
		manifest.Path = "."
	}

	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	c.ManifestPath = filepath.Join(root, ManifestName)
	if err := os.WriteFile(c.ManifestPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	log.Info("corpus materialized",
		zap.String("root", root),
		zap.Int("train", c.Counts[model.SplitTrain]),
		zap.Int("val", c.Counts[model.SplitVal]),
		zap.Int("test", c.Counts[model.SplitTest]),
		zap.Int("skipped", c.Skipped),
	)
	return c, nil
}

// Exists 任务语料目录是否存在
func (m *Materializer) Exists(projectID, jobID int64) bool {
	_, err := os.Stat(m.JobDir(projectID, jobID))
	return err == nil
}

// Remove 删除任务语料目录，不存在时不报错
func (m *Materializer) Remove(projectID, jobID int64) error {
	return os.RemoveAll(m.JobDir(projectID, jobID))
}

// Total 写入的图片数
func (c *Corpus) Total() int {
	n := 0
	for _, v := range c.Counts {
		n += v
	}
	return n
}

// ReadManifest 读取 data.yaml
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func labelLines(anns []model.Annotation, classIdx map[int64]int) string {
	var b strings.Builder
	for _, a := range anns {
		idx, ok := classIdx[a.ClassID]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%d %v %v %v %v\n", idx, a.XCenter, a.YCenter, a.Width, a.Height)
	}
	return b.String()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
