package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/qs3c/anno_train_server/config"
)

// ErrNotFound 对象不存在
var ErrNotFound = errors.New("object not found")

// Store 对象存储，key 使用斜杠分隔
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// DeletePrefix 删除 prefix/ 下的全部对象，返回删除数
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// New 按配置创建存储驱动
func New(cfg *config.Config) (Store, error) {
	switch cfg.Storage.Driver {
	case "", "local":
		return NewLocal(cfg.Storage.LocalRoot)
	case "oss":
		return NewOSS(&cfg.OSS)
	case "minio":
		return NewMinIO(context.Background(), &cfg.MinIO)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// CorpusPrefix 远程任务语料的前缀
func CorpusPrefix(projectID, jobID int64) string {
	return fmt.Sprintf("corpora/%d/job_%d", projectID, jobID)
}

// OutputPrefix 远程训练产物的前缀
func OutputPrefix(projectID, jobID int64) string {
	return fmt.Sprintf("outputs/%d/job_%d", projectID, jobID)
}

// dirPrefix 统一以斜杠结尾，避免 job_1 误匹配 job_10
func dirPrefix(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/"
}

// UploadDir 把 dir 下的文件上传到 prefix/ 下，返回上传的文件数
func UploadDir(ctx context.Context, s Store, dir, prefix string) (int, error) {
	uploaded := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if err := PutFile(ctx, s, path.Join(prefix, filepath.ToSlash(rel)), p); err != nil {
			return err
		}
		uploaded++
		return nil
	})
	return uploaded, err
}

// PutFile 上传本地文件
func PutFile(ctx context.Context, s Store, key, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if err := s.Put(ctx, key, f, info.Size()); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Download 下载对象到本地文件
func Download(ctx context.Context, s Store, key, dst string) error {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("download %s: %w", key, err)
	}
	return out.Close()
}
