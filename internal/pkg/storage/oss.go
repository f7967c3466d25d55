package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/qs3c/anno_train_server/config"
)

// OSS 阿里云 OSS 驱动
type OSS struct {
	bucket *oss.Bucket
}

func NewOSS(cfg *config.OSSConfig) (*OSS, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &OSS{bucket: bucket}, nil
}

func (o *OSS) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	err := o.bucket.PutObject(key, r,
		oss.WithContext(ctx),
		oss.ContentType("application/octet-stream"),
		oss.ContentLength(size),
	)
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return nil
}

func (o *OSS) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	body, err := o.bucket.GetObject(key, oss.WithContext(ctx))
	if err != nil {
		if se, ok := err.(oss.ServiceError); ok && se.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return body, nil
}

func (o *OSS) Delete(ctx context.Context, key string) error {
	if err := o.bucket.DeleteObject(key, oss.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func (o *OSS) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	deleted := 0
	token := ""
	for {
		opts := []oss.Option{oss.WithContext(ctx), oss.Prefix(dirPrefix(prefix)), oss.MaxKeys(1000)}
		if token != "" {
			opts = append(opts, oss.ContinuationToken(token))
		}
		result, err := o.bucket.ListObjectsV2(opts...)
		if err != nil {
			return deleted, fmt.Errorf("failed to list objects: %w", err)
		}

		keys := make([]string, 0, len(result.Objects))
		for _, obj := range result.Objects {
			keys = append(keys, obj.Key)
		}
		if len(keys) > 0 {
			_, err := o.bucket.DeleteObjects(keys, oss.DeleteObjectsQuiet(true), oss.WithContext(ctx))
			if err != nil {
				return deleted, fmt.Errorf("failed to delete objects: %w", err)
			}
			deleted += len(keys)
		}

		if !result.IsTruncated {
			return deleted, nil
		}
		token = result.NextContinuationToken
	}
}
