package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore 基于对象存储的共享缓存层。过期时间由 Layer 写入的 envelope 控制，
// 过期对象依赖桶的生命周期规则清理。
type MinioStore struct {
	client *minio.Client
	bucket string
}

// Ensure MinioStore implements Store
var _ Store = (*MinioStore)(nil)

// MinioOptions MinIO 连接参数
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// NewMinioStore 创建客户端，桶不存在时自动创建
func NewMinioStore(ctx context.Context, opts MinioOptions) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: opts.Bucket}, nil
}

// objectName 将 "llmsearch:stage:hash" 映射为 "llmsearch/stage/hash.json"
func objectName(key string) string {
	return strings.ReplaceAll(key, ":", "/") + ".json"
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectName(key), minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (s *MinioStore) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName(key), bytes.NewReader(value), int64(len(value)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return err
}

func (s *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, objectName(key), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Ping 检查桶是否可访问
func (s *MinioStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
