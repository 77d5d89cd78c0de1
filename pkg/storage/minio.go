package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStorage MinIO存储实现
type MinioStorage struct {
	client     *minio.Client
	bucketName string
	prefix     string
}

// MinioConfig MinIO存储配置
type MinioConfig struct {
	Endpoint  string // MinIO服务端点
	AccessKey string // 访问密钥ID
	SecretKey string // 秘密访问密钥
	UseSSL    bool   // 是否使用SSL
	Bucket    string // 存储桶名称
	Prefix    string // 对象名前缀
}

// NewMinioStorage 创建MinIO存储实例，存储桶不存在时自动创建
func NewMinioStorage(cfg MinioConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %v", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %v", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %v", err)
		}
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &MinioStorage{client: client, bucketName: cfg.Bucket, prefix: prefix}, nil
}

func (s *MinioStorage) objectName(name string) (string, string, error) {
	key, err := CleanName(name)
	if err != nil {
		return "", "", err
	}
	return key, s.prefix + key, nil
}

// Save 上传对象，大小未知时使用分片上传
func (s *MinioStorage) Save(ctx context.Context, name string, reader io.Reader) (FileInfo, error) {
	key, object, err := s.objectName(name)
	if err != nil {
		return FileInfo{}, err
	}

	contentType := getMimeType(key)
	info, err := s.client.PutObject(ctx, s.bucketName, object, reader, -1,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to upload file: %v", err)
	}

	return FileInfo{
		Name:     key,
		Size:     info.Size,
		MimeType: contentType,
		Path:     object,
		ModTime:  info.LastModified,
	}, nil
}

// Get 获取对象
func (s *MinioStorage) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	_, object, err := s.objectName(name)
	if err != nil {
		return nil, err
	}
	if ok, err := s.exists(ctx, object); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrNotFound
	}

	obj, err := s.client.GetObject(ctx, s.bucketName, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %v", err)
	}
	return obj, nil
}

// Delete 删除对象
func (s *MinioStorage) Delete(ctx context.Context, name string) error {
	_, object, err := s.objectName(name)
	if err != nil {
		return err
	}
	if ok, err := s.exists(ctx, object); err != nil {
		return err
	} else if !ok {
		return ErrNotFound
	}
	if err := s.client.RemoveObject(ctx, s.bucketName, object, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %v", err)
	}
	return nil
}

// List 列出对象
func (s *MinioStorage) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	var files []FileInfo
	objectCh := s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    s.prefix + prefix,
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("error listing objects: %v", object.Err)
		}
		key := strings.TrimPrefix(object.Key, s.prefix)
		files = append(files, FileInfo{
			Name:     key,
			Size:     object.Size,
			MimeType: getMimeType(key),
			Path:     object.Key,
			ModTime:  object.LastModified,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Exists 检查对象是否存在
func (s *MinioStorage) Exists(ctx context.Context, name string) (bool, error) {
	_, object, err := s.objectName(name)
	if err != nil {
		return false, err
	}
	return s.exists(ctx, object)
}

func (s *MinioStorage) exists(ctx context.Context, object string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucketName, object, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat object: %v", err)
}
