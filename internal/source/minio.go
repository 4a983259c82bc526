package source

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/tcga-expression-pipeline/internal/domain"
)

// TSVContentType is the content type stored with uploaded matrix files.
const TSVContentType = "text/tab-separated-values"

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string `json:"key"`
	Size         int64  `json:"size"`
	ContentType  string `json:"content_type,omitempty"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// MinIO reads and archives cohort files in a single MinIO bucket.
type MinIO struct {
	client *minio.Client
	bucket string
	region string
	log    *logrus.Logger
}

// NewMinIO connects to the endpoint in cfg. Credentials are static keys.
func NewMinIO(cfg domain.StorageConfig, logger *logrus.Logger) (*MinIO, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint required")
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	return &MinIO{client: client, bucket: cfg.Bucket, region: cfg.Region, log: logger}, nil
}

// Fetch streams the object at key into w.
func (m *MinIO) Fetch(ctx context.Context, key string, w io.Writer) (int64, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return 0, m.translate(key, err)
	}
	defer obj.Close()

	n, err := io.Copy(w, obj)
	if err != nil {
		return n, m.translate(key, err)
	}

	m.log.WithFields(logrus.Fields{
		"bucket": m.bucket,
		"key":    key,
		"bytes":  n,
	}).Debug("Object downloaded")
	return n, nil
}

// Size returns the stored size of key.
func (m *MinIO) Size(ctx context.Context, key string) (int64, error) {
	info, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, m.translate(key, err)
	}
	return info.Size, nil
}

// Stat returns the metadata of key.
func (m *MinIO) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, m.translate(key, err)
	}
	return &ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		ETag:         info.ETag,
		LastModified: info.LastModified.UTC().Format("2006-01-02T15:04:05Z"),
	}, nil
}

// Upload stores r under key as a tab-separated file. A negative size
// streams with multipart upload.
func (m *MinIO) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	info, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: TSVContentType,
	})
	if err != nil {
		m.log.WithFields(logrus.Fields{
			"bucket": m.bucket,
			"key":    key,
			"error":  err,
		}).Error("Failed to upload object")
		return fmt.Errorf("uploading %s: %w", key, err)
	}

	m.log.WithFields(logrus.Fields{
		"bucket": m.bucket,
		"key":    key,
		"bytes":  info.Size,
	}).Info("Object uploaded")
	return nil
}

// UploadFile stores the local file at filePath under key.
func (m *MinIO) UploadFile(ctx context.Context, key, filePath string) error {
	if _, err := m.client.FPutObject(ctx, m.bucket, key, filePath, minio.PutObjectOptions{
		ContentType: TSVContentType,
	}); err != nil {
		return fmt.Errorf("uploading %s from %s: %w", key, filePath, err)
	}
	return nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (m *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", m.bucket, err)
	}
	m.log.WithField("bucket", m.bucket).Info("Bucket created")
	return nil
}

// List returns the .tsv and .txt objects below prefix, sorted by key.
func (m *MinIO) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing %s: %w", m.bucket, obj.Err)
		}
		if !IsMatrixFile(obj.Key) {
			continue
		}
		out = append(out, ObjectInfo{Key: obj.Key, Size: obj.Size, ETag: obj.ETag})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes key from the bucket.
func (m *MinIO) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return m.translate(key, err)
	}
	return nil
}

func (m *MinIO) translate(key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return fmt.Errorf("object %s/%s: %w", m.bucket, key, domain.ErrNotFound)
	}
	return fmt.Errorf("object %s/%s: %w", m.bucket, key, err)
}

// IsMatrixFile reports whether key names a tab-separated matrix, optionally gzipped.
func IsMatrixFile(key string) bool {
	ext := strings.ToLower(path.Ext(strings.TrimSuffix(strings.ToLower(key), ".gz")))
	return ext == ".tsv" || ext == ".txt"
}
