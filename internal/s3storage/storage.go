package s3storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/studyshare/notegate/internal/config"
)

// Storage wraps MinIO/S3 interactions for notes and avatars.
type Storage struct {
	client        *minio.Client
	notesBucket   string
	avatarsBucket string
	region        string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:        client,
		notesBucket:   cfg.NotesBucket,
		avatarsBucket: cfg.AvatarsBucket,
		region:        cfg.S3Region,
	}, nil
}

// EnsureBuckets makes sure the notes/avatars buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.notesBucket, s.avatarsBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// PutNote uploads a sanitized note file from the local path.
func (s *Storage) PutNote(ctx context.Context, objectKey, path, contentType string) error {
	return s.putFile(ctx, s.notesBucket, objectKey, path, contentType)
}

// PutAvatar uploads a sanitized avatar image from the local path.
func (s *Storage) PutAvatar(ctx context.Context, objectKey, path, contentType string) error {
	return s.putFile(ctx, s.avatarsBucket, objectKey, path, contentType)
}

func (s *Storage) putFile(ctx context.Context, bucket, objectKey, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, bucket, objectKey, f, info.Size(), opts); err != nil {
		return fmt.Errorf("upload object %s: %w", objectKey, err)
	}
	return nil
}

// OpenNote returns a reader over a stored note's bytes. The caller closes it.
func (s *Storage) OpenNote(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.notesBucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", objectKey, err)
	}
	return obj, nil
}

// DownloadNote fetches a stored note fully into memory, for the rescan
// worker which needs a local file anyway.
func (s *Storage) DownloadNote(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := s.OpenNote(ctx, objectKey)
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", objectKey, err)
	}
	return data, nil
}
