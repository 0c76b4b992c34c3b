package datalayer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"

	"github.com/glizzus/opuskit/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type PutOptions struct {
	Size        int64
	ContentType string
}

type BlobStorage interface {
	Put(ctx context.Context, bucket, key string, data io.Reader, opts PutOptions) error
}

// MinioStorage serves s3:// locators from MinIO or any S3 compatible store.
type MinioStorage struct {
	client *minio.Client
	bucket string
}

func NewMinioStorage(cfg *config.MinioConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Username, cfg.Password, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	return &MinioStorage{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

func NewMinioStorageFromEnv() (*MinioStorage, error) {
	cfg, err := config.NewMinioConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return NewMinioStorage(cfg)
}

// Bucket is the default bucket outputs are written to.
func (s *MinioStorage) Bucket() string { return s.bucket }

func (s *MinioStorage) EnsureBucket(ctx context.Context) error {
	err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	// If the bucket is already owned, succeed
	if err != nil {
		if minio.ToErrorResponse(err).Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return err
	}
	return nil
}

var _ BlobStorage = (*MinioStorage)(nil)

func (s *MinioStorage) Put(ctx context.Context, bucket, key string, data io.Reader, opts PutOptions) error {
	_, err := s.client.PutObject(ctx, bucket, key, data, opts.Size, minio.PutObjectOptions{
		ContentType: opts.ContentType,
	})
	return err
}

func (s *MinioStorage) Open(ctx context.Context, loc Locator) (Object, error) {
	obj, err := s.client.GetObject(ctx, loc.Bucket, loc.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; Stat surfaces a missing key.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if code := minio.ToErrorResponse(err).Code; code == "NoSuchKey" || code == "NoSuchBucket" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, loc)
		}
		return nil, err
	}
	return obj, nil
}

// Create stages the object in a local temporary file, since finalizing a
// container needs to seek, and uploads it on Commit.
func (s *MinioStorage) Create(_ context.Context, loc Locator) (Output, error) {
	f, err := os.CreateTemp("", "opuskit-*"+path.Ext(loc.Key))
	if err != nil {
		return nil, err
	}
	return &objectOutput{File: f, storage: s, dest: loc}, nil
}

type objectOutput struct {
	*os.File
	storage *MinioStorage
	dest    Locator
	done    bool
}

func (o *objectOutput) upload(ctx context.Context, dest Locator) error {
	size, err := o.File.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if _, err := o.File.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return o.storage.Put(ctx, dest.Bucket, dest.Key, o.File, PutOptions{
		Size:        size,
		ContentType: contentType(dest.Key),
	})
}

func (o *objectOutput) finish() error {
	return errors.Join(o.File.Close(), os.Remove(o.File.Name()))
}

func (o *objectOutput) Commit(ctx context.Context) (err error) {
	if o.done {
		return errors.New("output already finished")
	}
	o.done = true
	defer func() {
		err = errors.Join(err, o.finish())
	}()
	return o.upload(ctx, o.dest)
}

func (o *objectOutput) Abort(ctx context.Context, keepPartial bool) (kept string, err error) {
	if o.done {
		return "", nil
	}
	o.done = true
	defer func() {
		err = errors.Join(err, o.finish())
	}()
	if !keepPartial {
		return "", nil
	}
	partial := o.dest.WithSuffix(PartialSuffix)
	if err := o.upload(ctx, partial); err != nil {
		return "", err
	}
	return partial.String(), nil
}

func contentType(key string) string {
	switch path.Ext(key) {
	case ".opus", ".ogg":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	}
	if t := mime.TypeByExtension(path.Ext(key)); t != "" {
		return t
	}
	return "application/octet-stream"
}

var _ MediaStorage = (*MinioStorage)(nil)
