package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Store keeps artifacts as objects <prefix>/<name>.gob in one bucket.
// A PUT replaces an object atomically, so no staging is needed.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Store creates a minio client for the given bucket.
func NewS3Store(bucket, prefix string, opts S3Options) (*S3Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Key returns the object key an artifact name maps to.
func (s *S3Store) Key(name string) string {
	return path.Join(s.prefix, name+".gob")
}

// Save uploads the encoded artifact.
func (s *S3Store) Save(ctx context.Context, name string, a *Artifact) error {
	data, err := Encode(a)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, s.bucket, s.Key(name), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType: "application/octet-stream",
			UserMetadata: map[string]string{
				"kind":   a.Kind,
				"run-id": a.RunID,
			},
		})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", s.Key(name), err)
	}
	return nil
}

// Load downloads and decodes an artifact.
func (s *S3Store) Load(ctx context.Context, name string) (*Artifact, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.Key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrap(name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.wrap(name, err)
	}

	a, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.Key(name), err)
	}
	return a, nil
}

func (s *S3Store) wrap(name string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: s3://%s/%s", ErrNotFound, s.bucket, s.Key(name))
	}
	return fmt.Errorf("s3 get %s: %w", s.Key(name), err)
}
