package atomicstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/weatherarchive/edr-ingest/internal/errs"
)

// s3Store implements Store against an S3-compatible bucket. A single
// PutObject (wrapped by the manager.Uploader to transparently handle
// multipart uploads for large refined partitions) is already atomic at
// the object level, so no temp-key-then-copy dance is needed the way it
// is on a local filesystem — this mirrors the teacher's
// storage.HetznerUploaderFile, which uploads directly to the final key.
type s3Store struct {
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
	root     string
}

func newS3Store(ctx context.Context, root string) (Store, error) {
	bucket, prefix, err := parseS3URI(root)
	if err != nil {
		return nil, err
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, &errs.IOError{Path: root, Op: "load-aws-config", Err: err}
	}
	client := s3.NewFromConfig(cfg)
	return &s3Store{
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
		root:     root,
	}, nil
}

func parseS3URI(uri string) (bucket, prefix string, err error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", &errs.ConfigurationError{Msg: fmt.Sprintf("invalid s3 uri %q: missing bucket", uri)}
	}
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = strings.TrimSuffix(parts[1], "/")
	}
	return bucket, prefix, nil
}

func (s *s3Store) Root() string { return s.root }

func (s *s3Store) key(path string) string {
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

func (s *s3Store) Put(ctx context.Context, path string, src []byte) error {
	key := s.key(path)
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(src),
	})
	if err != nil {
		return &errs.IOError{Path: key, Op: "s3-put", Err: err}
	}
	return nil
}

func (s *s3Store) Get(ctx context.Context, path string) ([]byte, error) {
	key := s.key(path)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, &errs.IOError{Path: key, Op: "s3-get", Err: fmt.Errorf("not found: %w: %w", os.ErrNotExist, err)}
		}
		return nil, &errs.IOError{Path: key, Op: "s3-get", Err: err}
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &errs.IOError{Path: key, Op: "s3-get-read", Err: err}
	}
	return b, nil
}

func (s *s3Store) Exists(ctx context.Context, path string) (bool, error) {
	key := s.key(path)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, &errs.IOError{Path: key, Op: "s3-head", Err: err}
}
