// Package minio reads structure input files from S3-compatible object
// storage, so ingest and enqueue can take s3://bucket/key arguments.
package minio

import (
	"context"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/turtacn/chemsearch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/chemsearch/pkg/errors"
)

// URIScheme prefixes object-storage inputs.
const URIScheme = "s3://"

// ObjectAPI is the subset of *minio.Client the bridge uses.
type ObjectAPI interface {
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
}

// Config holds the endpoint and credentials.  Endpoint is host[:port].
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Region          string
}

// Client opens objects for streaming reads.
type Client struct {
	api    ObjectAPI
	logger logging.Logger
}

// NewClient builds a client.  No request is made until the first Open.
func NewClient(cfg Config, log logging.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New(errors.ErrCodeValidation, "object store endpoint is not configured")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	api, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "failed to create minio client")
	}
	return NewClientWithAPI(api, log), nil
}

// NewClientWithAPI wraps an existing API implementation.
func NewClientWithAPI(api ObjectAPI, log logging.Logger) *Client {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Client{api: api, logger: log.Named("objectstore")}
}

// ParseURI splits "s3://bucket/key".  ok is false for anything else,
// including URIs missing the bucket or the key.
func ParseURI(uri string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(uri, URIScheme)
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// Open returns a reader over the object.  A missing bucket or object is a
// validation error; anything else the store reports is a transport error.
func (c *Client) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	info, err := c.api.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, mapError(err, bucket, key)
	}
	obj, err := c.api.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err, bucket, key)
	}
	c.logger.Debug("object opened",
		logging.String("bucket", bucket),
		logging.String("key", key),
		logging.Int64("size", info.Size))
	return obj, nil
}

func mapError(err error, bucket, key string) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return errors.Wrapf(err, errors.ErrCodeValidation, "object %s%s/%s not found", URIScheme, bucket, key)
	case "AccessDenied":
		return errors.Wrapf(err, errors.ErrCodeValidation, "access denied to %s%s/%s", URIScheme, bucket, key)
	}
	return errors.Wrapf(err, errors.ErrCodeTransport, "failed to read %s%s/%s", URIScheme, bucket, key)
}
