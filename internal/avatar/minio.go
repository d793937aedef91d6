// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package avatar

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/samber/oops"

	"github.com/socialhub/identity/pkg/errutil"
)

// MinIOConfig configures MinIOStore.
type MinIOConfig struct {
	// Endpoint is host:port, or a URL whose scheme decides UseSSL.
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	// Prefix is prepended to every object key.
	Prefix string
}

// MinIOStore keeps avatars in an S3-compatible bucket.
type MinIOStore struct {
	client *minio.Client
	cfg    MinIOConfig
}

// NewMinIOStore creates a client for cfg. It does not contact the server;
// call EnsureBucket at startup.
func NewMinIOStore(cfg MinIOConfig) (*MinIOStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, oops.Code("AVATAR_CONFIG_INVALID").Errorf("minio endpoint and bucket are required")
	}
	endpoint := cfg.Endpoint
	if strings.HasPrefix(endpoint, "http") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, oops.Code("AVATAR_CONFIG_INVALID").With("endpoint", endpoint).Wrap(err)
		}
		endpoint = u.Host
		cfg.UseSSL = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, oops.Code("AVATAR_CONFIG_INVALID").Wrapf(err, "init minio client")
	}
	return &MinIOStore{client: client, cfg: cfg}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return errutil.Dependency(err, "check avatar bucket")
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return errutil.Dependency(err, "create avatar bucket")
	}
	return nil
}

// Put uploads obj under key.
func (s *MinIOStore) Put(ctx context.Context, key string, obj Object) error {
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, s.objectKey(key),
		bytes.NewReader(obj.Data), int64(len(obj.Data)),
		minio.PutObjectOptions{ContentType: obj.ContentType})
	if err != nil {
		return errutil.Dependency(err, "put avatar")
	}
	return nil
}

// Get downloads the avatar under key.
func (s *MinIOStore) Get(ctx context.Context, key string) (Object, error) {
	reader, err := s.client.GetObject(ctx, s.cfg.Bucket, s.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return Object{}, s.mapError(err, key)
	}
	defer reader.Close() //nolint:errcheck // read-only object

	info, err := reader.Stat()
	if err != nil {
		return Object{}, s.mapError(err, key)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return Object{}, s.mapError(err, key)
	}
	return Object{Data: data, ContentType: info.ContentType}, nil
}

// Delete removes the avatar under key.
func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, s.objectKey(key), minio.RemoveObjectOptions{}); err != nil {
		return errutil.Dependency(err, "delete avatar")
	}
	return nil
}

func (s *MinIOStore) objectKey(key string) string {
	return s.cfg.Prefix + key
}

func (s *MinIOStore) mapError(err error, key string) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return oops.Code(CodeNotFound).With("key", key).Wrap(ErrNotFound)
	}
	return errutil.Dependency(err, "get avatar")
}
