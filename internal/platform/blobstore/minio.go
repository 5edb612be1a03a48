package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore keeps each document as one object named by its ID, with the
// metadata in user-defined object headers.
type MinioStore struct {
	client   *minio.Client
	bucket   string
	region   string
	initOnce sync.Once
	initErr  error
}

func NewMinioStore(cfg S3Config) (*MinioStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &MinioStore{client: client, bucket: bucket, region: region}, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

func (s *MinioStore) Put(ctx context.Context, meta BlobMetadata, content []byte) (*BlobMetadata, error) {
	meta, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, meta.ID, bytes.NewReader(content), meta.Size, minio.PutObjectOptions{
		ContentType:  meta.ContentType,
		UserMetadata: toUserMetadata(meta),
	})
	if err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}
	return &meta, nil
}

func (s *MinioStore) Get(ctx context.Context, id string) ([]byte, *BlobMetadata, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, s.mapErr(err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, nil, s.mapErr(err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, nil, fmt.Errorf("read object: %w", err)
	}

	meta := fromUserMetadata(info.UserMetadata)
	meta.ID = id
	meta.ContentType = info.ContentType
	meta.Size = info.Size
	return data, &meta, nil
}

func (s *MinioStore) mapErr(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrBlobNotFound
	}
	return err
}

func toUserMetadata(m BlobMetadata) map[string]string {
	return map[string]string{
		"File-Name":  m.FileName,
		"Hash":       m.Hash,
		"Session-Id": m.SessionID,
		"Created-By": m.CreatedBy,
		"Created-At": strconv.FormatInt(m.CreatedAt.Unix(), 10),
	}
}

// fromUserMetadata reads the headers written by toUserMetadata. The server
// may return keys with or without the X-Amz-Meta- prefix.
func fromUserMetadata(h map[string]string) BlobMetadata {
	get := func(k string) string {
		if v, ok := h[k]; ok {
			return v
		}
		return h["X-Amz-Meta-"+k]
	}
	m := BlobMetadata{
		FileName:  get("File-Name"),
		Hash:      get("Hash"),
		SessionID: get("Session-Id"),
		CreatedBy: get("Created-By"),
	}
	if sec, err := strconv.ParseInt(get("Created-At"), 10, 64); err == nil {
		m.CreatedAt = time.Unix(sec, 0).UTC()
	}
	return m
}
