package objstore

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Bucket bridges the backend to S3-compatible storage. Two clients may be
// configured: the internal one performs all data operations, the public one
// only signs URLs handed to clients outside the cluster network.
type Bucket struct {
	client *minio.Client
	signer *minio.Client
	bucket string
	logger *zap.Logger
}

// Options configures a Bucket.
type Options struct {
	Endpoint       string
	PublicEndpoint string // optional; used for presigned URLs when set
	AccessKey      string
	SecretKey      string
	Bucket         string
	Secure         bool
}

// ObjectMeta is the server-reported metadata for a downloaded object.
type ObjectMeta struct {
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	ContentType  string    `json:"content_type"`
	LastModified time.Time `json:"last_modified"`
}

// New connects to the object store and creates the bucket if absent.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Bucket, error) {
	creds := credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, "")

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	signer := client
	if opts.PublicEndpoint != "" && opts.PublicEndpoint != opts.Endpoint {
		signer, err = minio.New(opts.PublicEndpoint, &minio.Options{
			Creds:  creds,
			Secure: opts.Secure,
		})
		if err != nil {
			return nil, fmt.Errorf("minio public client: %w", err)
		}
	}

	b := &Bucket{client: client, signer: signer, bucket: opts.Bucket, logger: logger}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", opts.Bucket, err)
		}
		logger.Info("created bucket", zap.String("bucket", opts.Bucket))
	}

	return b, nil
}

// PresignedPutURL returns a URL allowing an untrusted client to upload
// bytes under key for up to ttl.
func (b *Bucket) PresignedPutURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := b.signer.PresignedPutObject(ctx, b.bucket, key, ttl)
	if err != nil {
		return "", fmt.Errorf("presign put %q: %w", key, err)
	}
	return u.String(), nil
}

// PresignedGetURL returns a download URL for key valid for ttl.
func (b *Bucket) PresignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := b.signer.PresignedGetObject(ctx, b.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign get %q: %w", key, err)
	}
	return u.String(), nil
}

// ObjectExists reports whether key is present in the bucket.
func (b *Bucket) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
			return false, nil
		}
		return false, fmt.Errorf("stat %q: %w", key, err)
	}
	return true, nil
}

// GetFile downloads key to destPath and returns the path with the
// server-reported metadata. destPath is expected to live inside a scoped
// temp directory owned by the caller.
func (b *Bucket) GetFile(ctx context.Context, key, destPath string) (string, *ObjectMeta, error) {
	stat, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return "", nil, fmt.Errorf("stat %q: %w", key, err)
	}

	if err := b.client.FGetObject(ctx, b.bucket, key, destPath, minio.GetObjectOptions{}); err != nil {
		return "", nil, fmt.Errorf("download %q: %w", key, err)
	}

	meta := &ObjectMeta{
		Size:         stat.Size,
		ETag:         stat.ETag,
		ContentType:  stat.ContentType,
		LastModified: stat.LastModified,
	}

	b.logger.Debug("downloaded object",
		zap.String("key", key),
		zap.String("dest", filepath.Base(destPath)),
		zap.Int64("size", stat.Size))

	return destPath, meta, nil
}

// PutBytes uploads data under key and returns its s3:// URI.
func (b *Bucket) PutBytes(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := b.client.PutObject(ctx, b.bucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload %q: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", b.bucket, key), nil
}

// Copy performs a server-side copy from srcKey to dstKey.
func (b *Bucket) Copy(ctx context.Context, srcKey, dstKey string) error {
	_, err := b.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: b.bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: b.bucket, Object: srcKey})
	if err != nil {
		return fmt.Errorf("copy %q -> %q: %w", srcKey, dstKey, err)
	}
	return nil
}

// Remove deletes key from the bucket.
func (b *Bucket) Remove(ctx context.Context, key string) error {
	if err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}
