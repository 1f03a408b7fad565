// Package artifacts uploads the adapter produced by a successful job to
// S3-compatible object storage.
package artifacts

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"git.home.luguber.info/inful/loraci/internal/config"
	derrors "git.home.luguber.info/inful/loraci/internal/errors"
	"git.home.luguber.info/inful/loraci/internal/job"
	"git.home.luguber.info/inful/loraci/internal/logfields"
)

// objectStore is the subset of *minio.Client the uploader needs.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Uploader copies the adapter directory into a bucket under
// <prefix>/<branch>/<job-id>/.
type Uploader struct {
	client      objectStore
	bucket      string
	prefix      string
	region      string
	adapterPath string

	bucketOnce sync.Once
	bucketErr  error
}

// FromConfig returns an uploader for the configured adapter, or nil when
// artifact upload is disabled.
func FromConfig(cfg *config.Config) (*Uploader, error) {
	if !cfg.Artifacts.Enabled {
		return nil, nil
	}
	return NewUploader(cfg.Artifacts, cfg.Inference.AdapterPath)
}

// NewUploader creates a MinIO-backed uploader. adapterPath is relative to
// the checkout unless absolute.
func NewUploader(cfg config.ArtifactsConfig, adapterPath string) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CategoryConfig, derrors.SeverityError, "failed to create object storage client").
			WithContext("endpoint", cfg.Endpoint)
	}
	return newUploader(client, cfg, adapterPath), nil
}

func newUploader(client objectStore, cfg config.ArtifactsConfig, adapterPath string) *Uploader {
	return &Uploader{
		client:      client,
		bucket:      cfg.Bucket,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		region:      cfg.Region,
		adapterPath: adapterPath,
	}
}

// Upload stores every file of the adapter and returns their s3:// URIs.
func (u *Uploader) Upload(ctx context.Context, j *job.Job, checkoutDir string) ([]string, error) {
	if err := u.ensureBucket(ctx); err != nil {
		return nil, err
	}

	root := u.adapterPath
	if !filepath.IsAbs(root) {
		root = filepath.Join(checkoutDir, root)
	}

	var uris []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			rel = filepath.Base(p)
		}
		key := u.ObjectKey(j, filepath.ToSlash(rel))
		if _, err := u.client.FPutObject(ctx, u.bucket, key, p, minio.PutObjectOptions{
			UserMetadata: map[string]string{
				"job-id": j.ID,
				"branch": j.Branch,
				"commit": j.Commit,
			},
		}); err != nil {
			return fmt.Errorf("put %s: %w", key, err)
		}
		uris = append(uris, fmt.Sprintf("s3://%s/%s", u.bucket, key))
		return nil
	})
	if err != nil {
		return uris, derrors.Wrap(err, derrors.CategoryStore, derrors.SeverityWarning, "artifact upload failed").
			WithContext("bucket", u.bucket).
			WithContext("path", root)
	}

	slog.Info("Uploaded adapter artifacts",
		logfields.JobID(j.ID),
		slog.String("bucket", u.bucket),
		slog.Int("objects", len(uris)))
	return uris, nil
}

// ObjectKey places a file of j's adapter in the bucket.
func (u *Uploader) ObjectKey(j *job.Job, rel string) string {
	branch := j.Branch
	if branch == "" {
		branch = "unknown"
	}
	parts := []string{branch, j.ID, rel}
	if u.prefix != "" {
		parts = append([]string{u.prefix}, parts...)
	}
	return path.Join(parts...)
}

func (u *Uploader) ensureBucket(ctx context.Context) error {
	u.bucketOnce.Do(func() {
		exists, err := u.client.BucketExists(ctx, u.bucket)
		if err == nil && !exists {
			err = u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{Region: u.region})
		}
		if err != nil {
			u.bucketErr = derrors.Wrap(err, derrors.CategoryStore, derrors.SeverityWarning, "failed to ensure artifact bucket").
				WithContext("bucket", u.bucket)
		}
	})
	return u.bucketErr
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
