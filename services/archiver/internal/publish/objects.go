package publish

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectConfig locates the bucket the archive files are copied to.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// ObjectPublisher copies the recent snapshot and the archive to object storage.
type ObjectPublisher struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewObjectPublisher connects to the endpoint and creates the bucket when it
// does not exist yet.
func NewObjectPublisher(ctx context.Context, cfg ObjectConfig) (*ObjectPublisher, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("publish: bucket is required")
	}
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("publish: minio client: %w", err)
	}
	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("publish: check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("publish: make bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &ObjectPublisher{client: cli, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// ObjectKey builds "<prefix>/<cohort>/<name>" with redundant slashes removed.
func ObjectKey(prefix, cohort, name string) string {
	parts := []string{}
	for _, p := range []string{prefix, cohort, name} {
		if p = strings.Trim(p, "/"); p != "" {
			parts = append(parts, p)
		}
	}
	return path.Join(parts...)
}

// Upload puts both files and records their keys on ev.
func (p *ObjectPublisher) Upload(ctx context.Context, ev *RunEvent) error {
	recentKey := ObjectKey(p.prefix, ev.CohortID, "recent.json")
	if err := p.put(ctx, recentKey, ev.RecentPath, "application/json", ev); err != nil {
		return err
	}
	ev.RecentObject = recentKey

	archiveKey := ObjectKey(p.prefix, ev.CohortID, path.Base(ev.ArchivePath))
	if err := p.put(ctx, archiveKey, ev.ArchivePath, "text/csv", ev); err != nil {
		return err
	}
	ev.ArchiveObject = archiveKey
	return nil
}

func (p *ObjectPublisher) put(ctx context.Context, key, file, contentType string, ev *RunEvent) error {
	_, err := p.client.FPutObject(ctx, p.bucket, key, file, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"run-id": ev.RunID,
			"status": ev.Status,
		},
	})
	if err != nil {
		return fmt.Errorf("publish: put %s: %w", key, err)
	}
	return nil
}
