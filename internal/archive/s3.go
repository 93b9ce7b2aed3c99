package archive

import (
	"context"
	"fmt"
	"os"

	s3blob "github.com/paritytech/stps-go/internal/blob/s3"
)

// SidecarUploader pushes a completed run's JSON sidecar to S3-compatible
// object storage, an optional durable artifact trail for runs that don't
// keep their local filesystem around.
type SidecarUploader struct {
	writer *s3blob.Writer
}

// NewSidecarUploader wraps an already-connected S3 client.
func NewSidecarUploader(client *s3blob.Client) *SidecarUploader {
	return &SidecarUploader{writer: s3blob.NewWriter(client)}
}

// Upload reads the sidecar file at localPath and uploads it under key.
func (u *SidecarUploader) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("archive: open sidecar %s: %w", localPath, err)
	}
	defer f.Close()

	if err := u.writer.Put(ctx, key, f, "application/json"); err != nil {
		return fmt.Errorf("archive: upload sidecar %s as %s: %w", localPath, key, err)
	}
	return nil
}
