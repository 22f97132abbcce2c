package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// minPartSize is the S3 floor for multipart part size.
const minPartSize int64 = 5 * 1024 * 1024

var _ domain.BlobWriter = (*Writer)(nil)

// Writer uploads export objects.
type Writer struct {
	client   *s3.Client
	bucket   string
	partSize int64
}

// NewWriter returns a Writer for the client's bucket. Uploads go through
// the multipart manager, which falls back to a single PutObject for bodies
// smaller than partSize.
func NewWriter(c *Client, partSize int64) *Writer {
	if partSize < minPartSize {
		partSize = minPartSize
	}
	return &Writer{
		client:   c.S3(),
		bucket:   c.Bucket(),
		partSize: partSize,
	}
}

// Put streams data to path. The body does not need to be seekable.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = w.partSize
	})

	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", path, err)
	}
	return nil
}
