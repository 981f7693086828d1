package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// minPartSize is the S3 minimum for every part but the last.
const minPartSize int64 = 5 << 20

// uploadConcurrency keeps archiving from competing with order traffic on
// the terminal host's uplink.
const uploadConcurrency = 2

// Writer implements domain.BlobWriter. Every object is tagged with the
// archiving host so logs from several terminals can share a bucket.
type Writer struct {
	client *s3.Client
	bucket string
	host   string
}

// NewWriter creates a Writer for the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{client: c.S3(), bucket: c.Bucket(), host: c.host}
}

func (w *Writer) object(path string, data io.Reader, contentType string) *s3.PutObjectInput {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	}
	if w.host != "" {
		in.Metadata = map[string]string{"archived-by": w.host}
	}
	return in
}

// Put uploads data in a single request.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if _, err := w.client.PutObject(ctx, w.object(path, data, contentType)); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// PutMultipart uploads data in parts of at least 5 MiB. A failed upload is
// aborted so no orphaned parts are billed.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
		u.Concurrency = uploadConcurrency
		u.LeavePartsOnError = false
	})
	if _, err := uploader.Upload(ctx, w.object(path, data, logContentType)); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
	}
	return nil
}
