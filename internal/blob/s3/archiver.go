package s3blob

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

// logContentType is sent for archived logs. The bytes are stored as the
// terminal wrote them, which may be Shift-JIS, so no charset is claimed.
const logContentType = "text/plain"

// ObjectSizer reports the size of an uploaded object, -1 when absent.
type ObjectSizer interface {
	Size(ctx context.Context, path string) (int64, error)
}

// LogArchiver uploads finished alert logs to prefix/YYYY/MM/DD/<file>,
// dated by the log's last modification in local time.
type LogArchiver struct {
	writer domain.BlobWriter
	sizer  ObjectSizer
	prefix string
	logger *slog.Logger
}

// NewLogArchiver creates a LogArchiver. sizer may be nil, in which case logs
// are uploaded unconditionally.
func NewLogArchiver(writer domain.BlobWriter, sizer ObjectSizer, prefix string, logger *slog.Logger) *LogArchiver {
	return &LogArchiver{
		writer: writer,
		sizer:  sizer,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With(slog.String("component", "log_archiver")),
	}
}

// ArchiveLog uploads the file at p. An object of the same size already at
// the destination is left alone.
func (a *LogArchiver) ArchiveLog(ctx context.Context, p string) error {
	fi, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("s3blob: archive stat %s: %w", p, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("s3blob: archive %s: is a directory", p)
	}
	key := ArchiveKey(a.prefix, filepath.Base(p), fi.ModTime())

	if a.sizer != nil {
		size, err := a.sizer.Size(ctx, key)
		if err != nil {
			return err
		}
		if size == fi.Size() {
			a.logger.Info("alert log already archived", slog.String("path", p), slog.String("key", key))
			return nil
		}
	}

	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("s3blob: archive open %s: %w", p, err)
	}
	defer f.Close()

	if fi.Size() > minPartSize {
		err = a.writer.PutMultipart(ctx, key, f, minPartSize)
	} else {
		err = a.writer.Put(ctx, key, f, logContentType)
	}
	if err != nil {
		return err
	}
	a.logger.Info("alert log archived",
		slog.String("path", p),
		slog.String("key", key),
		slog.Int64("bytes", fi.Size()),
	)
	return nil
}

// ArchiveKey builds the object key for a log file.
//
//	alert-logs/2024/06/14/20240614.log
func ArchiveKey(prefix, name string, modTime time.Time) string {
	return path.Join(prefix, modTime.Format("2006/01/02"), name)
}
