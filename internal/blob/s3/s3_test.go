package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	objects   map[string][]byte
	multipart []string
	err       error
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if f.err != nil {
		return f.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[path] = b
	return nil
}

func (f *fakeWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	f.multipart = append(f.multipart, path)
	return f.Put(ctx, path, data, "")
}

type fakeSizer map[string]int64

func (f fakeSizer) Size(_ context.Context, path string) (int64, error) {
	if n, ok := f[path]; ok {
		return n, nil
	}
	return -1, nil
}

func writeLog(t *testing.T, name, body string, mod time.Time) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	require.NoError(t, os.Chtimes(p, mod, mod))
	return p
}

func TestArchiveKey(t *testing.T) {
	mod := time.Date(2024, 6, 14, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "alert-logs/2024/06/14/20240614.log", ArchiveKey("alert-logs", "20240614.log", mod))
	assert.Equal(t, "2024/06/14/a.log", ArchiveKey("", "a.log", mod))
}

func TestArchiveLogUploads(t *testing.T) {
	mod := time.Date(2024, 6, 14, 23, 59, 0, 0, time.Local)
	p := writeLog(t, "20240614.log", "BUY XAUUSD SL:1 TP:2\n", mod)
	w := &fakeWriter{objects: map[string][]byte{}}
	a := NewLogArchiver(w, fakeSizer{}, "/alert-logs/", slog.New(slog.DiscardHandler))

	require.NoError(t, a.ArchiveLog(context.Background(), p))
	assert.Equal(t, []byte("BUY XAUUSD SL:1 TP:2\n"), w.objects["alert-logs/2024/06/14/20240614.log"])
	assert.Empty(t, w.multipart)
}

func TestArchiveLogSkipsSameSizeObject(t *testing.T) {
	mod := time.Date(2024, 6, 14, 12, 0, 0, 0, time.Local)
	p := writeLog(t, "20240614.log", "line\n", mod)
	w := &fakeWriter{objects: map[string][]byte{}}
	a := NewLogArchiver(w, fakeSizer{"alert-logs/2024/06/14/20240614.log": 5}, "alert-logs", slog.New(slog.DiscardHandler))

	require.NoError(t, a.ArchiveLog(context.Background(), p))
	assert.Empty(t, w.objects)
}

func TestArchiveLogErrors(t *testing.T) {
	a := NewLogArchiver(&fakeWriter{objects: map[string][]byte{}}, nil, "x", slog.New(slog.DiscardHandler))
	require.Error(t, a.ArchiveLog(context.Background(), filepath.Join(t.TempDir(), "missing.log")))
	require.Error(t, a.ArchiveLog(context.Background(), t.TempDir()))

	boom := errors.New("upload failed")
	p := writeLog(t, "a.log", "x\n", time.Now())
	a = NewLogArchiver(&fakeWriter{objects: map[string][]byte{}, err: boom}, nil, "x", slog.New(slog.DiscardHandler))
	require.ErrorIs(t, a.ArchiveLog(context.Background(), p), boom)
}

func TestArchiveLogLargeFileUsesMultipart(t *testing.T) {
	p := filepath.Join(t.TempDir(), "big.log")
	require.NoError(t, os.WriteFile(p, bytes.Repeat([]byte("a"), int(minPartSize)+1), 0o644))
	w := &fakeWriter{objects: map[string][]byte{}}
	a := NewLogArchiver(w, nil, "logs", slog.New(slog.DiscardHandler))

	require.NoError(t, a.ArchiveLog(context.Background(), p))
	require.Len(t, w.multipart, 1)
}

func TestReaderSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		switch r.URL.Path {
		case "/archive/present.log":
			w.Header().Set("Content-Length", "12")
			w.WriteHeader(http.StatusOK)
		case "/archive/forbidden.log":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := New(context.Background(), ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "archive",
		AccessKey:      "test",
		SecretKey:      "test",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	r := NewReader(c)

	n, err := r.Size(context.Background(), "present.log")
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	n, err = r.Size(context.Background(), "absent.log")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), n)

	_, err = r.Size(context.Background(), "forbidden.log")
	require.Error(t, err)
}

func TestNewRequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	require.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	require.Error(t, err)
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
}

func TestServiceOptions(t *testing.T) {
	var o s3.Options
	serviceOptions(ClientConfig{Endpoint: "minio:9000", ForcePathStyle: true})(&o)
	assert.Equal(t, "http://minio:9000", aws.ToString(o.BaseEndpoint))
	assert.True(t, o.UsePathStyle)

	o = s3.Options{}
	serviceOptions(ClientConfig{})(&o)
	assert.Nil(t, o.BaseEndpoint)
	assert.False(t, o.UsePathStyle)
}
