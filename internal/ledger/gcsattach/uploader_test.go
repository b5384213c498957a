package gcsattach

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "creditmemo-reconciliation-service/pkg/errors"
	"creditmemo-reconciliation-service/pkg/logger"
)

type memObject struct {
	bytes.Buffer
	closeErr error
	closed   bool
}

func (o *memObject) Close() error {
	o.closed = true
	return o.closeErr
}

type memBucket struct {
	objects      map[string]*memObject
	contentTypes map[string]string
	closeErr     error
}

func newMemBucket() *memBucket {
	return &memBucket{objects: map[string]*memObject{}, contentTypes: map[string]string{}}
}

func (b *memBucket) NewWriter(ctx context.Context, object, contentType string) io.WriteCloser {
	o := &memObject{closeErr: b.closeErr}
	b.objects[object] = o
	b.contentTypes[object] = contentType
	return o
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestUploadWritesObject(t *testing.T) {
	bucket := newMemBucket()
	u := NewWithWriter(bucket, Config{Bucket: "credit-memos", Prefix: "/attachments/"}, logger.Discard())
	local := writeFile(t, "9001.pdf", "%PDF-1.4 credit memo")

	uri, err := u.Upload(context.Background(), "vendor_credit/9001/9001.pdf", local)
	require.NoError(t, err)
	require.Equal(t, "gs://credit-memos/attachments/vendor_credit/9001/9001.pdf", uri)

	obj := bucket.objects["attachments/vendor_credit/9001/9001.pdf"]
	require.NotNil(t, obj)
	require.True(t, obj.closed)
	require.Equal(t, "%PDF-1.4 credit memo", obj.String())
	require.Equal(t, "application/pdf", bucket.contentTypes["attachments/vendor_credit/9001/9001.pdf"])
}

func TestUploadWithoutPrefix(t *testing.T) {
	bucket := newMemBucket()
	u := NewWithWriter(bucket, Config{Bucket: "b"}, logger.Discard())
	local := writeFile(t, "memo.bin", "x")

	uri, err := u.Upload(context.Background(), "journal_entry/9001-CM/memo.bin", local)
	require.NoError(t, err)
	require.Equal(t, "gs://b/journal_entry/9001-CM/memo.bin", uri)
	require.Equal(t, "application/octet-stream", bucket.contentTypes["journal_entry/9001-CM/memo.bin"])
}

func TestUploadMissingFile(t *testing.T) {
	u := NewWithWriter(newMemBucket(), Config{Bucket: "b"}, logger.Discard())

	_, err := u.Upload(context.Background(), "x", filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)
	require.True(t, apperrors.HasCode(err, apperrors.CodeFileNotFound))
}

func TestUploadFinalizeFailure(t *testing.T) {
	bucket := newMemBucket()
	bucket.closeErr = errors.New("precondition failed")
	u := NewWithWriter(bucket, Config{Bucket: "b"}, logger.Discard())
	local := writeFile(t, "9001.pdf", "x")

	_, err := u.Upload(context.Background(), "x.pdf", local)
	require.ErrorContains(t, err, "precondition failed")
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{}, logger.Discard())
	require.True(t, apperrors.HasCode(err, apperrors.CodeMissingConfig))
	require.False(t, Config{}.Enabled())
	require.NoError(t, NewWithWriter(newMemBucket(), Config{Bucket: "b"}, nil).Close())
}
