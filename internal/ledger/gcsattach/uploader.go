// Package gcsattach uploads transaction attachments to Google Cloud Storage.
package gcsattach

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"creditmemo-reconciliation-service/pkg/errors"
	"creditmemo-reconciliation-service/pkg/logger"
)

// Config names the bucket attachments are written to
type Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// Enabled reports whether a bucket is configured
func (c Config) Enabled() bool {
	return c.Bucket != ""
}

// ObjectWriter opens a writer for one object of the bucket
type ObjectWriter interface {
	NewWriter(ctx context.Context, object, contentType string) io.WriteCloser
}

// Uploader copies local files into the bucket
type Uploader struct {
	bucket string
	prefix string
	writer ObjectWriter
	closer io.Closer
	logger logger.Logger
}

// New connects to Cloud Storage and checks the bucket is reachable
func New(ctx context.Context, config Config, log logger.Logger) (*Uploader, error) {
	if config.Bucket == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "attachments.bucket", nil, nil)
	}

	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeConnectionFailed, "attachments.bucket", config.Bucket, err).
			WithSuggestion("Check the Google Cloud credentials")
	}

	bucket := client.Bucket(config.Bucket)
	if _, err := bucket.Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, errors.ConfigurationError(errors.CodeConnectionFailed, "attachments.bucket", config.Bucket,
			fmt.Errorf("gcs bucket %q not found or not accessible: %w", config.Bucket, err))
	}

	u := NewWithWriter(bucketWriter{bucket}, config, log)
	u.closer = client
	return u, nil
}

// NewWithWriter builds an uploader over any object writer
func NewWithWriter(w ObjectWriter, config Config, log logger.Logger) *Uploader {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Uploader{
		bucket: config.Bucket,
		prefix: strings.Trim(config.Prefix, "/"),
		writer: w,
		logger: log.WithComponent("gcsattach").WithField("bucket", config.Bucket),
	}
}

// Upload copies localPath to objectName under the configured prefix and
// returns the gs:// URI of the object
func (u *Uploader) Upload(ctx context.Context, objectName, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", errors.FileError(errors.CodeFileNotFound, localPath, err)
	}
	defer f.Close()

	object := objectName
	if u.prefix != "" {
		object = path.Join(u.prefix, objectName)
	}

	w := u.writer.NewWriter(ctx, object, contentType(localPath))
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write gs://%s/%s: %w", u.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize gs://%s/%s: %w", u.bucket, object, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", u.bucket, object)
	u.logger.WithField("object", object).Debug("Uploaded attachment")
	return uri, nil
}

// Close closes the storage client
func (u *Uploader) Close() error {
	if u.closer == nil {
		return nil
	}
	return u.closer.Close()
}

func contentType(localPath string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(localPath))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

type bucketWriter struct {
	bucket *storage.BucketHandle
}

func (b bucketWriter) NewWriter(ctx context.Context, object, contentType string) io.WriteCloser {
	w := b.bucket.Object(object).NewWriter(ctx)
	w.ContentType = contentType
	return w
}
