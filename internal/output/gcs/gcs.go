// Package gcs writes result documents to Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/metrics"
	"github.com/JakeFAU/showtimes-crawler/internal/model"
	"github.com/JakeFAU/showtimes-crawler/internal/output"
)

// Config captures the parameters required to write to GCS.
type Config struct {
	Bucket   string
	Prefix   string
	Filename output.FilenameBuilder
}

// Writer uploads one JSON object per cinema.
type Writer struct {
	client   *storage.Client
	bucket   string
	prefix   string
	filename output.FilenameBuilder
	owned    bool
}

// New creates a writer over an existing client.
func New(client *storage.Client, cfg Config) (*Writer, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Writer{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, filename: cfg.Filename}, nil
}

// Open creates a client using Application Default Credentials and verifies
// that the bucket is reachable.
func Open(ctx context.Context, cfg Config) (*Writer, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			return nil, fmt.Errorf("get bucket %q attributes: %w (close client: %v)", cfg.Bucket, err, closeErr)
		}
		return nil, fmt.Errorf("get bucket %q attributes: %w", cfg.Bucket, err)
	}
	w, err := New(client, cfg)
	if err != nil {
		return nil, err
	}
	w.owned = true
	return w, nil
}

// Close releases the client if the writer created it.
func (w *Writer) Close() error {
	if w == nil || !w.owned {
		return nil
	}
	if err := w.client.Close(); err != nil {
		return fmt.Errorf("close GCS client: %w", err)
	}
	return nil
}

// Save implements output.Writer and returns a gs:// URI.
func (w *Writer) Save(ctx context.Context, result *model.Result, _ *crawlctx.Context) (string, error) {
	doc, err := output.Encode(result, w.filename)
	if err != nil {
		metrics.ObserveDocument("gcs", "error")
		return "", err
	}
	name := path.Join(w.prefix, doc.Name)
	if err := w.put(ctx, name, doc.Body); err != nil {
		metrics.ObserveDocument("gcs", "error")
		return "", err
	}
	metrics.ObserveDocument("gcs", "ok")
	return fmt.Sprintf("gs://%s/%s", w.bucket, name), nil
}

func (w *Writer) put(ctx context.Context, name string, body []byte) error {
	writer := w.client.Bucket(w.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := io.Copy(writer, bytes.NewReader(body)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("copy object %s: %w (close writer: %v)", name, err, closeErr)
		}
		return fmt.Errorf("copy object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", name, err)
	}
	return nil
}
