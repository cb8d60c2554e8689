// Package local writes result documents to the local filesystem.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/metrics"
	"github.com/JakeFAU/showtimes-crawler/internal/model"
	"github.com/JakeFAU/showtimes-crawler/internal/output"
)

// Config captures the parameters for the local writer.
type Config struct {
	// Dir is the directory documents are written to.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// Filename overrides output.DefaultFilename.
	Filename output.FilenameBuilder `mapstructure:"-" yaml:"-"`
}

// Writer writes one JSON file per cinema.
type Writer struct {
	dir      string
	filename output.FilenameBuilder
}

// New creates the output directory if needed and verifies it is writable.
func New(cfg Config) (*Writer, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}

	info, err := os.Stat(cfg.Dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create output directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat output directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("output path %s is not a directory", cfg.Dir)
	}

	probe := filepath.Join(cfg.Dir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("output directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}

	return &Writer{dir: cfg.Dir, filename: cfg.Filename}, nil
}

// Save implements output.Writer and returns the written path.
func (w *Writer) Save(_ context.Context, result *model.Result, _ *crawlctx.Context) (string, error) {
	doc, err := output.Encode(result, w.filename)
	if err != nil {
		metrics.ObserveDocument("local", "error")
		return "", err
	}

	fullPath := filepath.Join(w.dir, doc.Name)
	cleanDir := filepath.Clean(w.dir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanDir+string(filepath.Separator)) {
		metrics.ObserveDocument("local", "error")
		return "", fmt.Errorf("document name %q escapes the output directory", doc.Name)
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		metrics.ObserveDocument("local", "error")
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(fullPath, doc.Body, 0o600); err != nil {
		metrics.ObserveDocument("local", "error")
		return "", fmt.Errorf("write document: %w", err)
	}
	metrics.ObserveDocument("local", "ok")
	return fullPath, nil
}
