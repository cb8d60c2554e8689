package local_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/showtimes-crawler/internal/model"
	"github.com/JakeFAU/showtimes-crawler/internal/output"
	"github.com/JakeFAU/showtimes-crawler/internal/output/local"
)

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "out")
		w, err := local.New(local.Config{Dir: dir})
		require.NoError(t, err)
		assert.NotNil(t, w)
		assert.DirExists(t, dir)
	})
	t.Run("MissingDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})
	t.Run("DirIsAFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(path, nil, 0o600))
		_, err := local.New(local.Config{Dir: path})
		assert.Error(t, err)
	})
}

func TestSaveWritesDocument(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := local.New(local.Config{Dir: dir})
	require.NoError(t, err)

	result := &model.Result{
		Crawler:   model.CrawlerInfo{ID: "Kino", IsBookingLinkCapable: true},
		Cinema:    &model.Cinema{ID: "1", Slug: "Odeon-Mitte", Name: "Odeon"},
		Showtimes: []*model.Showtime{{MovieTitle: "Dune", StartAt: "2024-05-01T20:00:00"}},
	}
	path, err := w.Save(context.Background(), result, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "kino_odeon-mitte.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc model.Result
	require.NoError(t, json.Unmarshal(data, &doc))
	require.NotNil(t, doc.Crawler.Framework)
	assert.Equal(t, output.Framework.Name, doc.Crawler.Framework.Name)
	assert.Equal(t, "Dune", doc.Showtimes[0].MovieTitle)
	assert.Nil(t, result.Crawler.Framework)
}

func TestSaveCustomFilenameAndErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := local.New(local.Config{Dir: dir, Filename: func(r *model.Result) string {
		return "../" + r.Cinema.ID + ".json"
	}})
	require.NoError(t, err)

	_, err = w.Save(context.Background(), &model.Result{Cinema: &model.Cinema{ID: "1"}}, nil)
	require.Error(t, err)

	_, err = w.Save(context.Background(), &model.Result{}, nil)
	require.ErrorIs(t, err, output.ErrNoCinema)
}
