package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/showtimes-crawler/internal/model"
	"github.com/JakeFAU/showtimes-crawler/internal/output/gcs"
)

func newTestWriter(t *testing.T, handler http.Handler) *gcs.Writer {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	w, err := gcs.New(client, gcs.Config{Bucket: "showtimes", Prefix: "2024-05-01"})
	require.NoError(t, err)
	return w
}

func result() *model.Result {
	return &model.Result{
		Crawler: model.CrawlerInfo{ID: "kino"},
		Cinema:  &model.Cinema{ID: "7", Name: "Odeon"},
	}
}

func TestSaveUploadsObject(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/b/showtimes/o")
		assert.Equal(t, "2024-05-01/kino_7.json", r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `"name": "Odeon"`)

		fmt.Fprintln(w, `{"name": "2024-05-01/kino_7.json", "bucket": "showtimes"}`)
	})
	w := newTestWriter(t, handler)

	location, err := w.Save(context.Background(), result(), nil)
	require.NoError(t, err)
	assert.Equal(t, "gs://showtimes/2024-05-01/kino_7.json", location)
}

func TestSaveUploadError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	w := newTestWriter(t, handler)

	_, err := w.Save(context.Background(), result(), nil)
	assert.Error(t, err)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = gcs.New(client, gcs.Config{})
	assert.Error(t, err)
}
