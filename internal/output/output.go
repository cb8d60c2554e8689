// Package output persists finished result documents, one per cinema.
//
// Writers share the Writer contract and the Encode step that stamps the
// framework meta and names the document. Backends live in subpackages
// (local files, GCS objects, Postgres rows); Notifying announces every saved
// document through a Publisher.
package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/model"
)

// ErrNoCinema is returned for results that do not name a cinema.
var ErrNoCinema = errors.New("output: result has no cinema")

// Framework is stamped into every document. Version is overridden at link
// time.
var Framework = model.Framework{Name: "showtimes-crawler", Version: "dev"}

// Writer persists a result document and returns where it was stored.
type Writer interface {
	Save(ctx context.Context, result *model.Result, cc *crawlctx.Context) (string, error)
}

// FilenameBuilder names the document of a result.
type FilenameBuilder func(result *model.Result) string

var unsafeName = strings.NewReplacer("/", "-", "\\", "-", " ", "-")

// DefaultFilename returns "<crawlerID>_<slug|id>.json", lower-cased.
func DefaultFilename(result *model.Result) string {
	name := fmt.Sprintf("%s_%s.json", result.Crawler.ID, result.Cinema.Key())
	return strings.ToLower(unsafeName.Replace(name))
}

// Document is an encoded result ready to be written.
type Document struct {
	Name   string
	Body   []byte
	Result *model.Result
}

// Encode stamps the framework meta onto a copy of result and renders it as
// indented JSON. A nil builder uses DefaultFilename.
func Encode(result *model.Result, name FilenameBuilder) (Document, error) {
	if result == nil || result.Cinema == nil {
		return Document{}, ErrNoCinema
	}
	if name == nil {
		name = DefaultFilename
	}
	stamped := *result
	framework := Framework
	stamped.Crawler.Framework = &framework
	if stamped.Showtimes == nil {
		stamped.Showtimes = []*model.Showtime{}
	}
	body, err := json.MarshalIndent(&stamped, "", "  ")
	if err != nil {
		return Document{}, fmt.Errorf("encode result: %w", err)
	}
	return Document{Name: name(&stamped), Body: body, Result: &stamped}, nil
}
