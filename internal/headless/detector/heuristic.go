// Package detector decides when a cinema page must be rendered in a browser.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/showtimes-crawler/internal/transport"
)

// Heuristic flags script-driven pages.
type Heuristic struct {
	BodyLengthThreshold int
	// ExpectSelectors promote a page when none of them match its markup.
	ExpectSelectors []string
}

// NewHeuristic creates a detector. A zero threshold defaults to 2048 bytes.
func NewHeuristic(threshold int, expect ...string) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold, ExpectSelectors: expect}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ShouldPromote implements transport.Detector.
func (h *Heuristic) ShouldPromote(resp *transport.Response) bool {
	if resp == nil || resp.StatusCode != http.StatusOK {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if len(h.ExpectSelectors) > 0 {
		return !matchesAny(body, h.ExpectSelectors)
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func matchesAny(body []byte, selectors []string) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	for _, sel := range selectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether at least a quarter of the markup is inside script tags.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}
	covered := 0
	pos := 0
	for {
		start := strings.Index(lower[pos:], "<script")
		if start == -1 {
			break
		}
		start += pos
		end := strings.Index(lower[start:], "</script>")
		if end == -1 {
			covered += total - start
			break
		}
		end = start + end + len("</script>")
		covered += end - start
		pos = end
	}
	return covered*100/total >= 25
}
