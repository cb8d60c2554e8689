// Package reqtemplate resolves the markers in request URL and post data templates.
//
// Supported markers:
//
//	:date:            the branch date, formatted with the context's date format
//	:date.href:       the href of the selected date page
//	:page:            the branch page value, or the 1-based page index
//	:page(a,b,c):     the branch page value (the list drives page iteration)
//	:cinema.<field>:  an attribute of the selected cinema
//	:movie.<field>:   an attribute of the selected movie
package reqtemplate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/transport"
	"github.com/JakeFAU/showtimes-crawler/internal/warnings"
)

// DefaultDateFormat is used when the context has no date format.
const DefaultDateFormat = "2006-01-02"

var (
	dateMarker  = regexp.MustCompile(`:date:`)
	pagesMarker = regexp.MustCompile(`:page\(([^)]*)\):`)
	anyMarker   = regexp.MustCompile(`:(date|date\.href|page|page\([^)]*\)|cinema\.[A-Za-z_]+|movie\.[A-Za-z_]+):`)
)

// HasDateMarker reports whether the URL or the JSON encoding of postData
// contains the date marker.
func HasDateMarker(rawURL string, postData any) bool {
	return dateMarker.MatchString(rawURL) || dateMarker.MatchString(encode(postData))
}

// HasPageMarker reports whether the URL or post data enumerates pages.
func HasPageMarker(rawURL string, postData any) bool {
	return pagesMarker.MatchString(rawURL) || pagesMarker.MatchString(encode(postData))
}

// StaticPages returns the enumerated pages of the first page marker found in
// the URL or, failing that, in the post data.
func StaticPages(rawURL string, postData any) []string {
	m := pagesMarker.FindStringSubmatch(rawURL)
	if m == nil {
		m = pagesMarker.FindStringSubmatch(encode(postData))
	}
	if m == nil {
		return nil
	}
	return ParseStaticPages(m[1])
}

// ParseStaticPages splits "1, 2,3" into trimmed, non-empty entries.
func ParseStaticPages(list string) []string {
	var pages []string
	for _, p := range strings.Split(list, ",") {
		if p = strings.TrimSpace(p); p != "" {
			pages = append(pages, p)
		}
	}
	return pages
}

// Evaluate resolves every marker in req against cc. Markers that cannot be
// resolved are left in place and reported as warnings on cc.
func Evaluate(req transport.Request, cc *crawlctx.Context) transport.Request {
	out := transport.Request{
		URL:      resolve(req.URL, cc),
		PostData: evaluateValue(req.PostData, cc),
	}
	if req.Headers != nil {
		out.Headers = req.Headers.Clone()
	}
	return out
}

func evaluateValue(v any, cc *crawlctx.Context) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return resolve(t, cc)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = evaluateValue(val, cc)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = evaluateValue(val, cc)
		}
		return out
	default:
		return v
	}
}

func resolve(s string, cc *crawlctx.Context) string {
	if !strings.Contains(s, ":") {
		return s
	}
	return anyMarker.ReplaceAllStringFunc(s, func(marker string) string {
		name := strings.Trim(marker, ":")
		value, ok := lookup(name, cc)
		if !ok {
			cc.AddWarning(warnings.Warning{
				Code:    warnings.CodeUnresolvedTemplate,
				Title:   "unresolved template marker",
				Details: marker,
			})
			return marker
		}
		return value
	})
}

func lookup(name string, cc *crawlctx.Context) (string, bool) {
	switch {
	case name == "date":
		if !cc.HasDate {
			return "", false
		}
		layout := cc.DateFormat
		if layout == "" {
			layout = DefaultDateFormat
		}
		return cc.Date.Format(layout), true
	case name == "date.href":
		return cc.DateHref, cc.DateHref != ""
	case name == "page" || strings.HasPrefix(name, "page("):
		if cc.Page != "" {
			return cc.Page, true
		}
		return strconv.Itoa(cc.PageIndex() + 1), true
	case strings.HasPrefix(name, "cinema."):
		v, ok := cc.Cinema.Field(strings.TrimPrefix(name, "cinema."))
		return v, ok && v != ""
	case strings.HasPrefix(name, "movie."):
		v, ok := cc.Movie.Field(strings.TrimPrefix(name, "movie."))
		return v, ok && v != ""
	}
	return "", false
}

func encode(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
