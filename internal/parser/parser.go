// Package parser provides the default response handlers. They are driven by
// the field selectors of a crawler definition and use goquery to walk the
// returned markup.
package parser

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/definition"
	"github.com/JakeFAU/showtimes-crawler/internal/transport"
	"github.com/JakeFAU/showtimes-crawler/internal/warnings"
)

// ListHandler extracts the items of a list page and the URL of the next page,
// if any.
type ListHandler[T any] func(ctx context.Context, resp *transport.Response, cc *crawlctx.Context) ([]*T, string, error)

// DetailsHandler extracts a single record from a details page.
type DetailsHandler[T any] func(ctx context.Context, resp *transport.Response, cc *crawlctx.Context) (*T, error)

// CheckHandler answers a yes/no question about a page.
type CheckHandler func(ctx context.Context, resp *transport.Response, cc *crawlctx.Context) (bool, error)

// linkAttributes are resolved against the response URL.
var linkAttributes = map[string]bool{"href": true, "src": true, "action": true, "data-href": true}

var patterns sync.Map // pattern string -> *regexp.Regexp

// page is a parsed response.
type page struct {
	doc  *goquery.Document
	base *url.URL
}

func parse(resp *transport.Response) (*page, error) {
	if resp == nil {
		return nil, fmt.Errorf("parse html: nil response")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	p := &page{doc: doc}
	if resp.URL != "" {
		if base, err := url.Parse(resp.URL); err == nil {
			p.base = base
		}
	}
	return p, nil
}

// boxes selects the repeated elements of a level. An empty box selects the
// scope itself.
func boxes(scope *goquery.Selection, box string) *goquery.Selection {
	if box == "" {
		return scope
	}
	return scope.Find(box)
}

// extract reads a field from scope. The second result reports whether the
// field's selector matched anything.
func (p *page) extract(scope *goquery.Selection, f definition.Field) (string, bool, error) {
	if f.Value != "" {
		return f.Value, true, nil
	}
	target := scope
	if f.Selector != "" {
		target = scope.Find(f.Selector).First()
	}
	if target.Length() == 0 {
		return "", false, nil
	}

	var value string
	switch f.Attribute {
	case "":
		value = collapse(target.Text())
	case "html":
		html, err := target.Html()
		if err != nil {
			return "", true, fmt.Errorf("read html of %q: %w", f.Selector, err)
		}
		value = strings.TrimSpace(html)
	default:
		value = strings.TrimSpace(target.AttrOr(f.Attribute, ""))
		if linkAttributes[f.Attribute] {
			value = p.resolve(value)
		}
	}

	if f.Pattern != "" {
		re, err := compile(f.Pattern)
		if err != nil {
			return "", true, err
		}
		m := re.FindStringSubmatch(value)
		switch {
		case m == nil:
			value = ""
		case len(m) > 1:
			value = m[1]
		default:
			value = m[0]
		}
	}
	return value, true, nil
}

// resolve makes ref absolute relative to the response URL.
func (p *page) resolve(ref string) string {
	if ref == "" || p.base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return p.base.ResolveReference(u).String()
}

func compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := patterns.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	patterns.Store(pattern, re)
	return re, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// nextPage extracts the absolute next page URL, if configured and present.
func (p *page) nextPage(f *definition.Field) (string, error) {
	if f == nil {
		return "", nil
	}
	if f.Attribute == "" && f.Value == "" {
		f = &definition.Field{Selector: f.Selector, Attribute: "href", Pattern: f.Pattern}
	}
	next, _, err := p.extract(p.doc.Selection, *f)
	if err != nil {
		return "", fmt.Errorf("extract next page: %w", err)
	}
	return p.resolve(next), nil
}

func unparsable(cc *crawlctx.Context, field, value string, err error) {
	if cc == nil {
		return
	}
	cc.AddWarning(warnings.Warning{
		Code:    warnings.CodeUnparsableValue,
		Title:   "unparsable value",
		Details: fmt.Sprintf("%s %q: %v", field, value, err),
	})
}
