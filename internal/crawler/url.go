package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// normalizeURL standardizes a URL for comparison. It lowercases the scheme and
// host, removes default ports and fragments and sorts query parameters.
func normalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// sameURL reports whether a and b address the same page.
func sameURL(a, b string) bool {
	if a == b {
		return true
	}
	na, errA := normalizeURL(a)
	nb, errB := normalizeURL(b)
	return errA == nil && errB == nil && na == nb
}

// pageKey is the normalized form of rawURL, or rawURL itself when it does not
// parse.
func pageKey(rawURL string) string {
	if n, err := normalizeURL(rawURL); err == nil {
		return n
	}
	return rawURL
}

// resolveURL makes ref absolute relative to base. Unparsable input is
// returned unchanged.
func resolveURL(base, ref string) string {
	if base == "" || ref == "" {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
