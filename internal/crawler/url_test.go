package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase host", "HTTPS://Kino.Example/Program", "https://kino.example/Program"},
		{"default port", "http://kino.example:80/a", "http://kino.example/a"},
		{"tls port", "https://kino.example:443/a", "https://kino.example/a"},
		{"fragment and query order", "https://kino.example/a?b=2&a=1#top", "https://kino.example/a?a=1&b=2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := normalizeURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := normalizeURL("://bad")
	require.Error(t, err)
}

func TestSameURLAndResolveURL(t *testing.T) {
	t.Parallel()

	assert.True(t, sameURL("https://kino.example/a?x=1&y=2", "https://KINO.example:443/a?y=2&x=1#f"))
	assert.False(t, sameURL("https://kino.example/a?page=1", "https://kino.example/a?page=2"))

	assert.Equal(t, "https://kino.example/list?page=2", resolveURL("https://kino.example/list?page=1", "?page=2"))
	assert.Equal(t, "https://other.example/x", resolveURL("https://kino.example/list", "https://other.example/x"))
	assert.Equal(t, "/rel", resolveURL("", "/rel"))
}
