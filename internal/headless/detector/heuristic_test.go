package detector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/showtimes-crawler/internal/transport"
)

func TestHeuristicPromotesEmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	require.True(t, h.ShouldPromote(&transport.Response{StatusCode: 200}))
}

func TestHeuristicPromotesSPAMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	require.True(t, h.ShouldPromote(&transport.Response{StatusCode: 200, Body: []byte(`<div id="__next"></div>`)}))
}

func TestHeuristicPromotesScriptHeavyPages(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	resp := &transport.Response{StatusCode: 200, Body: []byte(`<html><script>var a=1;</script><p>t</p></html>`)}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristicIgnoresErrorsAndPlainPages(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(10)
	require.False(t, h.ShouldPromote(&transport.Response{StatusCode: 404, Body: []byte("not found")}))
	require.False(t, h.ShouldPromote(&transport.Response{StatusCode: 200, Body: []byte(`<html><body><p>program</p></body></html>`)}))
	require.False(t, h.ShouldPromote(nil))
}

func TestHeuristicExpectSelectors(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0, ".showtime", ".movie")
	require.False(t, h.ShouldPromote(&transport.Response{StatusCode: 200, Body: []byte(`<div class="movie">Heat</div>`)}))
	require.True(t, h.ShouldPromote(&transport.Response{StatusCode: 200, Body: []byte(`<div id="loader"></div>`)}))
}
