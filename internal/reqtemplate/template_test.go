package reqtemplate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/model"
	"github.com/JakeFAU/showtimes-crawler/internal/transport"
	"github.com/JakeFAU/showtimes-crawler/internal/warnings"
)

func TestMarkerDetection(t *testing.T) {
	t.Parallel()

	assert.True(t, HasDateMarker("https://c.example/program?d=:date:", nil))
	assert.True(t, HasDateMarker("https://c.example/api", map[string]any{"day": ":date:"}))
	assert.False(t, HasDateMarker("https://c.example/program", map[string]any{"day": "today"}))

	assert.True(t, HasPageMarker("https://c.example/list?p=:page(1,2,3):", nil))
	assert.True(t, HasPageMarker("https://c.example/list", map[string]any{"p": ":page(a, b):"}))
	assert.False(t, HasPageMarker("https://c.example/list?p=:page:", nil))

	assert.Equal(t, []string{"1", "2", "3"}, StaticPages("https://c.example/list?p=:page(1, 2,3):", nil))
	assert.Equal(t, []string{"a", "b"}, StaticPages("https://c.example/list", map[string]any{"p": ":page(a,,b):"}))
	assert.Nil(t, StaticPages("https://c.example/list", nil))
}

func TestEvaluateResolvesContextValues(t *testing.T) {
	t.Parallel()

	cc := crawlctx.New()
	cc.Cinema = &model.Cinema{ID: "42", Slug: "odeon"}
	cc.Movie = &model.Movie{ID: "m7", Href: "/movies/heat"}
	cc.SetDate(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC))
	cc.DateFormat = "02.01.2006"
	cc.Page = "3"

	req := Evaluate(transport.Request{
		URL: "https://c.example/:cinema.slug:/program?d=:date:&p=:page(1,2,3):&m=:movie.id:",
		PostData: map[string]any{
			"cinema": ":cinema.id:",
			"days":   []any{":date:", 5},
		},
	}, cc)

	assert.Equal(t, "https://c.example/odeon/program?d=09.03.2024&p=3&m=m7", req.URL)
	assert.Equal(t, map[string]any{"cinema": "42", "days": []any{"09.03.2024", 5}}, req.PostData)
	assert.Empty(t, cc.Warnings())
}

func TestEvaluatePageFallsBackToIndex(t *testing.T) {
	t.Parallel()

	cc := crawlctx.New()
	cc.SetPageIndex(1)
	req := Evaluate(transport.Request{URL: "https://c.example/list?page=:page:"}, cc)
	assert.Equal(t, "https://c.example/list?page=2", req.URL)
}

func TestEvaluateKeepsUnresolvedMarkersAndWarns(t *testing.T) {
	t.Parallel()

	cc := crawlctx.New()
	req := Evaluate(transport.Request{URL: "https://c.example/?d=:date:&c=:cinema.id:&t=10:30"}, cc)
	assert.Equal(t, "https://c.example/?d=:date:&c=:cinema.id:&t=10:30", req.URL)
	ws := cc.Warnings()
	require.Len(t, ws, 2)
	assert.Equal(t, warnings.CodeUnresolvedTemplate, ws[0].Code)
}

func TestEvaluateDefaultDateFormat(t *testing.T) {
	t.Parallel()

	cc := crawlctx.New()
	cc.SetDate(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	req := Evaluate(transport.Request{URL: "/program/:date:", PostData: "day=:date:"}, cc)
	assert.Equal(t, "/program/2024-12-31", req.URL)
	assert.Equal(t, "day=2024-12-31", req.PostData)
}
