package warnings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/showtimes-crawler/internal/model"
)

func TestValidateFlagsEmptyAndDuplicateShowtimes(t *testing.T) {
	t.Parallel()

	empty := Validate(&model.Result{Cinema: &model.Cinema{ID: "c1"}})
	codes := collectCodes(empty)
	assert.ElementsMatch(t, []int{CodeMissingCinemaName, CodeNoShowtimes}, codes)

	dup := &model.Showtime{MovieTitle: "Heat", StartAt: "2024-01-01T20:00:00"}
	ws := Validate(&model.Result{
		Cinema:    &model.Cinema{Name: "Odeon"},
		Showtimes: []*model.Showtime{dup, {MovieTitle: "Heat", StartAt: "2024-01-01T20:00:00"}, {MovieTitle: "Heat"}},
	})
	assert.ElementsMatch(t, []int{CodeDuplicateShowtime, CodeMissingStartAt}, collectCodes(ws))
}

func TestValidateClosedCinemaWithoutShowtimesIsFine(t *testing.T) {
	t.Parallel()

	ws := Validate(&model.Result{Cinema: &model.Cinema{Name: "Odeon", IsTemporarilyClosed: true}})
	assert.Empty(t, ws)
}

func TestGroupDedupesAndSplitsAccepted(t *testing.T) {
	t.Parallel()

	g := Group([]Warning{
		{Code: CodeNoShowtimes, Title: "first"},
		{Code: CodeMissingStartAt, Title: "start"},
		{Code: CodeNoShowtimes, Title: "second"},
	}, map[int]string{CodeNoShowtimes: "cinema shows nothing on mondays"})

	require.Len(t, g.Print, 1)
	assert.Equal(t, CodeMissingStartAt, g.Print[0].Code)
	require.Len(t, g.Accepted, 1)
	assert.Equal(t, "first", g.Accepted[0].Title)
	assert.Equal(t, "cinema shows nothing on mondays", g.Accepted[0].Reason)
}

func TestLogIsSafeForConcurrentUse(t *testing.T) {
	t.Parallel()

	l := NewLog()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(code int) {
			l.Add(Warning{Code: code})
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Len(t, l.Items(), 8)
}

func collectCodes(ws []Warning) []int {
	out := make([]int, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Code)
	}
	return out
}
