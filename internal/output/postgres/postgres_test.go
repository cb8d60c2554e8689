package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/showtimes-crawler/internal/model"
	"github.com/JakeFAU/showtimes-crawler/internal/output"
)

func TestSaveUpsertsDocument(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	w, err := NewWithPool(mock, "")
	require.NoError(t, err)
	now := time.Unix(1700000000, 0).UTC()
	w.now = func() time.Time { return now }

	result := &model.Result{
		Crawler:   model.CrawlerInfo{ID: "Kino"},
		Cinema:    &model.Cinema{ID: "7", Slug: "odeon", Name: "Odeon"},
		Showtimes: []*model.Showtime{{MovieTitle: "Dune", StartAt: "2024-05-01T20:00:00"}},
	}
	doc, err := output.Encode(result, nil)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO showtimes_documents").
		WithArgs("kino", "odeon", doc.Body, 1, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	location, err := w.Save(context.Background(), result, nil)
	require.NoError(t, err)
	require.Equal(t, "showtimes_documents/kino/odeon", location)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveReturnsExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	w, err := NewWithPool(mock, "documents")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO documents").
		WithArgs("", "1", pgxmock.AnyArg(), 0, pgxmock.AnyArg()).
		WillReturnError(errors.New("boom"))
	_, err = w.Save(context.Background(), &model.Result{Cinema: &model.Cinema{ID: "1"}}, nil)
	require.ErrorContains(t, err, "upsert document")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "drop table;")
	require.Error(t, err)
	_, err = NewWithPool(nil, "")
	require.Error(t, err)
}
