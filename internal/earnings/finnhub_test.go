package earnings

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaumgartner/ivcrush/internal/models"
)

func TestHistoricalEarningsSortsAndSkipsBadDates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stock/earnings", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "test-token", r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"period":"2026-01-28","actual":2.40,"estimate":2.35},
			{"period":"2026-04-30","actual":1.65,"estimate":1.62},
			{"period":"not-a-date","actual":1.0,"estimate":1.0},
			{"period":"2025-10-30","actual":null,"estimate":null}
		]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token", nil)
	records, err := client.HistoricalEarnings(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Most recent first; null EPS decodes to zero and is kept.
	assert.Equal(t, "2026-04-30", records[0].Date.Format("2006-01-02"))
	assert.Equal(t, "2026-01-28", records[1].Date.Format("2006-01-02"))
	assert.Equal(t, "2025-10-30", records[2].Date.Format("2006-01-02"))
	assert.Equal(t, 0.0, records[2].ActualEPS)
	assert.Equal(t, 1.65, records[0].ActualEPS)
}

func TestHistoricalEarningsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"Invalid API key"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "bad-token", nil)
	_, err := client.HistoricalEarnings(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestNextEarningsDate(t *testing.T) {
	day := func(s string) time.Time {
		d, err := time.Parse("2006-01-02", s)
		require.NoError(t, err)
		return d
	}
	records := []models.EarningsRecord{
		{Date: day("2026-10-29")},
		{Date: day("2026-08-27")},
		{Date: day("2026-04-30")},
	}

	next, ok := NextEarningsDate(records, day("2026-08-26"))
	require.True(t, ok)
	assert.Equal(t, "2026-08-27", next.Format("2006-01-02"))

	// Same-day earnings still count.
	next, ok = NextEarningsDate(records, day("2026-08-27"))
	require.True(t, ok)
	assert.Equal(t, "2026-08-27", next.Format("2006-01-02"))

	_, ok = NextEarningsDate(records, day("2026-11-01"))
	assert.False(t, ok)

	_, ok = NextEarningsDate(nil, day("2026-08-26"))
	assert.False(t, ok)
}
