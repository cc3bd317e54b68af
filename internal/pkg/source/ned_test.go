package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclimatefix/solar-consumer/internal/pkg/model"
	"github.com/openclimatefix/solar-consumer/internal/pkg/window"
)

func TestNormalizeNed_Generation(t *testing.T) {
	t.Parallel()

	win := window.Window{
		Start: time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	}
	members := []nedUtilization{
		{
			Capacity:   2_500_000, // kW
			Percentage: 0.125,
			ValidFrom:  "2025-05-31T14:00:00+02:00",
			LastUpdate: "2025-05-31T15:05:00+02:00",
		},
		{
			// Past window end, dropped.
			Capacity:  1_000_000,
			ValidFrom: "2025-06-03T14:00:00+02:00",
		},
		{
			Capacity:  1_000_000,
			ValidFrom: "garbage",
		},
	}

	records, errs := normalizeNed(members, "nl-national", model.KindGeneration, win, fixedNow())
	assert.Len(t, errs, 1)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "nl-national", rec.EntityID)
	assert.Equal(t, time.Date(2025, 5, 31, 12, 0, 0, 0, time.UTC), rec.TargetTime, "offset timestamps convert to UTC")
	assert.Equal(t, 2500.0, rec.PowerMW, "capacity kW converts to MW")
	require.NotNil(t, rec.CapacityMW)
	assert.InDelta(t, 20000.0, *rec.CapacityMW, 0.001, "installed capacity recovered from percentage")
	assert.Equal(t, time.Date(2025, 5, 31, 13, 5, 0, 0, time.UTC), rec.CreatedAt)
	assert.Nil(t, rec.Horizon, "generation actuals carry no horizon")
	assert.Equal(t, model.SourceNedNL, rec.Source)
}

func TestNormalizeNed_ForecastHorizon(t *testing.T) {
	t.Parallel()

	now := fixedNow()
	win := window.Ahead(now, 7*24*time.Hour)
	members := []nedUtilization{
		{Capacity: 500_000, ValidFrom: now.Add(3 * time.Hour).Format(time.RFC3339)},
	}

	records, errs := normalizeNed(members, "nl-region-4", model.KindForecast, win, now)
	require.Empty(t, errs)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Horizon)
	assert.Equal(t, 3*time.Hour, *records[0].Horizon)
}

func TestNed_Fetch_PerPointFailureContainment(t *testing.T) {
	now := fixedNow()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-AUTH-TOKEN"))

		if r.URL.Query().Get("point") == "3" {
			http.Error(w, "boom", http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, `{"hydra:member":[{"capacity":100000,"percentage":0.01,"validfrom":%q,"lastupdate":%q}]}`,
			now.Format(time.RFC3339), now.Format(time.RFC3339))
	}))
	defer srv.Close()

	n := NewNed(srv.Client())
	n.BaseURL = srv.URL
	n.now = func() time.Time { return now }
	n.http.maxRetries = 0

	req := model.RunRequest{Country: "nl", DataKind: model.KindGeneration, NedAPIKey: "secret"}
	win := window.Window{Start: now.Truncate(24 * time.Hour), End: now.Truncate(24 * time.Hour).AddDate(0, 0, 1)}

	result, err := n.Fetch(context.Background(), req, win)
	require.NoError(t, err)

	require.Len(t, result.Failed, 1)
	assert.Equal(t, "nl-region-3", result.Failed[0].EntityID)
	assert.Len(t, result.Records, len(nedPoints)-1, "one record per surviving point")
}

func TestNed_Window(t *testing.T) {
	t.Parallel()

	n := NewNed(nil)
	now := fixedNow()

	gen := n.Window(now, model.RunRequest{DataKind: model.KindGeneration})
	assert.Equal(t, window.PriorDays(now, 2), gen)

	fc := n.Window(now, model.RunRequest{DataKind: model.KindForecast})
	assert.Equal(t, window.Ahead(now, 7*24*time.Hour), fc)
}

func TestNed_UtilizationsURL(t *testing.T) {
	t.Parallel()

	n := NewNed(nil)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	u := n.utilizationsURL(0, model.KindGeneration, day)
	assert.Contains(t, u, "classification=2")
	assert.Contains(t, u, "point=0")
	assert.Contains(t, u, "validfrom%5Bafter%5D=2025-06-01")
	assert.Contains(t, u, "validfrom%5Bstrictly_before%5D=2025-06-02")

	u = n.utilizationsURL(1, model.KindForecast, day)
	assert.Contains(t, u, "classification=1")
}
