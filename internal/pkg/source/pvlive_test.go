package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclimatefix/solar-consumer/internal/pkg/model"
	"github.com/openclimatefix/solar-consumer/internal/pkg/window"
)

var pvliveMeta = `["gsp_id","datetime_gmt","generation_mw","installedcapacity_mwp","capacity_mwp","updated_gmt"]`

func pvlivePayload(gspID int, rows string) string {
	_ = gspID
	return fmt.Sprintf(`{"data":[%s],"meta":%s}`, rows, pvliveMeta)
}

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
}

func TestNormalizePVLive(t *testing.T) {
	t.Parallel()

	var payload pvliveResponse
	payload.Meta = []string{"gsp_id", "datetime_gmt", "generation_mw", "installedcapacity_mwp", "capacity_mwp", "updated_gmt"}
	payload.Data = [][]any{
		{float64(1), "2025-06-01T12:30:00Z", 55.5, 120.0, 118.0, "2025-06-01T13:00:00Z"},
		{float64(1), "2025-06-01T12:00:00Z", 50.0, 120.0, 118.0, "2025-06-01T13:00:00Z"},
		{float64(1), "2025-06-01T13:00:00Z", nil, 120.0, 118.0, "2025-06-01T13:00:00Z"}, // unsettled trailing value
	}

	records, errs := normalizePVLive(payload, 1, model.RegimeInDay, fixedNow())
	require.Empty(t, errs)
	require.Len(t, records, 2, "null generation with non-zero capacity is dropped")

	assert.Equal(t, "gb-gsp-1", records[0].EntityID)
	assert.True(t, records[0].TargetTime.Before(records[1].TargetTime), "records sorted by target time")
	assert.Equal(t, 50.0, records[0].PowerMW)
	assert.Equal(t, model.RegimeInDay, records[0].Regime)
	assert.Equal(t, model.SourcePVLive, records[0].Source)
	require.NotNil(t, records[0].CapacityMW)
	assert.Equal(t, 120.0, *records[0].CapacityMW)
	assert.Equal(t, time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC), records[0].CreatedAt, "created_at comes from updated_gmt")
	assert.Equal(t, time.UTC, records[0].TargetTime.Location())
}

func TestNormalizePVLive_ZeroCapacityMeansZeroGeneration(t *testing.T) {
	t.Parallel()

	var payload pvliveResponse
	payload.Meta = []string{"gsp_id", "datetime_gmt", "generation_mw", "capacity_mwp"}
	payload.Data = [][]any{
		{float64(7), "2025-06-01T12:00:00Z", nil, 0.0},
		{float64(7), "2025-06-01T12:30:00Z", nil, 0.0},
	}

	records, errs := normalizePVLive(payload, 7, model.RegimeDayAfter, fixedNow())
	require.Empty(t, errs)
	require.Len(t, records, 2)
	assert.Equal(t, 0.0, records[0].PowerMW)
	assert.Equal(t, 0.0, records[1].PowerMW)
}

func TestNormalizePVLive_MalformedRows(t *testing.T) {
	t.Parallel()

	var payload pvliveResponse
	payload.Meta = []string{"gsp_id", "datetime_gmt", "generation_mw"}
	payload.Data = [][]any{
		{float64(2), "not-a-timestamp", 10.0},
		{float64(2), "2025-06-01T12:00:00Z", 10.0},
	}

	records, errs := normalizePVLive(payload, 2, model.RegimeInDay, fixedNow())
	assert.Len(t, errs, 1)
	require.Len(t, records, 1)
	assert.Equal(t, 10.0, records[0].PowerMW)
}

func TestNormalizePVLive_MissingColumns(t *testing.T) {
	t.Parallel()

	payload := pvliveResponse{Meta: []string{"gsp_id"}, Data: [][]any{{float64(1)}}}
	records, errs := normalizePVLive(payload, 1, model.RegimeInDay, fixedNow())
	assert.Empty(t, records)
	assert.Len(t, errs, 1)
}

// TestPVLive_Fetch_PartialFailure verifies that one failing GSP does not
// abort the window: the other GSPs are returned and the failure is reported.
func TestPVLive_Fetch_PartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/gsp/2"):
			http.Error(w, "boom", http.StatusInternalServerError)
		case strings.HasPrefix(r.URL.Path, "/gsp/"):
			fmt.Fprint(w, pvlivePayload(0, `[0,"2025-06-01T12:00:00Z",100.5,null,null,null]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewPVLive(srv.Client())
	p.BaseURL = srv.URL
	p.now = fixedNow
	p.http.maxRetries = 0

	req := model.RunRequest{Country: "gb", DataKind: model.KindGeneration, Regime: model.RegimeInDay, NGSPs: 3, BackfillHours: 2}
	win := p.Window(fixedNow(), req)

	result, err := p.Fetch(context.Background(), req, win)
	require.NoError(t, err)

	require.Len(t, result.Failed, 1)
	assert.Equal(t, "gb-gsp-2", result.Failed[0].EntityID)

	// GSPs 0, 1 and 3 succeed.
	assert.Len(t, result.Records, 3)
}

func TestPVLive_GspURL_ZeroWidthWindowFetchesLatest(t *testing.T) {
	t.Parallel()

	p := NewPVLive(nil)
	at := fixedNow()

	u := p.gspURL(4, window.Window{Start: at, End: at})
	assert.NotContains(t, u, "start=")
	assert.NotContains(t, u, "end=")

	u = p.gspURL(4, window.Window{Start: at.Add(-time.Hour), End: at})
	assert.Contains(t, u, "start=")
	assert.Contains(t, u, "end=")
}

func TestPVLive_SkipsRetiredGSPs(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.URL.Path] = true
		mu.Unlock()
		fmt.Fprint(w, pvlivePayload(0, ``))
	}))
	defer srv.Close()

	p := NewPVLive(srv.Client())
	p.BaseURL = srv.URL
	p.now = fixedNow

	req := model.RunRequest{NGSPs: 6, Regime: model.RegimeInDay, BackfillHours: 1}
	_, err := p.Fetch(context.Background(), req, p.Window(fixedNow(), req))
	require.NoError(t, err)

	assert.False(t, seen["/gsp/5"], "retired GSP 5 must not be queried")
	assert.True(t, seen["/gsp/6"])
}
