package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openclimatefix/solar-consumer/internal/pkg/model"
	"github.com/openclimatefix/solar-consumer/internal/pkg/window"
)

// Ned NL classification codes.
const (
	nedClassificationForecast   = 1
	nedClassificationGeneration = 2
	nedTypeSolar                = 2
	nedGranularityHour          = 4
	nedFetchConcurrency         = 2
)

// nedPoints maps the provider's point codes onto stable entity ids: point 0
// is the national aggregate, 1..12 the provinces.
var nedPoints = map[int]string{
	0: "nl-national", 1: "nl-region-1", 2: "nl-region-2", 3: "nl-region-3",
	4: "nl-region-4", 5: "nl-region-5", 6: "nl-region-6", 7: "nl-region-7",
	8: "nl-region-8", 9: "nl-region-9", 10: "nl-region-10", 11: "nl-region-11",
	12: "nl-region-12",
}

// Ned fetches Dutch solar utilization series from the Ned NL API. One adapter
// serves both generation and forecast: the requested classification differs.
type Ned struct {
	BaseURL string
	http    *httpClient
	now     func() time.Time
}

func NewNed(client *http.Client) *Ned {
	return &Ned{
		BaseURL: "https://api.ned.nl/v1",
		http:    newHTTPClient("ned-nl", client),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (n *Ned) Source() model.Source { return model.SourceNedNL }

// Window follows the provider's publication cadence: generation covers the
// last two complete-ish days, forecasts run a week ahead.
func (n *Ned) Window(now time.Time, req model.RunRequest) window.Window {
	if req.DataKind == model.KindForecast {
		return window.Ahead(now, 7*24*time.Hour)
	}
	return window.PriorDays(now, 2)
}

type nedUtilization struct {
	Capacity   float64 `json:"capacity"` // kW
	Volume     float64 `json:"volume"`   // kWh
	Percentage float64 `json:"percentage"`
	ValidFrom  string  `json:"validfrom"`
	ValidTo    string  `json:"validto"`
	LastUpdate string  `json:"lastupdate"`
}

type nedPage struct {
	Members []nedUtilization `json:"hydra:member"`
}

func (n *Ned) Fetch(ctx context.Context, req model.RunRequest, win window.Window) (Result, error) {
	var (
		mu     sync.Mutex
		result Result
	)

	header := http.Header{}
	header.Set("X-AUTH-TOKEN", req.NedAPIKey)
	header.Set("Accept", "application/ld+json")

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(nedFetchConcurrency)

	for point := 0; point < len(nedPoints); point++ {
		entity := nedPoints[point]
		eg.Go(func() error {
			var members []nedUtilization
			// The API pages by validfrom date; one request per covered day.
			for _, day := range win.Days() {
				body, err := n.http.get(ctx, n.utilizationsURL(point, req.DataKind, day), header)
				if err != nil {
					mu.Lock()
					result.Failed = append(result.Failed, EntityFailure{
						EntityID: entity,
						Err:      &FetchError{Source: model.SourceNedNL, Entity: entity, Err: err},
					})
					mu.Unlock()
					return nil
				}

				var page nedPage
				if err := json.Unmarshal(body, &page); err != nil {
					mu.Lock()
					result.Failed = append(result.Failed, EntityFailure{
						EntityID: entity,
						Err:      &FetchError{Source: model.SourceNedNL, Entity: entity, Err: err},
					})
					mu.Unlock()
					return nil
				}
				members = append(members, page.Members...)
			}

			records, errs := normalizeNed(members, entity, req.DataKind, win, n.now())
			for _, nerr := range errs {
				zap.L().Warn("dropping ned row", zap.String("entity", entity), zap.Error(nerr))
			}

			mu.Lock()
			result.Records = append(result.Records, records...)
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

func (n *Ned) utilizationsURL(point int, kind model.DataKind, day time.Time) string {
	classification := nedClassificationGeneration
	if kind == model.KindForecast {
		classification = nedClassificationForecast
	}

	q := url.Values{}
	q.Set("point", fmt.Sprint(point))
	q.Set("type", fmt.Sprint(nedTypeSolar))
	q.Set("granularity", fmt.Sprint(nedGranularityHour))
	q.Set("granularitytimezone", "0")
	q.Set("classification", fmt.Sprint(classification))
	q.Set("activity", "1")
	q.Set("validfrom[after]", day.Format("2006-01-02"))
	q.Set("validfrom[strictly_before]", day.AddDate(0, 0, 1).Format("2006-01-02"))
	return n.BaseURL + "/utilizations?" + q.Encode()
}

// normalizeNed maps utilization rows into canonical records. Capacity arrives
// in kW; the installed capacity is recovered from the utilization percentage.
func normalizeNed(members []nedUtilization, entity string, kind model.DataKind, win window.Window, now time.Time) ([]model.ForecastRecord, []error) {
	var (
		records []model.ForecastRecord
		errs    []error
	)
	for _, m := range members {
		ts, err := time.Parse(time.RFC3339, m.ValidFrom)
		if err != nil {
			errs = append(errs, fmt.Errorf("ned validfrom %q: %w", m.ValidFrom, err))
			continue
		}
		target := ts.UTC()
		if target.After(win.End) {
			continue
		}

		rec := model.ForecastRecord{
			EntityID:   entity,
			TargetTime: target,
			PowerMW:    m.Capacity / 1000,
			CreatedAt:  now,
			Source:     model.SourceNedNL,
		}
		if m.Percentage > 0 {
			installed := m.Capacity / m.Percentage / 1000
			rec.CapacityMW = &installed
		}
		if upd, err := time.Parse(time.RFC3339, m.LastUpdate); err == nil {
			rec.CreatedAt = upd.UTC()
		}
		if kind == model.KindForecast {
			horizon := target.Sub(now)
			rec.Horizon = &horizon
		}
		records = append(records, rec)
	}
	return records, errs
}
