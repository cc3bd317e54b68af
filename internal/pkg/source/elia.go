package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openclimatefix/solar-consumer/internal/pkg/model"
	"github.com/openclimatefix/solar-consumer/internal/pkg/window"
)

const (
	eliaPageLimit = 100
	eliaSpan      = 7 * 24 * time.Hour
)

// Elia fetches Belgian solar PV forecasts (national plus regions) from the
// Elia open-data platform. Forecast only; Elia publishes no actuals on this
// dataset.
type Elia struct {
	BaseURL string
	http    *httpClient
	now     func() time.Time
}

func NewElia(client *http.Client) *Elia {
	return &Elia{
		BaseURL: "https://opendata.elia.be/api/explore/v2.1/catalog/datasets/ods032/records",
		http:    newHTTPClient("elia-be", client),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (e *Elia) Source() model.Source { return model.SourceElia }

// Window is a rolling revision window: forecast values for recent target
// times keep being updated, so each run re-fetches the trailing week.
func (e *Elia) Window(now time.Time, _ model.RunRequest) window.Window {
	return window.Rolling(now, eliaSpan)
}

type eliaRecord struct {
	Datetime           string   `json:"datetime"`
	Region             string   `json:"region"`
	MostRecentForecast *float64 `json:"mostrecentforecast"`
}

type eliaPage struct {
	Results []eliaRecord `json:"results"`
}

// Fetch pages backwards through the window by datetime cursor. The offset
// pagination the API also offers caps out well below a week of regional
// records, hence the cursor approach. The cursor steps back one second past
// the last seen record so rows sharing a timestamp cannot stall the loop.
func (e *Elia) Fetch(ctx context.Context, _ model.RunRequest, win window.Window) (Result, error) {
	var (
		raw        []eliaRecord
		cursor     = win.End
		prevCursor time.Time
		havePrev   bool
	)

	for {
		q := url.Values{}
		q.Set("limit", fmt.Sprint(eliaPageLimit))
		q.Set("order_by", "datetime desc")
		q.Set("where", fmt.Sprintf("datetime >= %q AND datetime <= %q",
			win.Start.Format(time.RFC3339), cursor.Format(time.RFC3339)))

		body, err := e.http.get(ctx, e.BaseURL+"?"+q.Encode(), nil)
		if err != nil {
			return Result{}, &FetchError{Source: model.SourceElia, Err: err}
		}

		var page eliaPage
		if err := json.Unmarshal(body, &page); err != nil {
			return Result{}, &FetchError{Source: model.SourceElia, Err: err}
		}
		if len(page.Results) == 0 {
			break
		}
		raw = append(raw, page.Results...)

		last, err := time.Parse(time.RFC3339, page.Results[len(page.Results)-1].Datetime)
		if err != nil {
			break
		}
		cursor = last.UTC().Add(-time.Second)

		if havePrev && !cursor.Before(prevCursor) {
			zap.L().Warn("elia cursor stalled, stopping pagination", zap.Time("cursor", cursor))
			break
		}
		prevCursor, havePrev = cursor, true

		if cursor.Before(win.Start) {
			break
		}
	}

	zap.L().Info("fetched elia records", zap.Int("count", len(raw)))

	records, errs := normalizeElia(raw, e.now())
	for _, nerr := range errs {
		zap.L().Warn("dropping elia row", zap.Error(nerr))
	}
	return Result{Records: records}, nil
}

// normalizeElia maps open-data rows to canonical records. Values are MW at
// source. Rows missing a timestamp, region or forecast value are rejected.
func normalizeElia(raw []eliaRecord, now time.Time) ([]model.ForecastRecord, []error) {
	var (
		records []model.ForecastRecord
		errs    []error
	)
	for _, r := range raw {
		ts, err := time.Parse(time.RFC3339, r.Datetime)
		if err != nil {
			errs = append(errs, fmt.Errorf("elia datetime %q: %w", r.Datetime, err))
			continue
		}
		if r.Region == "" {
			errs = append(errs, fmt.Errorf("elia row at %s has no region", r.Datetime))
			continue
		}
		if r.MostRecentForecast == nil {
			errs = append(errs, fmt.Errorf("elia row at %s (%s) has no forecast value", r.Datetime, r.Region))
			continue
		}

		target := ts.UTC()
		horizon := target.Sub(now)
		if horizon < 0 {
			horizon = 0
		}
		records = append(records, model.ForecastRecord{
			EntityID:   eliaEntityID(r.Region),
			TargetTime: target,
			Horizon:    &horizon,
			PowerMW:    *r.MostRecentForecast,
			CreatedAt:  now,
			Source:     model.SourceElia,
		})
	}
	return records, errs
}

func eliaEntityID(region string) string {
	if strings.EqualFold(region, "Belgium") {
		return "be-national"
	}
	slug := strings.ToLower(strings.TrimSpace(region))
	slug = strings.ReplaceAll(slug, " ", "-")
	return "be-" + slug
}
