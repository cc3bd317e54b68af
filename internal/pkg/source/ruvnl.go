package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/openclimatefix/solar-consumer/internal/pkg/model"
	"github.com/openclimatefix/solar-consumer/internal/pkg/window"
)

const ruvnlSolarEntity = "in-rajasthan-solar"

// scada names in the RUVNL overview feed. The feed combines solar and wind;
// this pipeline keeps solar only and discards wind rather than failing.
var ruvnlAssets = map[string]string{
	"SOLAR GEN": "solar",
	"WIND GEN":  "wind",
}

// RUVNL fetches the latest state-wide Rajasthan generation snapshot. The feed
// publishes a single point in time, not a series.
type RUVNL struct {
	URL  string
	http *httpClient
	now  func() time.Time
}

func NewRUVNL(client *http.Client) *RUVNL {
	return &RUVNL{
		URL:  "http://sldc.rajasthan.gov.in/rrvpnl/read-sftp?type=overview",
		http: newHTTPClient("ruvnl", client),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *RUVNL) Source() model.Source { return model.SourceRUVNL }

func (r *RUVNL) Window(now time.Time, _ model.RunRequest) window.Window {
	return window.Rolling(now, time.Hour)
}

type ruvnlReading struct {
	ScadaName     string  `json:"scada_name"`
	AverageMW     float64 `json:"Average2"`
	SourceTimeSec any     `json:"SourceTimeSec"`
}

type ruvnlPayload struct {
	Data []map[string]ruvnlReading `json:"data"`
}

func (r *RUVNL) Fetch(ctx context.Context, _ model.RunRequest, _ window.Window) (Result, error) {
	body, err := r.http.get(ctx, r.URL, nil)
	if err != nil {
		return Result{}, &FetchError{Source: model.SourceRUVNL, Err: err}
	}

	var payload ruvnlPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Result{}, &FetchError{Source: model.SourceRUVNL, Err: err}
	}

	records, errs := normalizeRUVNL(payload, r.now())
	for _, nerr := range errs {
		zap.L().Warn("dropping ruvnl reading", zap.Error(nerr))
	}
	return Result{Records: records}, nil
}

// normalizeRUVNL extracts the solar reading from the combined feed. Wind rows
// are filtered out, negative readings dropped, and stale timestamps logged
// but kept.
func normalizeRUVNL(payload ruvnlPayload, now time.Time) ([]model.ForecastRecord, []error) {
	readings := lo.FilterMap(payload.Data, func(row map[string]ruvnlReading, _ int) (ruvnlReading, bool) {
		reading, ok := row["0"]
		return reading, ok
	})

	var (
		records []model.ForecastRecord
		errs    []error
	)
	for _, reading := range readings {
		asset, known := ruvnlAssets[reading.ScadaName]
		if !known {
			continue
		}
		if asset == "wind" {
			// Combined feed; wind is out of scope for this pipeline.
			continue
		}

		ts, err := parseEpochSeconds(reading.SourceTimeSec)
		if err != nil {
			errs = append(errs, fmt.Errorf("ruvnl %s timestamp: %w", asset, err))
			continue
		}
		if reading.AverageMW < 0 {
			errs = append(errs, fmt.Errorf("ruvnl %s reading is negative: %f MW", asset, reading.AverageMW))
			continue
		}
		if now.Sub(ts) > time.Hour {
			zap.L().Warn("ruvnl reading is stale",
				zap.String("asset", asset),
				zap.Time("reading_time", ts),
				zap.Time("now", now))
		}

		records = append(records, model.ForecastRecord{
			EntityID:   ruvnlSolarEntity,
			TargetTime: ts,
			PowerMW:    reading.AverageMW,
			CreatedAt:  now,
			Source:     model.SourceRUVNL,
		})
	}
	return records, errs
}

// parseEpochSeconds accepts the epoch timestamp the feed serves either as a
// JSON number or a string.
func parseEpochSeconds(v any) (time.Time, error) {
	switch t := v.(type) {
	case float64:
		return time.Unix(int64(t), 0).UTC(), nil
	case string:
		var sec int64
		if _, err := fmt.Sscanf(t, "%d", &sec); err != nil {
			return time.Time{}, fmt.Errorf("epoch %q: %w", t, err)
		}
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("epoch has unexpected type %T", v)
}
