package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/openclimatefix/solar-consumer/internal/pkg/model"
	"github.com/openclimatefix/solar-consumer/internal/pkg/window"
)

// NESO fetches the national embedded solar forecast published by the GB
// system operator. National aggregate only; no per-GSP breakdown.
type NESO struct {
	BaseURL string
	http    *httpClient
	now     func() time.Time
}

func NewNESO(client *http.Client) *NESO {
	return &NESO{
		BaseURL: "https://api.neso.energy",
		http:    newHTTPClient("neso", client),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (n *NESO) Source() model.Source { return model.SourceNESO }

// Window is nominal for NESO: the API publishes one rolling forecast file and
// the fetch always takes the latest publication in full.
func (n *NESO) Window(now time.Time, _ model.RunRequest) window.Window {
	return window.Ahead(now, 14*24*time.Hour)
}

type nesoDatapackage struct {
	Result struct {
		Resources []struct {
			Path string `json:"path"`
		} `json:"resources"`
	} `json:"result"`
}

func (n *NESO) Fetch(ctx context.Context, _ model.RunRequest, _ window.Window) (Result, error) {
	metaURL := n.BaseURL + "/api/3/action/datapackage_show?id=embedded-wind-and-solar-forecasts"
	body, err := n.http.get(ctx, metaURL, nil)
	if err != nil {
		return Result{}, &FetchError{Source: model.SourceNESO, Err: err}
	}

	var meta nesoDatapackage
	if err := json.Unmarshal(body, &meta); err != nil {
		return Result{}, &FetchError{Source: model.SourceNESO, Err: err}
	}
	if len(meta.Result.Resources) == 0 {
		return Result{}, &FetchError{Source: model.SourceNESO, Err: fmt.Errorf("datapackage has no resources")}
	}

	// Resources are ordered newest first; the head is the current forecast.
	path := meta.Result.Resources[0].Path
	zap.L().Info("fetching neso forecast publication", zap.String("path", path))

	csvBody, err := n.http.get(ctx, path, nil)
	if err != nil {
		return Result{}, &FetchError{Source: model.SourceNESO, Err: err}
	}

	records, errs := normalizeNESO(csvBody, n.now())
	for _, nerr := range errs {
		zap.L().Warn("dropping neso row", zap.Error(nerr))
	}
	return Result{Records: records}, nil
}

// normalizeNESO parses the published CSV. Dates and times arrive split over
// DATE_GMT and TIME_GMT columns and the forecast is already in MW.
func normalizeNESO(csvBody []byte, now time.Time) ([]model.ForecastRecord, []error) {
	reader := csv.NewReader(bytes.NewReader(csvBody))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, []error{fmt.Errorf("neso csv: %w", err)}
	}
	dateCol := lo.IndexOf(header, "DATE_GMT")
	timeCol := lo.IndexOf(header, "TIME_GMT")
	solarCol := lo.IndexOf(header, "EMBEDDED_SOLAR_FORECAST")
	if dateCol < 0 || timeCol < 0 || solarCol < 0 {
		return nil, []error{fmt.Errorf("neso csv missing expected columns, got %v", header)}
	}

	var (
		records []model.ForecastRecord
		errs    []error
	)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("neso csv row: %w", err))
			continue
		}
		if solarCol >= len(row) || dateCol >= len(row) || timeCol >= len(row) {
			errs = append(errs, fmt.Errorf("neso csv row too short: %v", row))
			continue
		}

		ts, err := parseNESOTimestamp(row[dateCol], row[timeCol])
		if err != nil {
			errs = append(errs, err)
			continue
		}

		mw, err := strconv.ParseFloat(strings.TrimSpace(row[solarCol]), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("neso forecast value %q: %w", row[solarCol], err))
			continue
		}

		horizon := ts.Sub(now)
		records = append(records, model.ForecastRecord{
			EntityID:   "gb-national",
			TargetTime: ts,
			Horizon:    &horizon,
			PowerMW:    mw,
			CreatedAt:  now,
			Source:     model.SourceNESO,
		})
	}
	return records, errs
}

// parseNESOTimestamp combines the date prefix of DATE_GMT with TIME_GMT.
// DATE_GMT sometimes carries a trailing midnight time component, hence the
// 10-char truncation.
func parseNESOTimestamp(date, clock string) (time.Time, error) {
	date = strings.TrimSpace(date)
	if len(date) > 10 {
		date = date[:10]
	}
	ts, err := time.Parse("2006-01-02 15:04", date+" "+strings.TrimSpace(clock))
	if err != nil {
		return time.Time{}, fmt.Errorf("neso timestamp %q %q: %w", date, clock, err)
	}
	return ts.UTC(), nil
}
