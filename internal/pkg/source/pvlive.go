package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openclimatefix/solar-consumer/internal/pkg/model"
	"github.com/openclimatefix/solar-consumer/internal/pkg/window"
)

// retiredGSPs are no longer used by PVLive and must not be queried.
var retiredGSPs = map[int]bool{
	5: true, 17: true, 53: true, 75: true, 139: true, 140: true,
	143: true, 157: true, 163: true, 225: true, 310: true,
}

const pvliveFetchConcurrency = 4

// PVLive fetches settled and provisional GB generation readings per Grid
// Supply Point from the PVLive API.
type PVLive struct {
	BaseURL string
	http    *httpClient
	now     func() time.Time
}

func NewPVLive(client *http.Client) *PVLive {
	return &PVLive{
		BaseURL: "https://api.pvlive.uk/pvlive/api/v4",
		http:    newHTTPClient("pvlive", client),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (p *PVLive) Source() model.Source { return model.SourcePVLive }

func (p *PVLive) Window(now time.Time, req model.RunRequest) window.Window {
	return window.Resolve(now, req.Regime, req.Backfill())
}

// pvliveResponse is the column-oriented payload PVLive returns: meta names
// the columns, data holds one row per reading.
type pvliveResponse struct {
	Data [][]any  `json:"data"`
	Meta []string `json:"meta"`
}

func (p *PVLive) Fetch(ctx context.Context, req model.RunRequest, win window.Window) (Result, error) {
	var (
		mu     sync.Mutex
		result Result
	)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(pvliveFetchConcurrency)

	for gspID := 0; gspID <= req.NGSPs; gspID++ {
		if retiredGSPs[gspID] {
			continue
		}

		eg.Go(func() error {
			entity := gspEntityID(gspID)
			zap.L().Debug("fetching gsp yield",
				zap.Int("gsp_id", gspID),
				zap.Int("n_gsps", req.NGSPs),
				zap.String("regime", string(req.Regime)))

			body, err := p.http.get(ctx, p.gspURL(gspID, win), nil)
			if err != nil {
				mu.Lock()
				result.Failed = append(result.Failed, EntityFailure{
					EntityID: entity,
					Err:      &FetchError{Source: model.SourcePVLive, Entity: entity, Err: err},
				})
				mu.Unlock()
				return nil
			}

			var payload pvliveResponse
			if err := json.Unmarshal(body, &payload); err != nil {
				mu.Lock()
				result.Failed = append(result.Failed, EntityFailure{
					EntityID: entity,
					Err:      &FetchError{Source: model.SourcePVLive, Entity: entity, Err: err},
				})
				mu.Unlock()
				return nil
			}

			records, errs := normalizePVLive(payload, gspID, req.Regime, p.now())
			for _, nerr := range errs {
				zap.L().Warn("dropping pvlive row", zap.String("entity", entity), zap.Error(nerr))
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

func (p *PVLive) gspURL(gspID int, win window.Window) string {
	q := url.Values{}
	q.Set("extra_fields", "installedcapacity_mwp,capacity_mwp,updated_gmt")
	q.Set("data_format", "json")
	// A zero-width window means "latest point only": PVLive returns the most
	// recent reading when no range is given.
	if !win.ZeroWidth() {
		q.Set("start", win.Start.Format(time.RFC3339))
		q.Set("end", win.End.Format(time.RFC3339))
	}
	return fmt.Sprintf("%s/gsp/%d?%s", p.BaseURL, gspID, q.Encode())
}

func gspEntityID(gspID int) string {
	if gspID == 0 {
		return "gb-national"
	}
	return fmt.Sprintf("gb-gsp-%d", gspID)
}

// normalizePVLive maps the column-oriented PVLive payload into canonical
// records. Pure and total: malformed rows are returned as errors, never
// raised.
func normalizePVLive(payload pvliveResponse, gspID int, regime model.Regime, now time.Time) ([]model.ForecastRecord, []error) {
	cols := map[string]int{}
	for i, name := range payload.Meta {
		cols[name] = i
	}
	dtCol, hasDT := cols["datetime_gmt"]
	genCol, hasGen := cols["generation_mw"]
	if !hasDT || !hasGen {
		return nil, []error{fmt.Errorf("pvlive payload missing datetime_gmt/generation_mw columns")}
	}
	capCol, hasCap := cols["capacity_mwp"]
	instCol, hasInst := cols["installedcapacity_mwp"]
	updCol, hasUpd := cols["updated_gmt"]

	// When the GSP reports zero capacity the provider leaves generation null;
	// those readings are genuinely zero, not missing.
	capacitySum := 0.0
	if hasCap {
		for _, row := range payload.Data {
			if v, ok := floatAt(row, capCol); ok {
				capacitySum += v
			}
		}
	}

	var (
		records []model.ForecastRecord
		errs    []error
	)
	for _, row := range payload.Data {
		ts, ok := timeAt(row, dtCol)
		if !ok {
			errs = append(errs, fmt.Errorf("gsp %d: unparseable datetime_gmt %v", gspID, valueAt(row, dtCol)))
			continue
		}

		gen, ok := floatAt(row, genCol)
		if !ok {
			if hasCap && capacitySum == 0 {
				gen = 0
			} else {
				// Trailing reading not yet settled; PVLive backfills it on
				// the next run.
				continue
			}
		}

		rec := model.ForecastRecord{
			EntityID:   gspEntityID(gspID),
			TargetTime: ts,
			PowerMW:    gen,
			CreatedAt:  now,
			Source:     model.SourcePVLive,
			Regime:     regime,
		}
		if hasInst {
			if v, ok := floatAt(row, instCol); ok {
				rec.CapacityMW = &v
			}
		}
		if hasUpd {
			if upd, ok := timeAt(row, updCol); ok {
				rec.CreatedAt = upd
			}
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].TargetTime.Before(records[j].TargetTime) })
	return records, errs
}

func valueAt(row []any, col int) any {
	if col < 0 || col >= len(row) {
		return nil
	}
	return row[col]
}

func floatAt(row []any, col int) (float64, bool) {
	v, ok := valueAt(row, col).(float64)
	return v, ok
}

func timeAt(row []any, col int) (time.Time, bool) {
	s, ok := valueAt(row, col).(string)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}
