package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openclimatefix/solar-consumer/internal/pkg/model"
	"github.com/openclimatefix/solar-consumer/internal/pkg/window"
)

const (
	entsoeDocumentType = "A75" // actual generation per type
	entsoeProcessType  = "A16" // realised
	entsoePsrSolar     = "B16"
	entsoeDomainDE     = "10Y1001A1001A82H"
)

// ENTSOE fetches realised German solar generation from the ENTSO-E
// transparency platform. Entities are TSO bidding-zone codes.
type ENTSOE struct {
	BaseURL string
	http    *httpClient
	now     func() time.Time
}

func NewENTSOE(client *http.Client) *ENTSOE {
	return &ENTSOE{
		BaseURL: "https://web-api.tp.entsoe.eu/api",
		http:    newHTTPClient("entsoe-de", client),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (e *ENTSOE) Source() model.Source { return model.SourceENTSOE }

func (e *ENTSOE) Window(now time.Time, _ model.RunRequest) window.Window {
	return window.Rolling(now, 24*time.Hour)
}

type entsoeDocument struct {
	TimeSeries []entsoeTimeSeries `xml:"TimeSeries"`
}

type entsoeTimeSeries struct {
	Zone    string         `xml:"inBiddingZone_Domain.mRID"`
	PsrType string         `xml:"MktPSRType>psrType"`
	Unit    string         `xml:"quantity_Measure_Unit.name"`
	Periods []entsoePeriod `xml:"Period"`
}

type entsoePeriod struct {
	Start      string        `xml:"timeInterval>start"`
	Resolution string        `xml:"resolution"`
	Points     []entsoePoint `xml:"Point"`
}

type entsoePoint struct {
	Position int    `xml:"position"`
	Quantity string `xml:"quantity"`
}

func (e *ENTSOE) Fetch(ctx context.Context, req model.RunRequest, win window.Window) (Result, error) {
	if req.EntsoeAPIKey == "" {
		return Result{}, &FetchError{Source: model.SourceENTSOE, Err: fmt.Errorf("ENTSOE_API_KEY is not set")}
	}

	q := url.Values{}
	q.Set("documentType", entsoeDocumentType)
	q.Set("processType", entsoeProcessType)
	q.Set("in_Domain", entsoeDomainDE)
	q.Set("psrType", entsoePsrSolar)
	q.Set("periodStart", win.Start.Format("200601021504"))
	q.Set("periodEnd", win.End.Format("200601021504"))
	q.Set("securityToken", req.EntsoeAPIKey)

	body, err := e.http.get(ctx, e.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Result{}, &FetchError{Source: model.SourceENTSOE, Err: err}
	}

	records, errs := normalizeENTSOE(body, e.now())
	for _, nerr := range errs {
		zap.L().Warn("dropping entsoe point", zap.Error(nerr))
	}
	return Result{Records: records}, nil
}

// normalizeENTSOE parses the GL_MarketDocument payload. Each TimeSeries is
// one TSO zone; point timestamps are derived from the period start plus
// (position-1) steps of the period resolution. Quantities are normalized to
// MW whatever unit the document declares.
func normalizeENTSOE(body []byte, now time.Time) ([]model.ForecastRecord, []error) {
	var doc entsoeDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, []error{fmt.Errorf("entsoe document: %w", err)}
	}

	var (
		records []model.ForecastRecord
		errs    []error
	)
	for _, ts := range doc.TimeSeries {
		if ts.PsrType != "" && ts.PsrType != entsoePsrSolar {
			continue
		}

		scale, err := entsoeUnitScale(ts.Unit)
		if err != nil {
			errs = append(errs, fmt.Errorf("zone %s: %w", ts.Zone, err))
			continue
		}

		for _, period := range ts.Periods {
			start, err := parseENTSOETime(period.Start)
			if err != nil {
				errs = append(errs, fmt.Errorf("zone %s: %w", ts.Zone, err))
				continue
			}
			step, err := parseENTSOEResolution(period.Resolution)
			if err != nil {
				errs = append(errs, fmt.Errorf("zone %s: %w", ts.Zone, err))
				continue
			}

			for _, pt := range period.Points {
				qty, err := strconv.ParseFloat(strings.TrimSpace(pt.Quantity), 64)
				if err != nil {
					errs = append(errs, fmt.Errorf("zone %s: quantity %q: %w", ts.Zone, pt.Quantity, err))
					continue
				}
				if pt.Position < 1 {
					errs = append(errs, fmt.Errorf("zone %s: point position %d", ts.Zone, pt.Position))
					continue
				}

				records = append(records, model.ForecastRecord{
					EntityID:   ts.Zone,
					TargetTime: start.Add(time.Duration(pt.Position-1) * step),
					PowerMW:    qty * scale,
					CreatedAt:  now,
					Source:     model.SourceENTSOE,
				})
			}
		}
	}
	return records, errs
}

// entsoeUnitScale converts the document's measure unit into a factor to MW.
// Documents usually declare MAW but kW and GW variants exist.
func entsoeUnitScale(unit string) (float64, error) {
	switch strings.ToUpper(strings.TrimSpace(unit)) {
	case "", "MAW", "MWT", "MW":
		return 1, nil
	case "KWT", "KW":
		return 1.0 / 1000, nil
	case "GWT", "GW":
		return 1000, nil
	}
	return 0, fmt.Errorf("unknown measure unit %q", unit)
}

func parseENTSOETime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04Z07:00"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable interval start %q", s)
}

func parseENTSOEResolution(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "PT1H":
		return time.Hour, nil
	case strings.HasPrefix(s, "PT") && strings.HasSuffix(s, "M"):
		minutes, err := strconv.Atoi(s[2 : len(s)-1])
		if err != nil {
			return 0, fmt.Errorf("unparseable resolution %q", s)
		}
		return time.Duration(minutes) * time.Minute, nil
	}
	return 0, fmt.Errorf("unsupported resolution %q", s)
}
