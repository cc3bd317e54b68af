// Package source holds one adapter per upstream data provider. Each adapter
// owns its raw fetch and the mapping of the provider's payload into canonical
// forecast records.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openclimatefix/solar-consumer/internal/pkg/model"
	"github.com/openclimatefix/solar-consumer/internal/pkg/window"
)

// ErrUnsupported is returned by ForRequest when no adapter serves the
// requested country and data kind. It is a configuration problem, fatal to
// the run.
var ErrUnsupported = errors.New("no adapter for requested country and data kind")

// EntityFailure records one entity whose fetch never succeeded. The rest of
// the window is still returned.
type EntityFailure struct {
	EntityID string
	Err      error
}

// Result is what an adapter hands back: the canonical records it could
// produce, plus a manifest of entities it could not fetch.
type Result struct {
	Records []model.ForecastRecord
	Failed  []EntityFailure
}

// FetchError wraps a transient provider failure for one entity or
// sub-request.
type FetchError struct {
	Source model.Source
	Entity string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s: fetch %s: %v", e.Source, e.Entity, e.Err)
	}
	return fmt.Sprintf("%s: fetch: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Adapter is the per-provider contract. Window computes the provider's fetch
// range for the request; Fetch performs network I/O and returns normalized
// records. Normalization itself is pure: malformed rows become tagged errors
// or dropped records, never panics.
type Adapter interface {
	Source() model.Source
	Window(now time.Time, req model.RunRequest) window.Window
	Fetch(ctx context.Context, req model.RunRequest, win window.Window) (Result, error)
}

// ForRequest selects the adapter for a validated run request.
func ForRequest(req model.RunRequest, client *http.Client) (Adapter, error) {
	switch {
	case req.Country == "gb" && req.DataKind == model.KindGeneration:
		return NewPVLive(client), nil
	case req.Country == "gb" && req.DataKind == model.KindForecast:
		return NewNESO(client), nil
	case req.Country == "nl":
		return NewNed(client), nil
	case req.Country == "de" && req.DataKind == model.KindGeneration:
		return NewENTSOE(client), nil
	case req.Country == "be" && req.DataKind == model.KindForecast:
		return NewElia(client), nil
	case req.Country == "ind_rajasthan" && req.DataKind == model.KindGeneration:
		return NewRUVNL(client), nil
	}
	return nil, fmt.Errorf("%w: country=%q kind=%q", ErrUnsupported, req.Country, req.DataKind)
}
