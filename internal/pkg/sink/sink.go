// Package sink dispatches canonical records to the configured persistence
// target. Each sink owns its idempotency strategy: CSV is append-only,
// the legacy table upserts on its natural key, the per-site schema inserts
// if absent against registered sites.
package sink

import (
	"context"
	"fmt"

	"github.com/openclimatefix/solar-consumer/internal/pkg/database"
	"github.com/openclimatefix/solar-consumer/internal/pkg/model"
)

// Sink writes one batch of canonical records and accounts for every one of
// them in the report.
type Sink interface {
	Write(ctx context.Context, records []model.ForecastRecord) (model.WriteReport, error)
	Close(ctx context.Context) error
}

// SinkWriteError wraps a write failure that aborts the remaining records of a
// batch. Records committed before the failure stay committed.
type SinkWriteError struct {
	Method model.SaveMethod
	Err    error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("%s sink: %v", e.Method, e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }

// ForSaveMethod builds the sink for a validated request. db may be nil for
// the CSV method.
func ForSaveMethod(req model.RunRequest, db *database.Database) (Sink, error) {
	switch req.SaveMethod {
	case model.SaveCSV:
		return NewCSV(req.CSVDir), nil
	case model.SaveDB:
		return NewLegacy(db), nil
	case model.SaveSiteDB:
		return NewSiteDB(db), nil
	}
	return nil, fmt.Errorf("unknown save method %q", req.SaveMethod)
}
