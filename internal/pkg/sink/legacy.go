package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/openclimatefix/solar-consumer/internal/pkg/model"
)

// legacyStore is what the legacy sink needs from the database layer.
type legacyStore interface {
	UpsertForecasts(ctx context.Context, records []model.ForecastRecord) (model.WriteReport, error)
	Close(ctx context.Context) error
}

// Legacy writes to the aggregate forecasts table with upsert-on-natural-key
// semantics. Re-running the same input updates rows in place and never
// duplicates them.
type Legacy struct {
	store legacyStore
}

func NewLegacy(store legacyStore) *Legacy {
	return &Legacy{store: store}
}

func (s *Legacy) Write(ctx context.Context, records []model.ForecastRecord) (model.WriteReport, error) {
	if len(records) == 0 {
		return model.WriteReport{}, nil
	}

	report, err := s.store.UpsertForecasts(ctx, records)
	if err != nil {
		return report, &SinkWriteError{Method: model.SaveDB, Err: err}
	}

	zap.L().Info("upserted forecasts",
		zap.Int("written", report.Written),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped))
	return report, nil
}

func (s *Legacy) Close(ctx context.Context) error {
	return s.store.Close(ctx)
}
