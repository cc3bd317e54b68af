package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/openclimatefix/solar-consumer/internal/pkg/model"
)

// csvHeader is the canonical column order. Timestamps are RFC3339 UTC,
// power and capacity are MW decimals, horizon is minutes.
var csvHeader = []string{
	"entity_id", "target_time", "horizon_minutes", "power_mw",
	"capacity_mw", "created_at", "source", "regime",
}

// CSV appends records to one file per run date. Append-only: duplicate rows
// across re-runs are acceptable, partial writes must not corrupt the file.
type CSV struct {
	Dir string
	now func() time.Time
}

func NewCSV(dir string) *CSV {
	return &CSV{
		Dir: dir,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *CSV) Write(ctx context.Context, records []model.ForecastRecord) (model.WriteReport, error) {
	var report model.WriteReport
	if len(records) == 0 {
		return report, nil
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return model.WriteReport{Failed: len(records)}, &SinkWriteError{Method: model.SaveCSV, Err: err}
	}

	path := filepath.Join(s.Dir, fmt.Sprintf("forecasts_%s.csv", s.now().Format("2006-01-02")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return model.WriteReport{Failed: len(records)}, &SinkWriteError{Method: model.SaveCSV, Err: err}
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return model.WriteReport{Failed: len(records)}, &SinkWriteError{Method: model.SaveCSV, Err: err}
	}

	writer := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := writer.Write(csvHeader); err != nil {
			return model.WriteReport{Failed: len(records)}, &SinkWriteError{Method: model.SaveCSV, Err: err}
		}
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			writer.Flush()
			report.Failed = len(records) - report.Written
			return report, err
		}
		if err := writer.Write(csvRow(rec)); err != nil {
			writer.Flush()
			report.Failed = len(records) - report.Written
			return report, &SinkWriteError{Method: model.SaveCSV, Err: err}
		}
		report.Written++
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return model.WriteReport{Failed: len(records)}, &SinkWriteError{Method: model.SaveCSV, Err: err}
	}

	zap.L().Info("appended forecasts to csv", zap.String("path", path), zap.Int("rows", report.Written))
	return report, nil
}

func (s *CSV) Close(context.Context) error { return nil }

func csvRow(rec model.ForecastRecord) []string {
	horizon := ""
	if rec.Horizon != nil {
		horizon = strconv.FormatInt(int64(rec.Horizon.Minutes()), 10)
	}
	capacity := ""
	if rec.CapacityMW != nil {
		capacity = strconv.FormatFloat(*rec.CapacityMW, 'f', -1, 64)
	}
	return []string{
		rec.EntityID,
		rec.TargetTime.Format(time.RFC3339),
		horizon,
		strconv.FormatFloat(rec.PowerMW, 'f', -1, 64),
		capacity,
		rec.CreatedAt.Format(time.RFC3339),
		string(rec.Source),
		string(rec.Regime),
	}
}

// ParseCSVRow decodes one data row written by this sink. Used for re-reading
// output in verification tooling and tests.
func ParseCSVRow(row []string) (model.ForecastRecord, error) {
	if len(row) != len(csvHeader) {
		return model.ForecastRecord{}, fmt.Errorf("csv row has %d columns, want %d", len(row), len(csvHeader))
	}

	target, err := time.Parse(time.RFC3339, row[1])
	if err != nil {
		return model.ForecastRecord{}, fmt.Errorf("target_time %q: %w", row[1], err)
	}
	created, err := time.Parse(time.RFC3339, row[5])
	if err != nil {
		return model.ForecastRecord{}, fmt.Errorf("created_at %q: %w", row[5], err)
	}
	power, err := strconv.ParseFloat(row[3], 64)
	if err != nil {
		return model.ForecastRecord{}, fmt.Errorf("power_mw %q: %w", row[3], err)
	}

	rec := model.ForecastRecord{
		EntityID:   row[0],
		TargetTime: target.UTC(),
		PowerMW:    power,
		CreatedAt:  created.UTC(),
		Source:     model.Source(row[6]),
		Regime:     model.Regime(row[7]),
	}
	if row[2] != "" {
		minutes, err := strconv.ParseInt(row[2], 10, 64)
		if err != nil {
			return model.ForecastRecord{}, fmt.Errorf("horizon_minutes %q: %w", row[2], err)
		}
		horizon := time.Duration(minutes) * time.Minute
		rec.Horizon = &horizon
	}
	if row[4] != "" {
		capacity, err := strconv.ParseFloat(row[4], 64)
		if err != nil {
			return model.ForecastRecord{}, fmt.Errorf("capacity_mw %q: %w", row[4], err)
		}
		rec.CapacityMW = &capacity
	}
	return rec, nil
}
