package model

import "time"

// RunRequest carries the full configuration of one pipeline invocation. It is
// built once from environment/CLI input at process start and passed through
// the pipeline unchanged; adapters and sinks never read the environment
// themselves.
type RunRequest struct {
	Country    string
	DataKind   DataKind
	SaveMethod SaveMethod

	CSVDir      string
	DatabaseURL string

	// PVLive windowing parameters.
	Regime        Regime
	NGSPs         int
	BackfillHours int

	// FailureThreshold is the ratio of failed entities above which a run
	// transitions to the failed state instead of reporting partial results.
	FailureThreshold float64

	// Provider credentials, loaded once from the environment.
	NedAPIKey    string
	EntsoeAPIKey string
}

// Backfill returns the in-day backfill window as a duration.
func (r RunRequest) Backfill() time.Duration {
	return time.Duration(r.BackfillHours) * time.Hour
}
