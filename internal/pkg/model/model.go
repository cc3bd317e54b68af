package model

import (
	"fmt"
	"math"
	"time"
)

// Source identifies the upstream data provider a record came from.
// Immutable once set on a record.
type Source string

const (
	SourcePVLive Source = "pvlive"
	SourceNESO   Source = "neso"
	SourceNedNL  Source = "ned-nl"
	SourceENTSOE Source = "entsoe-de"
	SourceElia   Source = "elia-be"
	SourceRUVNL  Source = "ruvnl"
)

func (s Source) Valid() bool {
	switch s {
	case SourcePVLive, SourceNESO, SourceNedNL, SourceENTSOE, SourceElia, SourceRUVNL:
		return true
	}
	return false
}

// Regime is PVLive's data-revision state. In-day values are provisional and
// revised frequently; day-after values are settled.
type Regime string

const (
	RegimeNone     Regime = ""
	RegimeInDay    Regime = "in-day"
	RegimeDayAfter Regime = "day-after"
)

func (r Regime) Valid() bool {
	return r == RegimeNone || r == RegimeInDay || r == RegimeDayAfter
}

// DataKind selects between settled generation readings and forward-looking
// forecasts. Not every provider supports both.
type DataKind string

const (
	KindGeneration DataKind = "generation"
	KindForecast   DataKind = "forecast"
)

func (k DataKind) Valid() bool {
	return k == KindGeneration || k == KindForecast
}

// SaveMethod selects the sink records are dispatched to.
type SaveMethod string

const (
	SaveCSV    SaveMethod = "csv"
	SaveDB     SaveMethod = "db"
	SaveSiteDB SaveMethod = "site-db"
)

func (m SaveMethod) Valid() bool {
	return m == SaveCSV || m == SaveDB || m == SaveSiteDB
}

// ForecastRecord is the canonical representation every provider payload is
// normalized into. Records are constructed fresh on each run and never
// mutated in place.
type ForecastRecord struct {
	// EntityID is the stable identifier of the generation unit or region,
	// e.g. "gb-gsp-17", "nl-national", a TSO zone mRID.
	EntityID string

	// TargetTime is the time the reading or forecast applies to. Always UTC.
	TargetTime time.Time

	// Horizon is the duration from CreatedAt to TargetTime. Nil for
	// generation actuals.
	Horizon *time.Duration

	// PowerMW is the generation or forecast magnitude in megawatts.
	PowerMW float64

	// CapacityMW is the installed capacity of the entity where the provider
	// reports it, in megawatts. Nil when unknown.
	CapacityMW *float64

	// CreatedAt is when the value was produced or ingested. Always UTC.
	// Used to disambiguate in-day vs day-after revisions of the same
	// TargetTime.
	CreatedAt time.Time

	Source Source
	Regime Regime
}

// ValidationError reports a canonical-model invariant violation on a single
// record. Records failing validation are dropped and counted, never fatal.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid forecast record: %s %s", e.Field, e.Reason)
}

// Validate checks the canonical invariants. It is pure and side-effect free.
func (r ForecastRecord) Validate() error {
	if r.EntityID == "" {
		return &ValidationError{Field: "entity_id", Reason: "is empty"}
	}
	if r.TargetTime.IsZero() {
		return &ValidationError{Field: "target_time", Reason: "is zero"}
	}
	if r.TargetTime.Location() != time.UTC {
		return &ValidationError{Field: "target_time", Reason: "is not UTC"}
	}
	if math.IsNaN(r.PowerMW) || math.IsInf(r.PowerMW, 0) {
		return &ValidationError{Field: "power_mw", Reason: "is not finite"}
	}
	if r.PowerMW < 0 {
		return &ValidationError{Field: "power_mw", Reason: "is negative"}
	}
	if r.CreatedAt.IsZero() {
		return &ValidationError{Field: "created_at", Reason: "is zero"}
	}
	if r.CreatedAt.Location() != time.UTC {
		return &ValidationError{Field: "created_at", Reason: "is not UTC"}
	}
	if !r.Source.Valid() {
		return &ValidationError{Field: "source", Reason: fmt.Sprintf("%q is unknown", r.Source)}
	}
	if !r.Regime.Valid() {
		return &ValidationError{Field: "regime", Reason: fmt.Sprintf("%q is unknown", r.Regime)}
	}
	return nil
}
