package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/openclimatefix/solar-consumer/internal/pkg/model"
)

// Config is the raw, stringly-typed configuration as collected from CLI
// flags. Build converts it into a validated model.RunRequest.
type Config struct {
	Country       string
	DataKind      string
	SaveMethod    string
	CSVDir        string
	DatabaseURL   string
	Regime        string
	NGSPs         int
	BackfillHours int

	FailureThreshold float64
	LogLevel         string
}

// Credentials holds provider API keys, parsed from the environment once at
// startup.
type Credentials struct {
	NedAPIKey    string `env:"NED_API_KEY"`
	EntsoeAPIKey string `env:"ENTSOE_API_KEY"`
}

// ConfigurationError is fatal: the run aborts before any fetch.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s=%q %s", e.Field, e.Value, e.Reason)
}

// supported (country, kind) combinations. A country missing a kind here is a
// configuration error, not a fetch error.
var supportedKinds = map[string]map[model.DataKind]bool{
	"gb":            {model.KindGeneration: true, model.KindForecast: true},
	"nl":            {model.KindGeneration: true, model.KindForecast: true},
	"de":            {model.KindGeneration: true},
	"be":            {model.KindForecast: true},
	"ind_rajasthan": {model.KindGeneration: true},
}

// LoadCredentials parses provider API keys from the environment.
func LoadCredentials() (Credentials, error) {
	var creds Credentials
	if err := env.Parse(&creds); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// Build validates the raw config and produces the immutable RunRequest the
// pipeline runs with.
func Build(cfg Config, creds Credentials) (model.RunRequest, error) {
	kinds, ok := supportedKinds[cfg.Country]
	if !ok {
		return model.RunRequest{}, &ConfigurationError{Field: "COUNTRY", Value: cfg.Country, Reason: "is not a supported country"}
	}

	kind := model.DataKind(cfg.DataKind)
	if !kind.Valid() {
		return model.RunRequest{}, &ConfigurationError{Field: "HISTORIC_OR_FORECAST", Value: cfg.DataKind, Reason: "must be generation or forecast"}
	}
	if !kinds[kind] {
		return model.RunRequest{}, &ConfigurationError{
			Field:  "HISTORIC_OR_FORECAST",
			Value:  cfg.DataKind,
			Reason: fmt.Sprintf("is not supported for country %q", cfg.Country),
		}
	}

	method := model.SaveMethod(cfg.SaveMethod)
	if !method.Valid() {
		return model.RunRequest{}, &ConfigurationError{Field: "SAVE_METHOD", Value: cfg.SaveMethod, Reason: "must be db, csv or site-db"}
	}
	if method == model.SaveCSV && cfg.CSVDir == "" {
		return model.RunRequest{}, &ConfigurationError{Field: "CSV_DIR", Value: "", Reason: "is required when SAVE_METHOD is csv"}
	}
	if method != model.SaveCSV && cfg.DatabaseURL == "" {
		return model.RunRequest{}, &ConfigurationError{Field: "DB_URL", Value: "", Reason: "is required when SAVE_METHOD is db or site-db"}
	}

	regime := model.Regime(cfg.Regime)
	if !regime.Valid() {
		return model.RunRequest{}, &ConfigurationError{Field: "UK_PVLIVE_REGIME", Value: cfg.Regime, Reason: "must be in-day or day-after"}
	}
	if cfg.Country == "gb" && kind == model.KindGeneration && regime == model.RegimeNone {
		regime = model.RegimeInDay
	}

	if cfg.NGSPs <= 0 {
		return model.RunRequest{}, &ConfigurationError{Field: "UK_PVLIVE_N_GSPS", Value: fmt.Sprint(cfg.NGSPs), Reason: "must be positive"}
	}
	if cfg.BackfillHours < 0 {
		return model.RunRequest{}, &ConfigurationError{Field: "UK_PVLIVE_BACKFILL_HOURS", Value: fmt.Sprint(cfg.BackfillHours), Reason: "must be non-negative"}
	}

	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 0.5
	}
	if threshold < 0 || threshold > 1 {
		return model.RunRequest{}, &ConfigurationError{Field: "FAILURE_THRESHOLD", Value: fmt.Sprint(cfg.FailureThreshold), Reason: "must be within [0, 1]"}
	}

	return model.RunRequest{
		Country:          cfg.Country,
		DataKind:         kind,
		SaveMethod:       method,
		CSVDir:           cfg.CSVDir,
		DatabaseURL:      cfg.DatabaseURL,
		Regime:           regime,
		NGSPs:            cfg.NGSPs,
		BackfillHours:    cfg.BackfillHours,
		FailureThreshold: threshold,
		NedAPIKey:        creds.NedAPIKey,
		EntsoeAPIKey:     creds.EntsoeAPIKey,
	}, nil
}
