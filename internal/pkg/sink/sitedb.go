package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/openclimatefix/solar-consumer/internal/pkg/model"
)

// siteStore is what the per-site sink needs from the database layer.
type siteStore interface {
	SiteUUID(ctx context.Context, clientSiteName string) (string, bool, error)
	InsertSiteForecast(ctx context.Context, siteUUID string, rec model.ForecastRecord) (bool, error)
	Close(ctx context.Context) error
}

// SiteDB writes to the per-site schema. Records require a pre-existing site
// registration; a record for an unknown entity is skipped and reported, its
// siblings in the batch are still written.
type SiteDB struct {
	store siteStore

	// sites caches entity -> site uuid lookups for the run. Empty string
	// marks a known-missing registration.
	sites map[string]string
}

func NewSiteDB(store siteStore) *SiteDB {
	return &SiteDB{
		store: store,
		sites: make(map[string]string),
	}
}

func (s *SiteDB) Write(ctx context.Context, records []model.ForecastRecord) (model.WriteReport, error) {
	var report model.WriteReport

	for i, rec := range records {
		uuid, err := s.resolveSite(ctx, rec.EntityID)
		if err != nil {
			report.Failed = len(records) - i
			return report, &SinkWriteError{Method: model.SaveSiteDB, Err: err}
		}
		if uuid == "" {
			zap.L().Warn("no site registration for entity, skipping record",
				zap.String("entity_id", rec.EntityID))
			report.Skipped++
			report.SkippedEntities = appendUnique(report.SkippedEntities, rec.EntityID)
			continue
		}

		inserted, err := s.store.InsertSiteForecast(ctx, uuid, rec)
		if err != nil {
			// Connection-level failure: abort the rest of the batch, keep
			// what is already committed.
			report.Failed = len(records) - i
			return report, &SinkWriteError{Method: model.SaveSiteDB, Err: err}
		}
		if inserted {
			report.Written++
		} else {
			report.Skipped++
		}
	}
	return report, nil
}

func (s *SiteDB) Close(ctx context.Context) error {
	return s.store.Close(ctx)
}

func (s *SiteDB) resolveSite(ctx context.Context, entityID string) (string, error) {
	if uuid, seen := s.sites[entityID]; seen {
		return uuid, nil
	}
	uuid, found, err := s.store.SiteUUID(ctx, entityID)
	if err != nil {
		return "", err
	}
	if !found {
		uuid = ""
	}
	s.sites[entityID] = uuid
	return uuid, nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
