package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openclimatefix/solar-consumer/internal/pkg/model"
)

// Database wraps one pgx connection for the duration of a run. The schemas it
// writes to (legacy forecasts table, per-site forecast_values) are external
// contracts; this package does not create or migrate them.
type Database struct {
	conn *pgx.Conn
}

func Connect(ctx context.Context, url string) (*Database, error) {
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Database{conn: conn}, nil
}

func NewDatabase(conn *pgx.Conn) *Database {
	return &Database{conn: conn}
}

func (db *Database) Close(ctx context.Context) error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close(ctx)
}

const upsertForecastSQL = `
	INSERT INTO forecasts (entity_id, target_time, source, power_mw, capacity_mw, horizon_minutes, regime, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (entity_id, target_time, source) DO UPDATE
	SET power_mw = EXCLUDED.power_mw,
	    capacity_mw = EXCLUDED.capacity_mw,
	    horizon_minutes = EXCLUDED.horizon_minutes,
	    regime = EXCLUDED.regime,
	    created_at = EXCLUDED.created_at
	WHERE forecasts.created_at <= EXCLUDED.created_at
	RETURNING (xmax = 0) AS inserted;
`

// UpsertForecasts writes one batch to the legacy forecasts table in a single
// transaction. The natural key is (entity_id, target_time, source); an
// existing row is updated in place, last write wins by created_at. A record
// older than the stored revision is counted skipped.
func (db *Database) UpsertForecasts(ctx context.Context, records []model.ForecastRecord) (model.WriteReport, error) {
	var report model.WriteReport

	tx, err := db.conn.Begin(ctx)
	if err != nil {
		return report, err
	}
	defer tx.Rollback(ctx)

	for _, rec := range records {
		var inserted bool
		err := tx.QueryRow(ctx, upsertForecastSQL,
			rec.EntityID,
			rec.TargetTime,
			string(rec.Source),
			rec.PowerMW,
			rec.CapacityMW,
			horizonMinutes(rec.Horizon),
			string(rec.Regime),
			rec.CreatedAt,
		).Scan(&inserted)
		if errors.Is(err, pgx.ErrNoRows) {
			// Stored revision is newer; keep it.
			report.Skipped++
			continue
		}
		if err != nil {
			// The whole transaction rolls back; nothing in this batch lands.
			return model.WriteReport{Failed: len(records)}, err
		}
		if inserted {
			report.Written++
		} else {
			report.Updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.WriteReport{Failed: len(records)}, err
	}
	return report, nil
}

// SiteUUID resolves an entity id to its pre-registered site. The boolean is
// false when no site registration exists.
func (db *Database) SiteUUID(ctx context.Context, clientSiteName string) (string, bool, error) {
	const query = `SELECT site_uuid FROM sites WHERE client_site_name = $1;`

	var uuid string
	err := db.conn.QueryRow(ctx, query, clientSiteName).Scan(&uuid)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return uuid, true, nil
}

const insertSiteForecastSQL = `
	INSERT INTO forecast_values (site_uuid, target_time, source, power_mw, horizon_minutes, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (site_uuid, target_time, source) DO NOTHING;
`

// InsertSiteForecast writes one record to the per-site schema,
// insert-if-absent. Returns false when the row already existed.
func (db *Database) InsertSiteForecast(ctx context.Context, siteUUID string, rec model.ForecastRecord) (bool, error) {
	tag, err := db.conn.Exec(ctx, insertSiteForecastSQL,
		siteUUID,
		rec.TargetTime,
		string(rec.Source),
		rec.PowerMW,
		horizonMinutes(rec.Horizon),
		rec.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func horizonMinutes(h *time.Duration) *int64 {
	if h == nil {
		return nil
	}
	minutes := int64(h.Minutes())
	return &minutes
}
