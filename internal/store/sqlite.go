// Package store persists reference data, run bookkeeping and the latest
// forecast table in sqlite.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/lox/surfcast/internal/models"
)

type Store struct {
	db     *sql.DB
	loc    *time.Location
	logger *slog.Logger
}

// New wraps db. Timestamps are written in UTC and forecasts are read back in
// loc.
func New(db *sql.DB, loc *time.Location, logger *slog.Logger) *Store {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, loc: loc, logger: logger.With("component", "store")}
}

func (s *Store) UpsertStations(stations []models.Station) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, st := range stations {
		if _, err := tx.Exec(`
			INSERT INTO stations (station_id, wmo_id, name, latitude, longitude, elevation, parameters, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(station_id) DO UPDATE SET
				wmo_id = excluded.wmo_id,
				name = excluded.name,
				latitude = excluded.latitude,
				longitude = excluded.longitude,
				elevation = excluded.elevation,
				parameters = excluded.parameters,
				updated_at = excluded.updated_at
		`, st.ID, st.WMOID, st.Name, st.Latitude, st.Longitude, nullFloat(st.Elevation), strings.Join(st.Parameters, ","), now); err != nil {
			return fmt.Errorf("upsert station %s: %w", st.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Stations() ([]models.Station, error) {
	rows, err := s.db.Query(`SELECT station_id, wmo_id, name, latitude, longitude, elevation, parameters FROM stations ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		var st models.Station
		var wmo, params sql.NullString
		var elev sql.NullFloat64
		if err := rows.Scan(&st.ID, &wmo, &st.Name, &st.Latitude, &st.Longitude, &elev, &params); err != nil {
			return nil, err
		}
		st.WMOID = wmo.String
		st.Elevation = floatOrNaN(elev)
		if params.String != "" {
			st.Parameters = strings.Split(params.String, ",")
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

// ReplaceParamStations swaps the whole parameter/station map, pruned pairs
// included, for pairs.
func (s *Store) ReplaceParamStations(pairs []models.ParamStation) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM param_stations`); err != nil {
		return fmt.Errorf("clear param stations: %w", err)
	}
	now := time.Now().UTC()
	for _, p := range pairs {
		if _, err := tx.Exec(`
			INSERT INTO param_stations (parameter, station_name, latitude, longitude, elevation, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(parameter, station_name) DO NOTHING
		`, p.Parameter, p.StationName, p.Latitude, p.Longitude, nullFloat(p.Elevation), now); err != nil {
			return fmt.Errorf("insert param station %s: %w", p.Pair(), err)
		}
	}
	return tx.Commit()
}

// ActiveParamStations returns the pairs that have not been pruned.
func (s *Store) ActiveParamStations() ([]models.ParamStation, error) {
	rows, err := s.db.Query(`
		SELECT id, parameter, station_name, latitude, longitude, elevation, pruned_at
		FROM param_stations
		WHERE pruned_at IS NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []models.ParamStation
	for rows.Next() {
		var p models.ParamStation
		var elev sql.NullFloat64
		if err := rows.Scan(&p.ID, &p.Parameter, &p.StationName, &p.Latitude, &p.Longitude, &elev, &p.PrunedAt); err != nil {
			return nil, err
		}
		p.Elevation = floatOrNaN(elev)
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// PruneParamStations marks pairs as pruned. Pruned pairs are never
// reactivated except by ReplaceParamStations.
func (s *Store) PruneParamStations(pairs []models.ParamStation, at time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var pruned int64
	for _, p := range pairs {
		res, err := tx.Exec(`
			UPDATE param_stations SET pruned_at = ?
			WHERE parameter = ? AND station_name = ? AND pruned_at IS NULL
		`, at.UTC(), p.Parameter, p.StationName)
		if err != nil {
			return 0, fmt.Errorf("prune %s: %w", p.Pair(), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		pruned += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return pruned, nil
}

// ReplaceForecasts makes records the latest forecast table. Readers see
// either the previous table or the new one.
func (s *Store) ReplaceForecasts(runID string, records []models.ForecastRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM forecasts`); err != nil {
		return fmt.Errorf("clear forecasts: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO forecasts (run_id, valid_date, model, criterion, horizon_minutes, mean, std, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(runID, r.ValidDate.UTC(), r.Model, r.Criterion, int64(r.Horizon/time.Minute),
			nullFloat(r.Mean), nullFloat(r.Std), nullFloat(r.Error)); err != nil {
			return fmt.Errorf("insert forecast: %w", err)
		}
	}
	return tx.Commit()
}

// LatestForecasts returns the current forecast table with valid dates in the
// store's location.
func (s *Store) LatestForecasts() ([]models.ForecastRecord, error) {
	rows, err := s.db.Query(`
		SELECT valid_date, model, criterion, horizon_minutes, mean, std, error
		FROM forecasts
		ORDER BY model, valid_date, criterion, horizon_minutes
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.ForecastRecord
	for rows.Next() {
		var r models.ForecastRecord
		var horizon int64
		var mean, std, mae sql.NullFloat64
		if err := rows.Scan(&r.ValidDate, &r.Model, &r.Criterion, &horizon, &mean, &std, &mae); err != nil {
			return nil, err
		}
		r.ValidDate = r.ValidDate.In(s.loc)
		r.Horizon = time.Duration(horizon) * time.Minute
		r.Mean = floatOrNaN(mean)
		r.Std = floatOrNaN(std)
		r.Error = floatOrNaN(mae)
		records = append(records, r)
	}
	return records, rows.Err()
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
