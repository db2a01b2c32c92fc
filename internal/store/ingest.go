package store

import (
	"database/sql"
	"strings"
	"time"
)

// IngestRun represents a single provider call for auditing.
type IngestRun struct {
	ID            int64
	StartedAt     time.Time
	FinishedAt    sql.NullTime
	Endpoint      string // "timeseries", "find_station"
	Parameters    []string
	Points        int
	RecordsParsed sql.NullInt64
	Success       bool
	ErrorMessage  sql.NullString
}

// Fail records err as the outcome of the run.
func (r *IngestRun) Fail(err error) {
	r.Success = false
	r.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
}

// StartIngestRun creates a new ingest run record and returns it.
func (s *Store) StartIngestRun(endpoint string, parameters []string, points int) (*IngestRun, error) {
	run := &IngestRun{
		StartedAt:  time.Now().UTC(),
		Endpoint:   endpoint,
		Parameters: parameters,
		Points:     points,
	}

	result, err := s.db.Exec(`
		INSERT INTO ingest_runs (started_at, endpoint, parameters, points, success)
		VALUES (?, ?, ?, ?, FALSE)
	`, run.StartedAt, run.Endpoint, strings.Join(parameters, ","), points)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return run, nil
}

// CompleteIngestRun updates the ingest run with results.
func (s *Store) CompleteIngestRun(run *IngestRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE ingest_runs SET
			finished_at = ?,
			records_parsed = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.RecordsParsed, run.Success, run.ErrorMessage, run.ID)
	return err
}

// GetRecentIngestErrors returns recent failed ingest runs.
func (s *Store) GetRecentIngestErrors(limit int) ([]IngestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, endpoint, parameters, points,
			   records_parsed, success, error_message
		FROM ingest_runs
		WHERE success = FALSE AND finished_at IS NOT NULL
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestRun
	for rows.Next() {
		var r IngestRun
		var params sql.NullString
		var points sql.NullInt64
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Endpoint, &params, &points,
			&r.RecordsParsed, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		if params.String != "" {
			r.Parameters = strings.Split(params.String, ",")
		}
		r.Points = int(points.Int64)
		results = append(results, r)
	}
	return results, rows.Err()
}
