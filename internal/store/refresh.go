package store

import (
	"database/sql"
	"errors"
	"time"
)

// Refresh run results.
const (
	ResultRunning  = "running"
	ResultSuccess  = "success"
	ResultUpToDate = "up_to_date"
	ResultNoData   = "no_recent_data"
	ResultAborted  = "aborted"
	ResultFailed   = "failed"
)

// RefreshRun is the bookkeeping row of one scheduler cycle.
type RefreshRun struct {
	ID           int64
	RunID        string
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	DataEnd      sql.NullTime
	Result       string
	Records      sql.NullInt64
	Pruned       sql.NullInt64
	ErrorMessage sql.NullString
}

func (s *Store) StartRefreshRun(runID string, at time.Time) (*RefreshRun, error) {
	run := &RefreshRun{RunID: runID, StartedAt: at.UTC(), Result: ResultRunning}
	res, err := s.db.Exec(`
		INSERT INTO refresh_runs (run_id, started_at, result)
		VALUES (?, ?, ?)
	`, run.RunID, run.StartedAt, run.Result)
	if err != nil {
		return nil, err
	}
	run.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) CompleteRefreshRun(run *RefreshRun, at time.Time) error {
	if run == nil {
		return nil
	}
	run.FinishedAt = sql.NullTime{Time: at.UTC(), Valid: true}
	if run.DataEnd.Valid {
		run.DataEnd.Time = run.DataEnd.Time.UTC()
	}
	_, err := s.db.Exec(`
		UPDATE refresh_runs SET
			finished_at = ?,
			data_end = ?,
			result = ?,
			records = ?,
			pruned = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.DataEnd, run.Result, run.Records, run.Pruned, run.ErrorMessage, run.ID)
	return err
}

// LatestRefreshRun returns the most recently started run, or nil.
func (s *Store) LatestRefreshRun() (*RefreshRun, error) {
	return s.scanRefreshRun(s.db.QueryRow(`
		SELECT id, run_id, started_at, finished_at, data_end, result, records, pruned, error_message
		FROM refresh_runs
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`))
}

// LatestSuccessfulRefreshRun returns the last run that persisted a forecast,
// or nil.
func (s *Store) LatestSuccessfulRefreshRun() (*RefreshRun, error) {
	return s.scanRefreshRun(s.db.QueryRow(`
		SELECT id, run_id, started_at, finished_at, data_end, result, records, pruned, error_message
		FROM refresh_runs
		WHERE result = ? AND data_end IS NOT NULL
		ORDER BY data_end DESC, id DESC
		LIMIT 1
	`, ResultSuccess))
}

// LastDataEnd is the data end of the last persisted forecast.
func (s *Store) LastDataEnd() (time.Time, bool, error) {
	run, err := s.LatestSuccessfulRefreshRun()
	if err != nil || run == nil {
		return time.Time{}, false, err
	}
	return run.DataEnd.Time.UTC(), true, nil
}

// PruneRunHistory deletes finished refresh runs and provider call audits
// started before before and returns how many rows went. The last successful
// refresh run is kept so LastDataEnd survives any retention.
func (s *Store) PruneRunHistory(before time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		DELETE FROM refresh_runs
		WHERE started_at < ? AND finished_at IS NOT NULL
		AND id NOT IN (
			SELECT id FROM refresh_runs
			WHERE result = ? AND data_end IS NOT NULL
			ORDER BY data_end DESC, id DESC
			LIMIT 1
		)
	`, before.UTC(), ResultSuccess)
	if err != nil {
		return 0, err
	}
	refresh, _ := res.RowsAffected()

	res, err = tx.Exec(`
		DELETE FROM ingest_runs
		WHERE started_at < ? AND finished_at IS NOT NULL
	`, before.UTC())
	if err != nil {
		return 0, err
	}
	ingest, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return refresh + ingest, nil
}

func (s *Store) scanRefreshRun(row *sql.Row) (*RefreshRun, error) {
	var r RefreshRun
	err := row.Scan(&r.ID, &r.RunID, &r.StartedAt, &r.FinishedAt, &r.DataEnd, &r.Result, &r.Records, &r.Pruned, &r.ErrorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
