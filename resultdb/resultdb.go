// Package resultdb persists finished trials and their measured errors to a
// local sqlite database, one file per benchmark campaign. It is the sink at
// the end of the pipeline; nothing downstream of it reads back into the
// harness.
package resultdb

import (
	"database/sql"
	"encoding/json"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	_ "modernc.org/sqlite"

	"go.viam.com/slambench/frameerror"
	"go.viam.com/slambench/trial"
)

const schema = `
	CREATE TABLE IF NOT EXISTS trials (
		trial_id TEXT PRIMARY KEY,
		dataset TEXT,
		sequence TEXT,
		success BOOLEAN,
		run_time_seconds DOUBLE,
		settings TEXT,
		created TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS frames (
		trial_id TEXT,
		timestamp DOUBLE,
		tracking TEXT,
		num_features INTEGER,
		num_matches INTEGER,
		processing_time DOUBLE,
		abs_error_length DOUBLE,
		abs_error_direction DOUBLE,
		abs_error_rot DOUBLE,
		rel_error_length DOUBLE,
		rel_error_rot DOUBLE,
		FOREIGN KEY(trial_id) REFERENCES trials(trial_id)
	);
	CREATE TABLE IF NOT EXISTS tracking_spans (
		trial_id TEXT,
		lost BOOLEAN,
		frames DOUBLE,
		duration DOUBLE,
		distance DOUBLE,
		FOREIGN KEY(trial_id) REFERENCES trials(trial_id)
	);
`

// Store is a sqlite-backed sink for trial results.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening result database")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "creating schema"), db.Close())
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveTrial stores one finished trial with its measured errors under the
// given identifier. The raw result's frame records and the lost/found span
// series are stored alongside the trial row; settings are stored as JSON.
func (s *Store) SaveTrial(trialID, datasetName, sequenceName string, result *trial.Result, measured *frameerror.TrialErrors) error {
	settings, err := json.Marshal(result.Settings)
	if err != nil {
		return errors.Wrap(err, "encoding settings")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}

	if err := saveTrialTx(tx, trialID, datasetName, sequenceName, string(settings), result, measured); err != nil {
		return multierr.Combine(err, tx.Rollback())
	}
	return errors.Wrap(tx.Commit(), "committing trial")
}

func saveTrialTx(
	tx *sql.Tx,
	trialID, datasetName, sequenceName, settings string,
	result *trial.Result,
	measured *frameerror.TrialErrors,
) error {
	_, err := tx.Exec(
		"INSERT INTO trials (trial_id, dataset, sequence, success, run_time_seconds, settings) VALUES (?, ?, ?, ?, ?, ?)",
		trialID, datasetName, sequenceName, result.Success, result.RunTime.Seconds(), settings,
	)
	if err != nil {
		return errors.Wrap(err, "inserting trial")
	}

	frameStmt, err := tx.Prepare(`
		INSERT INTO frames (
			trial_id, timestamp, tracking, num_features, num_matches, processing_time,
			abs_error_length, abs_error_direction, abs_error_rot, rel_error_length, rel_error_rot
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "preparing frame insert")
	}
	defer frameStmt.Close()

	for _, frameErr := range measured.FrameErrors {
		var absLength, absDirection, absRot, relLength, relRot interface{}
		if frameErr.AbsoluteError != nil {
			absLength = frameErr.AbsoluteError.Length
			absDirection = nullableFloat(frameErr.AbsoluteError.Direction)
			absRot = frameErr.AbsoluteError.Rot
		}
		if frameErr.RelativeError != nil {
			relLength = frameErr.RelativeError.Length
			relRot = frameErr.RelativeError.Rot
		}
		_, err := frameStmt.Exec(
			trialID, frameErr.Timestamp, frameErr.Tracking.String(),
			frameErr.NumFeatures, frameErr.NumMatches, frameErr.ProcessingTime,
			absLength, absDirection, absRot, relLength, relRot,
		)
		if err != nil {
			return errors.Wrap(err, "inserting frame")
		}
	}

	if err := saveSpans(tx, trialID, true, measured.FramesLost, measured.TimesLost, measured.DistancesLost); err != nil {
		return err
	}
	return saveSpans(tx, trialID, false, measured.FramesFound, measured.TimesFound, measured.DistancesFound)
}

func saveSpans(tx *sql.Tx, trialID string, lost bool, frames, durations, distances []float64) error {
	for i := range frames {
		_, err := tx.Exec(
			"INSERT INTO tracking_spans (trial_id, lost, frames, duration, distance) VALUES (?, ?, ?, ?, ?)",
			trialID, lost, frames[i], durations[i], distances[i],
		)
		if err != nil {
			return errors.Wrap(err, "inserting tracking span")
		}
	}
	return nil
}

// nullableFloat maps NaN, which sqlite cannot store, to NULL.
func nullableFloat(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

// TrialSummary is the stored top-level record of a trial.
type TrialSummary struct {
	TrialID        string
	Dataset        string
	Sequence       string
	Success        bool
	RunTimeSeconds float64
	FrameCount     int
	LostSpans      int
}

// LoadSummary reads back the top-level record of a stored trial.
func (s *Store) LoadSummary(trialID string) (*TrialSummary, error) {
	summary := &TrialSummary{TrialID: trialID}
	err := s.db.QueryRow(
		"SELECT dataset, sequence, success, run_time_seconds FROM trials WHERE trial_id = ?",
		trialID,
	).Scan(&summary.Dataset, &summary.Sequence, &summary.Success, &summary.RunTimeSeconds)
	if err != nil {
		return nil, errors.Wrapf(err, "loading trial %q", trialID)
	}
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM frames WHERE trial_id = ?", trialID,
	).Scan(&summary.FrameCount); err != nil {
		return nil, errors.Wrap(err, "counting frames")
	}
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM tracking_spans WHERE trial_id = ? AND lost", trialID,
	).Scan(&summary.LostSpans); err != nil {
		return nil, errors.Wrap(err, "counting spans")
	}
	return summary, nil
}
