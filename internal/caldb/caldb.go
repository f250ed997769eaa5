// Package caldb persists calibration results and run history in sqlite.
package caldb

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/spacecal/internal/calib"
	"github.com/banshee-data/spacecal/internal/transform"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNoCalibration is returned by LoadCalibration when the profile has
// never been saved.
var ErrNoCalibration = errors.New("no saved calibration for profile")

type DB struct {
	*sql.DB
}

// Open opens (or creates) the calibration database at path and brings
// the schema up to date.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	d := &DB{db}
	if err := d.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (db *DB) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// migrateLogger implements migrate.Logger interface
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// offsetJSON is the storage form of a transform: row-major basis plus
// origin, kept stable so old rows stay readable.
type offsetJSON struct {
	Basis  [9]float64 `json:"basis"`
	Origin [3]float64 `json:"origin"`
}

func encodeOffset(t transform.Transform) (string, error) {
	oj := offsetJSON{
		Basis:  t.Basis,
		Origin: [3]float64{t.Origin.X, t.Origin.Y, t.Origin.Z},
	}
	b, err := json.Marshal(oj)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeOffset(s string) (transform.Transform, error) {
	var oj offsetJSON
	if err := json.Unmarshal([]byte(s), &oj); err != nil {
		return transform.Transform{}, err
	}
	return transform.Transform{
		Basis:  oj.Basis,
		Origin: transform.Vec3{X: oj.Origin[0], Y: oj.Origin[1], Z: oj.Origin[2]},
	}, nil
}

// SaveCalibration upserts the calibration for its profile.
func (db *DB) SaveCalibration(rec calib.SavedCalibration) error {
	offset, err := encodeOffset(rec.Offset)
	if err != nil {
		return fmt.Errorf("failed to encode offset: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO calibrations (profile, kind, src, dst, offset_json, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(profile) DO UPDATE SET
			kind = excluded.kind,
			src = excluded.src,
			dst = excluded.dst,
			offset_json = excluded.offset_json,
			updated_at = CURRENT_TIMESTAMP`,
		rec.Profile, string(rec.Kind), rec.Src, rec.Dst, offset)
	return err
}

// LoadCalibration returns the saved calibration for profile, or
// ErrNoCalibration if none exists.
func (db *DB) LoadCalibration(profile string) (calib.SavedCalibration, error) {
	var rec calib.SavedCalibration
	var kind, offset string
	err := db.QueryRow(`
		SELECT profile, kind, src, dst, offset_json
		FROM calibrations WHERE profile = ?`, profile).
		Scan(&rec.Profile, &kind, &rec.Src, &rec.Dst, &offset)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("%w: %s", ErrNoCalibration, profile)
	}
	if err != nil {
		return rec, err
	}
	rec.Kind = calib.OffsetKind(kind)
	rec.Offset, err = decodeOffset(offset)
	if err != nil {
		return rec, fmt.Errorf("failed to decode offset for %s: %w", profile, err)
	}
	return rec, nil
}

// RecordRun appends one sampled calibration attempt to the run history.
func (db *DB) RecordRun(run calib.RunRecord) error {
	_, err := db.Exec(`
		INSERT INTO runs (run_id, profile, src_serial, dst_serial, samples,
			delta_pairs, residual_meters, accepted, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Profile, run.SrcSerial, run.DstSerial, run.Samples,
		run.DeltaPairs, run.ResidualMeters, run.Accepted,
		run.StartedAt, run.FinishedAt)
	return err
}

// Runs returns up to limit run records for profile, newest first.
func (db *DB) Runs(profile string, limit int) ([]calib.RunRecord, error) {
	rows, err := db.Query(`
		SELECT run_id, profile, src_serial, dst_serial, samples,
			delta_pairs, residual_meters, accepted, started_at, finished_at
		FROM runs WHERE profile = ?
		ORDER BY finished_at DESC LIMIT ?`, profile, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calib.RunRecord
	for rows.Next() {
		var r calib.RunRecord
		if err := rows.Scan(&r.RunID, &r.Profile, &r.SrcSerial, &r.DstSerial,
			&r.Samples, &r.DeltaPairs, &r.ResidualMeters, &r.Accepted,
			&r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteCalibration removes the saved calibration for profile. It is a
// no-op if none exists.
func (db *DB) DeleteCalibration(profile string) error {
	_, err := db.Exec(`DELETE FROM calibrations WHERE profile = ?`, profile)
	return err
}

var _ calib.Store = (*DB)(nil)
