// Package telemetry records what the body does: one row per cycle, the
// self-calibrated values that must survive a restart, and occasional
// snapshots of the occupancy map. Everything lives in one sqlite file
// whose schema is versioned by embedded migrations.
package telemetry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/body.control/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// CycleSample is one cycle's worth of body state.
type CycleSample struct {
	Cycle   uint64    `json:"cycle"`
	At      time.Time `json:"at"`
	Trav    float64   `json:"trav"`
	Windup  float64   `json:"windup"`
	X       float64   `json:"x"`
	Y       float64   `json:"y"`
	Heading float64   `json:"heading"`
	Lift    float64   `json:"lift"`
	Battery float64   `json:"battery"`
	Errors  uint64    `json:"errors"`
}

// Store is the telemetry database. Each Open starts a new session that
// cycle rows and map snapshots are filed under.
type Store struct {
	*sql.DB
	path    string
	session string
}

// Open opens or creates the database at path, brings its schema up to
// date and starts a session.
func Open(ctx context.Context, path, version string) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open telemetry db %s: %w", path, err)
	}
	s := &Store{DB: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.startSession(ctx, version); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// MigrateUp applies every pending migration. Running it on an up-to-date
// database is a no-op.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Closing m would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version.
func (s *Store) SchemaVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

func (s *Store) startSession(ctx context.Context, version string) error {
	id := uuid.NewString()
	_, err := s.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_at, version) VALUES (?, ?, ?)`,
		id, time.Now().UTC(), version)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	s.session = id
	return nil
}

// Session is the ID of the session opened by Open.
func (s *Store) Session() string { return s.session }

// Path is the database file name.
func (s *Store) Path() string { return s.path }

// InsertCycles writes a batch of samples in one transaction. Samples
// repeating a cycle number replace the earlier row.
func (s *Store) InsertCycles(ctx context.Context, samples []CycleSample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO cycles (
			session_id, cycle, at_unix, trav, windup, x, y, heading, lift, battery, errors
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range samples {
		at := float64(c.At.UnixNano()) / 1e9
		if _, err := stmt.ExecContext(ctx, s.session, int64(c.Cycle), at,
			c.Trav, c.Windup, c.X, c.Y, c.Heading, c.Lift, c.Battery, int64(c.Errors)); err != nil {
			return fmt.Errorf("insert cycle %d: %w", c.Cycle, err)
		}
	}
	return tx.Commit()
}

// RecentCycles returns up to n samples of the current session, newest
// first.
func (s *Store) RecentCycles(ctx context.Context, n int) ([]CycleSample, error) {
	rows, err := s.QueryContext(ctx, `SELECT cycle, at_unix, trav, windup, x, y, heading, lift, battery, errors
		FROM cycles WHERE session_id = ? ORDER BY cycle DESC LIMIT ?`, s.session, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CycleSample
	for rows.Next() {
		var (
			c      CycleSample
			cycle  int64
			at     float64
			errCnt int64
		)
		if err := rows.Scan(&cycle, &at, &c.Trav, &c.Windup, &c.X, &c.Y, &c.Heading, &c.Lift, &c.Battery, &errCnt); err != nil {
			return nil, err
		}
		c.Cycle, c.Errors = uint64(cycle), uint64(errCnt)
		sec := int64(at)
		c.At = time.Unix(sec, int64((at-float64(sec))*1e9)).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveCalibration stores a named calibration value, replacing any
// earlier one.
func (s *Store) SaveCalibration(ctx context.Context, name string, value float64) error {
	_, err := s.ExecContext(ctx, `INSERT INTO calibration (name, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, name, value)
	return err
}

// Calibrations loads every stored calibration value.
func (s *Store) Calibrations(ctx context.Context) (map[string]float64, error) {
	rows, err := s.QueryContext(ctx, `SELECT name, value FROM calibration`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]float64)
	for rows.Next() {
		var (
			name  string
			value float64
		)
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, rows.Err()
}

// SaveMapSnapshot stores a serialised map and returns its ID.
func (s *Store) SaveMapSnapshot(ctx context.Context, reason string, blob []byte) (int64, error) {
	if len(blob) == 0 {
		return 0, errors.New("empty map snapshot")
	}
	res, err := s.ExecContext(ctx,
		`INSERT INTO map_snapshots (session_id, taken_at, reason, blob) VALUES (?, ?, ?, ?)`,
		s.session, time.Now().UTC(), reason, blob)
	if err != nil {
		return 0, fmt.Errorf("save map snapshot: %w", err)
	}
	return res.LastInsertId()
}

// LatestMapSnapshot returns the newest snapshot of any session, or
// sql.ErrNoRows when none has been saved.
func (s *Store) LatestMapSnapshot(ctx context.Context) (id int64, blob []byte, err error) {
	err = s.QueryRowContext(ctx,
		`SELECT snapshot_id, blob FROM map_snapshots ORDER BY snapshot_id DESC LIMIT 1`).Scan(&id, &blob)
	return id, blob, err
}

// Close marks the session ended and closes the database.
func (s *Store) Close() error {
	_, err := s.Exec(`UPDATE sessions SET ended_at = ? WHERE session_id = ?`, time.Now().UTC(), s.session)
	return errors.Join(err, s.DB.Close())
}
