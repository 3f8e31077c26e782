package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	iface "LaneFinder/interface"
	"LaneFinder/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Record is one stored frame.
type Record struct {
	Session    string
	RecordedAt time.Time
	iface.Geometry
}

type SessionSummary struct {
	Session string    `json:"session"`
	Frames  int64     `json:"frames"`
	First   time.Time `json:"first"`
	Last    time.Time `json:"last"`
}

// Store is the run log: the geometry of every frame processed, per session.
type Store struct {
	*sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection keeps sqlite writes serialized and :memory: databases shared
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	s := &Store{db}
	if err := s.MigrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Log().Info("run log opened", zap.String("path", path))
	return s, nil
}

// MigrateUp runs all pending migrations up to the latest version.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close the underlying DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns 0, false, nil before the first migration.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if err != nil && errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
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
	return m, nil
}

// RecordFrame stores g for session, replacing an earlier row for the same frame.
func (s *Store) RecordFrame(session string, g iface.Geometry) error {
	_, err := s.Exec(`
		INSERT OR REPLACE INTO frames (
			session, frame, left_radius, right_radius, offset_m, lane_width,
			left_a, left_b, left_c, right_a, right_b, right_c,
			left_confident, right_confident, left_failures, right_failures,
			left_inliers, right_inliers, left_mode, right_mode,
			left_accepted, right_accepted, cross_check_passed, offset_valid, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session, g.Frame, g.LeftRadius, g.RightRadius, g.Offset, g.LaneWidth,
		g.LeftCoefficients[0], g.LeftCoefficients[1], g.LeftCoefficients[2],
		g.RightCoefficients[0], g.RightCoefficients[1], g.RightCoefficients[2],
		g.LeftConfident, g.RightConfident, g.LeftFailures, g.RightFailures,
		g.LeftInliers, g.RightInliers, g.LeftMode, g.RightMode,
		g.LeftAccepted, g.RightAccepted, g.CrossCheckPassed, g.OffsetValid, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record frame %d of %s: %w", g.Frame, session, err)
	}
	return nil
}

// Frames returns the stored frames of session in frame order.
func (s *Store) Frames(session string) ([]Record, error) {
	rows, err := s.Query(`
		SELECT session, frame, left_radius, right_radius, offset_m, lane_width,
			left_a, left_b, left_c, right_a, right_b, right_c,
			left_confident, right_confident, left_failures, right_failures,
			left_inliers, right_inliers, left_mode, right_mode,
			left_accepted, right_accepted, cross_check_passed, offset_valid, recorded_at
		FROM frames WHERE session = ? ORDER BY frame`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r  Record
			ms int64
		)
		g := &r.Geometry
		if err := rows.Scan(
			&r.Session, &g.Frame, &g.LeftRadius, &g.RightRadius, &g.Offset, &g.LaneWidth,
			&g.LeftCoefficients[0], &g.LeftCoefficients[1], &g.LeftCoefficients[2],
			&g.RightCoefficients[0], &g.RightCoefficients[1], &g.RightCoefficients[2],
			&g.LeftConfident, &g.RightConfident, &g.LeftFailures, &g.RightFailures,
			&g.LeftInliers, &g.RightInliers, &g.LeftMode, &g.RightMode,
			&g.LeftAccepted, &g.RightAccepted, &g.CrossCheckPassed, &g.OffsetValid, &ms,
		); err != nil {
			return nil, err
		}
		r.RecordedAt = time.UnixMilli(ms)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Sessions lists every session in the log, newest activity first.
func (s *Store) Sessions() ([]SessionSummary, error) {
	rows, err := s.Query(`
		SELECT session, COUNT(*), MIN(recorded_at), MAX(recorded_at)
		FROM frames GROUP BY session ORDER BY MAX(recorded_at) DESC, session`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			sum         SessionSummary
			first, last int64
		)
		if err := rows.Scan(&sum.Session, &sum.Frames, &first, &last); err != nil {
			return nil, err
		}
		sum.First = time.UnixMilli(first)
		sum.Last = time.UnixMilli(last)
		out = append(out, sum)
	}
	return out, rows.Err()
}
