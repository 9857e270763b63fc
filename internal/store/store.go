// Package store persists per-probe settings (display name and alert targets)
// in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/sirupsen/logrus"
	"github.com/srg/grillprobe/internal/alerter"
	"github.com/srg/grillprobe/internal/device"
)

// Defaults applied to a probe that is added without explicit targets
const (
	DefaultProbeTarget = 70.0
	DefaultGrillTarget = 250.0
)

const (
	dirPermissions    = 0750
	connectionTimeout = 5 * time.Second
)

// ErrNotFound is returned when no settings exist for a probe
var ErrNotFound = errors.New("probe not found")

const schema = `
CREATE TABLE IF NOT EXISTS probes (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	probe_target REAL NOT NULL,
	grill_target REAL NOT NULL,
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);`

// Probe are the stored settings of one probe
type Probe struct {
	ID          device.ID
	Name        string
	ProbeTarget float64
	GrillTarget float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Targets returns the alert targets of the probe
func (p Probe) Targets() alerter.Targets {
	return alerter.Targets{Probe: p.ProbeTarget, Grill: p.GrillTarget}
}

// Update is a partial change to stored settings; nil fields are kept
type Update struct {
	Name        *string
	ProbeTarget *float64
	GrillTarget *float64
}

// Store is the SQLite settings store
type Store struct {
	db     *sql.DB
	path   string
	logger *logrus.Logger
	now    func() time.Time
}

// Open opens (and creates when missing) the database at path
func Open(path string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL", path, 5000)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.WithField("path", path).Debug("Settings store opened")
	return &Store{db: db, path: path, logger: logger, now: time.Now}, nil
}

// Close closes the database
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Get returns the settings of a probe, or ErrNotFound
func (s *Store) Get(ctx context.Context, id device.ID) (Probe, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, probe_target, grill_target, created_at, updated_at FROM probes WHERE id = ?`,
		string(id))
	p, err := scanProbe(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Probe{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Probe{}, fmt.Errorf("loading probe %s: %w", id, err)
	}
	return p, nil
}

// List returns all stored probes ordered by name, then ID
func (s *Store) List(ctx context.Context) ([]Probe, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, probe_target, grill_target, created_at, updated_at FROM probes ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("listing probes: %w", err)
	}
	defer rows.Close()

	var out []Probe
	for rows.Next() {
		p, err := scanProbe(rows)
		if err != nil {
			return nil, fmt.Errorf("listing probes: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing probes: %w", err)
	}
	return out, nil
}

// Add stores a probe with default targets. An existing probe is returned
// unchanged.
func (s *Store) Add(ctx context.Context, id device.ID, name string) (Probe, error) {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO probes (id, name, probe_target, grill_target, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		string(id), name, DefaultProbeTarget, DefaultGrillTarget, now, now)
	if err != nil {
		return Probe{}, fmt.Errorf("adding probe %s: %w", id, err)
	}
	return s.Get(ctx, id)
}

// Update applies a partial change to a stored probe
func (s *Store) Update(ctx context.Context, id device.ID, u Update) (Probe, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return Probe{}, err
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.ProbeTarget != nil {
		p.ProbeTarget = *u.ProbeTarget
	}
	if u.GrillTarget != nil {
		p.GrillTarget = *u.GrillTarget
	}
	p.UpdatedAt = s.now().UTC()

	_, err = s.db.ExecContext(ctx,
		`UPDATE probes SET name = ?, probe_target = ?, grill_target = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.ProbeTarget, p.GrillTarget, p.UpdatedAt, string(id))
	if err != nil {
		return Probe{}, fmt.Errorf("updating probe %s: %w", id, err)
	}

	s.logger.WithFields(logrus.Fields{
		"device_id":    id,
		"name":         p.Name,
		"probe_target": p.ProbeTarget,
		"grill_target": p.GrillTarget,
	}).Info("Probe settings updated")
	return p, nil
}

// Delete removes a probe. Deleting an unknown probe returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, id device.ID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM probes WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("deleting probe %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// TargetsFor implements alerter.TargetSource
func (s *Store) TargetsFor(ctx context.Context, id device.ID) (alerter.Targets, bool, error) {
	p, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return alerter.Targets{}, false, nil
	}
	if err != nil {
		return alerter.Targets{}, false, err
	}
	return p.Targets(), true, nil
}

// DisplayName returns the stored name of a probe when one is set
func (s *Store) DisplayName(ctx context.Context, id device.ID) (string, bool) {
	p, err := s.Get(ctx, id)
	if err != nil || p.Name == "" {
		return "", false
	}
	return p.Name, true
}

var _ alerter.TargetSource = (*Store)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProbe(r rowScanner) (Probe, error) {
	var (
		p  Probe
		id string
	)
	if err := r.Scan(&id, &p.Name, &p.ProbeTarget, &p.GrillTarget, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Probe{}, err
	}
	p.ID = device.ID(id)
	return p, nil
}
