// Package store persists reconciled doses in SQLite so each entry is
// published once, and again only when a later pass revises it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sweeney/pumpsync/internal/logic"
	"github.com/sweeney/pumpsync/internal/pumpevent"
)

const schema = `
CREATE TABLE IF NOT EXISTS doses (
    id          TEXT PRIMARY KEY,
    type        TEXT NOT NULL,
    start_ns    INTEGER NOT NULL,
    end_ns      INTEGER,
    programmed  REAL NOT NULL,
    delivered   REAL,
    unit        TEXT NOT NULL,
    mutable     INTEGER NOT NULL,
    automatic   INTEGER,
    at_device   INTEGER NOT NULL,
    source      INTEGER NOT NULL DEFAULT 0,
    updated_ns  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_doses_start ON doses(start_ns);

CREATE TABLE IF NOT EXISTS sync_state (
    key    TEXT PRIMARY KEY,
    value  INTEGER NOT NULL
);
`

const lastSyncKey = "last_sync_ns"

// doseColumns is the column list every dose query reads, in row field order.
const doseColumns = `id, type, start_ns, end_ns, programmed, delivered, unit, mutable, automatic, at_device, source`

// Store is the SQLite dose table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; readers from the web handler share it.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// migrate brings tables created by older versions up to the current schema.
func migrate(db *sql.DB) error {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('doses') WHERE name = 'source'`).Scan(&n)
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	if n == 0 {
		if _, err := db.Exec(`ALTER TABLE doses ADD COLUMN source INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("add source column: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// row is the column form of a dose.
type row struct {
	id         string
	typ        string
	startNs    int64
	endNs      sql.NullInt64
	programmed float64
	delivered  sql.NullFloat64
	unit       string
	mutable    bool
	automatic  sql.NullBool
	atDevice   bool
	source     int
}

// scan reads one row in doseColumns order.
func (r *row) scan(sc interface{ Scan(dest ...any) error }) error {
	return sc.Scan(&r.id, &r.typ, &r.startNs, &r.endNs, &r.programmed, &r.delivered,
		&r.unit, &r.mutable, &r.automatic, &r.atDevice, &r.source)
}

func toRow(d logic.DoseEntry) row {
	r := row{
		id:         d.ID(),
		typ:        string(d.Type),
		startNs:    d.StartDate.UnixNano(),
		programmed: d.Programmed,
		unit:       string(d.Unit),
		mutable:    d.IsMutable,
		atDevice:   d.WasProgrammedAtDevice,
		source:     int(d.Source),
	}
	if d.EndDate != nil {
		r.endNs = sql.NullInt64{Int64: d.EndDate.UnixNano(), Valid: true}
	}
	if d.Delivered != nil {
		r.delivered = sql.NullFloat64{Float64: *d.Delivered, Valid: true}
	}
	if d.Automatic != nil {
		r.automatic = sql.NullBool{Bool: *d.Automatic, Valid: true}
	}
	return r
}

func (r row) dose() logic.DoseEntry {
	d := logic.DoseEntry{
		Type:                  logic.DoseType(r.typ),
		StartDate:             time.Unix(0, r.startNs).UTC(),
		Programmed:            r.programmed,
		Unit:                  logic.DoseUnit(r.unit),
		IsMutable:             r.mutable,
		WasProgrammedAtDevice: r.atDevice,
		Source:                pumpevent.Tag(r.source),
	}
	if r.endNs.Valid {
		end := time.Unix(0, r.endNs.Int64).UTC()
		d.EndDate = &end
	}
	if r.delivered.Valid {
		v := r.delivered.Float64
		d.Delivered = &v
	}
	if r.automatic.Valid {
		v := r.automatic.Bool
		d.Automatic = &v
	}
	return d
}

// Upsert stores doses and returns those that were new or differ from the
// stored copy, in input order. Storing the same doses again returns nothing.
func (s *Store) Upsert(ctx context.Context, doses []logic.DoseEntry) ([]logic.DoseEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	updated := s.now().UnixNano()
	var changed []logic.DoseEntry
	for _, d := range doses {
		r := toRow(d)

		var old row
		err := old.scan(tx.QueryRowContext(ctx, `SELECT `+doseColumns+` FROM doses WHERE id = ?`, r.id))
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, fmt.Errorf("read dose %s: %w", r.id, err)
		case old == r:
			continue
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO doses (`+doseColumns+`, updated_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				end_ns = excluded.end_ns,
				programmed = excluded.programmed,
				delivered = excluded.delivered,
				unit = excluded.unit,
				mutable = excluded.mutable,
				automatic = excluded.automatic,
				at_device = excluded.at_device,
				source = excluded.source,
				updated_ns = excluded.updated_ns`,
			r.id, r.typ, r.startNs, r.endNs, r.programmed, r.delivered, r.unit, r.mutable, r.automatic, r.atDevice, r.source, updated)
		if err != nil {
			return nil, fmt.Errorf("upsert dose %s: %w", r.id, err)
		}
		changed = append(changed, d)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return changed, nil
}

// Recent returns up to limit doses starting at or after since, newest first.
func (s *Store) Recent(ctx context.Context, since time.Time, limit int) ([]logic.DoseEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+doseColumns+`
		FROM doses WHERE start_ns >= ?
		ORDER BY start_ns DESC, type
		LIMIT ?`, since.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("query doses: %w", err)
	}
	defer rows.Close()

	var out []logic.DoseEntry
	for rows.Next() {
		var r row
		if err := r.scan(rows); err != nil {
			return nil, fmt.Errorf("scan dose: %w", err)
		}
		out = append(out, r.dose())
	}
	return out, rows.Err()
}

// LastSync returns when history was last fetched successfully. ok is false
// if never.
func (s *Store) LastSync(ctx context.Context) (t time.Time, ok bool, err error) {
	var ns int64
	err = s.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, lastSyncKey).Scan(&ns)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read last sync: %w", err)
	}
	return time.Unix(0, ns).UTC(), true, nil
}

// SetLastSync records a successful fetch.
func (s *Store) SetLastSync(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, lastSyncKey, t.UnixNano())
	if err != nil {
		return fmt.Errorf("write last sync: %w", err)
	}
	return nil
}
