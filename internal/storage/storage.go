// Package storage provides SQLite-backed persistence for alert dedup state
// and alert history. It is the source of truth for "has this exact alert
// already been sent", so it must survive restarts: a duplicate alert storm
// after a redeploy is a correctness failure, not a cosmetic one.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tailwatch/tailwatch/internal/models"
	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database holding alert records. Single-writer: only
// the engine calls PutRecord and LogAlert, sequenced by the cycle scheduler,
// so no additional locking is needed.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/tailwatch/state.db.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "tailwatch", "state.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alert_state (
			market_id       TEXT NOT NULL,
			kind            TEXT NOT NULL,
			active          INTEGER NOT NULL,
			last_alerted_at INTEGER NOT NULL,
			last_value      REAL NOT NULL,
			PRIMARY KEY (market_id, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS alert_log (
			id        TEXT PRIMARY KEY,
			market_id TEXT NOT NULL,
			kind      TEXT NOT NULL,
			value     REAL NOT NULL,
			recovery  INTEGER NOT NULL DEFAULT 0,
			delivered INTEGER NOT NULL DEFAULT 0,
			sent_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_log_sent_at ON alert_log(sent_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// GetRecord returns the stored record for (marketID, kind), or nil if the
// pair has never alerted.
func (s *Store) GetRecord(marketID string, kind models.ConditionKind) (*models.AlertRecord, error) {
	row := s.db.QueryRow(`
		SELECT market_id, kind, active, last_alerted_at, last_value
		FROM alert_state WHERE market_id = ? AND kind = ?`, marketID, string(kind))
	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert record: %w", err)
	}
	return rec, nil
}

// PutRecord inserts or replaces the record under its (market, kind) key.
func (s *Store) PutRecord(rec *models.AlertRecord) error {
	if rec.MarketID == "" || rec.Kind == "" {
		return fmt.Errorf("alert record must have market ID and kind")
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO alert_state
			(market_id, kind, active, last_alerted_at, last_value)
		VALUES (?,?,?,?,?)`,
		rec.MarketID, string(rec.Kind), boolToInt(rec.Active),
		rec.LastAlertedAt.UnixNano(), rec.LastValue,
	)
	if err != nil {
		return fmt.Errorf("failed to put alert record: %w", err)
	}
	return nil
}

// ActiveRecords returns every record currently marked active, ordered by
// market ID then kind so iteration order is reproducible.
func (s *Store) ActiveRecords() ([]models.AlertRecord, error) {
	rows, err := s.db.Query(`
		SELECT market_id, kind, active, last_alerted_at, last_value
		FROM alert_state WHERE active = 1 ORDER BY market_id, kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active records: %w", err)
	}
	defer rows.Close()

	var recs []models.AlertRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert record: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// LogAlert appends one event to the alert history.
func (s *Store) LogAlert(ev *models.AlertEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO alert_log (id, market_id, kind, value, recovery, delivered, sent_at)
		VALUES (?,?,?,?,?,?,?)`,
		ev.ID, ev.MarketID, string(ev.Kind), ev.Value,
		boolToInt(ev.Recovery), boolToInt(ev.Delivered), ev.SentAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert event: %w", err)
	}
	return nil
}

// RecentAlerts returns the newest k events from the alert history.
func (s *Store) RecentAlerts(k int) ([]models.AlertEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, market_id, kind, value, recovery, delivered, sent_at
		FROM alert_log ORDER BY sent_at DESC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert events: %w", err)
	}
	defer rows.Close()

	var events []models.AlertEvent
	for rows.Next() {
		var ev models.AlertEvent
		var kindStr string
		var recovery, delivered int
		var sentAtNano int64
		if err := rows.Scan(&ev.ID, &ev.MarketID, &kindStr, &ev.Value, &recovery, &delivered, &sentAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		ev.Kind = models.ConditionKind(kindStr)
		ev.Recovery = recovery != 0
		ev.Delivered = delivered != 0
		ev.SentAt = time.Unix(0, sentAtNano)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanRecord(scan func(...any) error) (*models.AlertRecord, error) {
	var rec models.AlertRecord
	var kindStr string
	var active int
	var alertedAtNano int64
	if err := scan(&rec.MarketID, &kindStr, &active, &alertedAtNano, &rec.LastValue); err != nil {
		return nil, err
	}
	rec.Kind = models.ConditionKind(kindStr)
	rec.Active = active != 0
	rec.LastAlertedAt = time.Unix(0, alertedAtNano)
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
