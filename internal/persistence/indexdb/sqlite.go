// Package indexdb is a read-model index over save and offline-grant history.
// Writes are indexed asynchronously and never sit on the sim path; losing an
// index row is acceptable, the snapshot store stays the source of truth.
package indexdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqSave reqKind = iota + 1
	reqGrant
	reqFlush
)

type req struct {
	kind  reqKind
	save  SaveRow
	grant GrantRow
	done  chan struct{}
}

type SaveRow struct {
	SaveID    string
	Version   int
	SavedAtMs int64
	Checksum  string

	PlaytimeMs int64
	Prestige   int
	Resources  int
	Buildings  int
}

type GrantRow struct {
	GrantID       string
	SaveID        string
	RequestedAtMs int64
	ElapsedMs     int64
	EffectiveMs   int64
	Efficiency    float64

	// Per-resource gained map, stored as JSON.
	Gained map[string]float64
}

func Open(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-only workload; NORMAL durability is fine for a
	// secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS saves (
			save_id TEXT NOT NULL,
			saved_at_ms INTEGER NOT NULL,
			version INTEGER NOT NULL,
			checksum TEXT NOT NULL,
			playtime_ms INTEGER NOT NULL,
			prestige INTEGER NOT NULL,
			resources INTEGER NOT NULL,
			buildings INTEGER NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (save_id, saved_at_ms)
		);`,
		`CREATE TABLE IF NOT EXISTS grants (
			grant_id TEXT PRIMARY KEY,
			save_id TEXT NOT NULL,
			requested_at_ms INTEGER NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			effective_ms INTEGER NOT NULL,
			efficiency REAL NOT NULL,
			gained_json TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_grants_save ON grants(save_id, requested_at_ms);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordSave indexes a snapshot write. Dropped silently if the writer is
// saturated or closed.
func (s *SQLiteIndex) RecordSave(row SaveRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSave, save: row}:
	default:
	}
}

// RecordGrant indexes an authoritative offline grant.
func (s *SQLiteIndex) RecordGrant(row GrantRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqGrant, grant: row}:
	default:
	}
}

func (s *SQLiteIndex) loop() {
	for r := range s.ch {
		switch r.kind {
		case reqSave:
			s.insertSave(r.save)
		case reqGrant:
			s.insertGrant(r.grant)
		case reqFlush:
			close(r.done)
		}
	}
}

func (s *SQLiteIndex) insertSave(row SaveRow) {
	_, _ = s.db.Exec(
		`INSERT OR REPLACE INTO saves
		 (save_id, saved_at_ms, version, checksum, playtime_ms, prestige, resources, buildings, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.SaveID, row.SavedAtMs, row.Version, row.Checksum,
		row.PlaytimeMs, row.Prestige, row.Resources, row.Buildings,
		time.Now().UTC().Format(time.RFC3339),
	)
}

func (s *SQLiteIndex) insertGrant(row GrantRow) {
	gained, err := json.Marshal(row.Gained)
	if err != nil {
		return
	}
	_, _ = s.db.Exec(
		`INSERT OR IGNORE INTO grants
		 (grant_id, save_id, requested_at_ms, elapsed_ms, effective_ms, efficiency, gained_json, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.GrantID, row.SaveID, row.RequestedAtMs, row.ElapsedMs, row.EffectiveMs,
		row.Efficiency, string(gained),
		time.Now().UTC().Format(time.RFC3339),
	)
}

// GrantsForSave returns the indexed grant history for one save, newest
// first. Read-side queries go through the same single connection; callers
// should Flush first if they need rows written moments ago.
func (s *SQLiteIndex) GrantsForSave(saveID string, limit int) ([]GrantRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT grant_id, save_id, requested_at_ms, elapsed_ms, effective_ms, efficiency, gained_json
		 FROM grants WHERE save_id = ? ORDER BY requested_at_ms DESC LIMIT ?`,
		saveID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GrantRow
	for rows.Next() {
		var r GrantRow
		var gained string
		if err := rows.Scan(&r.GrantID, &r.SaveID, &r.RequestedAtMs, &r.ElapsedMs, &r.EffectiveMs, &r.Efficiency, &gained); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(gained), &r.Gained); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Flush blocks until everything queued before the call has been written.
func (s *SQLiteIndex) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
		<-done
	default:
	}
}
