// server/history.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mmp/cadsim/sim"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

// HistoryStore records what happened during each simulation run so that a
// training session can be reviewed afterward.
type HistoryStore interface {
	RecordEvent(runID string, u sim.LogUpdate, clock sim.CADClock) error
	RecordMessage(runID string, msg sim.RoutedMessage) error
	Events(runID string) ([]HistoryRecord, error)
	Close() error
}

// HistoryRecord is one entry in the dispatch log history for a run.
type HistoryRecord struct {
	RunID     string
	LogNumber int
	SimTime   int64
	CADTime   string
	Started   bool
	Inquiry   sim.InquiryData
}

type nopHistory struct{}

func (nopHistory) RecordEvent(string, sim.LogUpdate, sim.CADClock) error { return nil }
func (nopHistory) RecordMessage(string, sim.RoutedMessage) error        { return nil }
func (nopHistory) Events(string) ([]HistoryRecord, error)               { return nil, nil }
func (nopHistory) Close() error                                         { return nil }

const historySchema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	log_number INTEGER NOT NULL,
	sim_time INTEGER NOT NULL,
	cad_time TEXT NOT NULL,
	started INTEGER NOT NULL,
	inquiry BLOB NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS events_run ON events(run_id);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	origin INTEGER NOT NULL,
	destination INTEGER NOT NULL,
	message TEXT NOT NULL,
	cad_date TEXT NOT NULL,
	cad_time TEXT NOT NULL,
	created_at TEXT NOT NULL
);`

// SQLiteHistory is a HistoryStore kept in an SQLite database file.
type SQLiteHistory struct {
	db *sql.DB
}

// OpenSQLiteHistory opens (creating if necessary) the database at path;
// ":memory:" gives a private in-memory database.
func OpenSQLiteHistory(path string) (*SQLiteHistory, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	// A single connection so that ":memory:" databases are shared by all
	// queries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: migrate: %w", path, err)
	}
	return &SQLiteHistory{db: db}, nil
}

func (h *SQLiteHistory) RecordEvent(runID string, u sim.LogUpdate, clock sim.CADClock) error {
	inq, err := msgpack.Marshal(&u.Inquiry)
	if err != nil {
		return err
	}
	_, err = h.db.Exec(`INSERT INTO events(run_id, log_number, sim_time, cad_time, started, inquiry, created_at)
		VALUES(?,?,?,?,?,?,?)`, runID, u.LogNumber, clock.Seconds, clock.HHMMSS(), u.Started, inq,
		time.Now().UTC().Format(time.RFC3339))
	return err
}

func (h *SQLiteHistory) RecordMessage(runID string, msg sim.RoutedMessage) error {
	_, err := h.db.Exec(`INSERT INTO messages(run_id, origin, destination, message, cad_date, cad_time, created_at)
		VALUES(?,?,?,?,?,?,?)`, runID, msg.From, msg.To, msg.Message, msg.Date, msg.Time,
		time.Now().UTC().Format(time.RFC3339))
	return err
}

func (h *SQLiteHistory) Events(runID string) ([]HistoryRecord, error) {
	rows, err := h.db.Query(`SELECT log_number, sim_time, cad_time, started, inquiry FROM events
		WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []HistoryRecord
	for rows.Next() {
		r := HistoryRecord{RunID: runID}
		var inq []byte
		if err := rows.Scan(&r.LogNumber, &r.SimTime, &r.CADTime, &r.Started, &inq); err != nil {
			return nil, err
		}
		if err := msgpack.Unmarshal(inq, &r.Inquiry); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (h *SQLiteHistory) Messages(runID string) ([]sim.RoutedMessage, error) {
	rows, err := h.db.Query(`SELECT origin, destination, message, cad_date, cad_time FROM messages
		WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []sim.RoutedMessage
	for rows.Next() {
		var m sim.RoutedMessage
		if err := rows.Scan(&m.From, &m.To, &m.Message, &m.Date, &m.Time); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (h *SQLiteHistory) Close() error {
	return h.db.Close()
}
