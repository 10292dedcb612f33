package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Journal is the durable per-day record of triggers and decisions,
// backing the status view and the daily digest. Live engine state stays
// in the JSON store; the journal is append-mostly history.
type Journal struct {
	db *sql.DB
}

type JournalEntry struct {
	ID      int64
	Date    string
	Trigger string
	Speech  string
	Action  string
	Emotion string
	Model   string
	Cost    float64
}

type JournalStats struct {
	Entries   int
	Days      int
	TotalCost float64
}

func OpenJournal(dbPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	j := &Journal{db: db}
	if err := j.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := j.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := j.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (j *Journal) initSchema() error {
	_, err := j.db.Exec(`CREATE TABLE IF NOT EXISTS journal (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		speech TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL DEFAULT '',
		emotion TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		cost REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("init journal schema: %w", err)
	}
	if _, err := j.db.Exec(`CREATE INDEX IF NOT EXISTS idx_journal_date ON journal(date)`); err != nil {
		return fmt.Errorf("init journal index: %w", err)
	}
	return nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) Record(e JournalEntry) error {
	_, err := j.db.Exec(
		`INSERT INTO journal (date, trigger_type, speech, action, emotion, model, cost)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Date, e.Trigger, e.Speech, e.Action, e.Emotion, e.Model, e.Cost,
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Day returns the date's entries in insertion order.
func (j *Journal) Day(date string) ([]JournalEntry, error) {
	rows, err := j.db.Query(
		`SELECT id, date, trigger_type, speech, action, emotion, model, cost
		 FROM journal WHERE date = ? ORDER BY id`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("query journal day: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.Date, &e.Trigger, &e.Speech, &e.Action, &e.Emotion, &e.Model, &e.Cost); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (j *Journal) Stats() (JournalStats, error) {
	var s JournalStats
	err := j.db.QueryRow(
		`SELECT COUNT(*), COUNT(DISTINCT date), COALESCE(SUM(cost), 0) FROM journal`,
	).Scan(&s.Entries, &s.Days, &s.TotalCost)
	if err != nil {
		return s, fmt.Errorf("query journal stats: %w", err)
	}
	return s, nil
}
