package storage

import (
	"EliteCompanion/internal/classifier"
	"EliteCompanion/internal/journal"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Store — то, что монитор сохраняет между запусками.
type Store interface {
	SaveCheckpoint(ctx context.Context, cp journal.Checkpoint) error
	// LoadCheckpoint возвращает false, если контрольной точки ещё нет.
	LoadCheckpoint(ctx context.Context) (journal.Checkpoint, bool, error)
	SaveEvent(ctx context.Context, ev classifier.Event) error
	RecentEvents(ctx context.Context, limit int) ([]classifier.Event, error)
	SaveResponse(ctx context.Context, r Response) error
	RecentResponses(ctx context.Context, limit int) ([]Response, error)
	Close() error
}

// Response — итог обработки события диспетчером.
type Response struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Tier      string    `json:"tier"`
	State     string    `json:"state"`
	Text      string    `json:"text,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SQLiteStore реализует Store поверх modernc.org/sqlite (без cgo).
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS checkpoint (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    file TEXT NOT NULL,
    position INTEGER NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL,
    tier TEXT NOT NULL,
    summary TEXT,
    timestamp TEXT
);
CREATE TABLE IF NOT EXISTS responses (
    id TEXT PRIMARY KEY,
    event TEXT NOT NULL,
    tier TEXT NOT NULL,
    state TEXT NOT NULL,
    text TEXT,
    error TEXT,
    created_at TEXT NOT NULL
);`

// NewSQLite открывает (или создаёт) базу по пути path и применяет схему.
func NewSQLite(path string, logger *zap.SugaredLogger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Одна запись за раз: sqlite всё равно сериализует писателей
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		logger.Warnw("Could not set WAL mode", "path", path, "error", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp journal.Checkpoint) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoint(id, file, position, updated_at) VALUES(1,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET file=excluded.file, position=excluded.position, updated_at=excluded.updated_at`,
		cp.File, cp.Offset, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context) (journal.Checkpoint, bool, error) {
	var cp journal.Checkpoint
	err := s.db.QueryRowContext(ctx, `SELECT file, position FROM checkpoint WHERE id = 1`).Scan(&cp.File, &cp.Offset)
	if errors.Is(err, sql.ErrNoRows) {
		return journal.Checkpoint{}, false, nil
	}
	if err != nil {
		return journal.Checkpoint{}, false, err
	}
	return cp, true, nil
}

func (s *SQLiteStore) SaveEvent(ctx context.Context, ev classifier.Event) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO events(type, tier, summary, timestamp) VALUES(?,?,?,?)`,
		ev.Type, ev.Tier.String(), ev.Summary, ev.Timestamp.UTC().Format(time.RFC3339))
	return err
}

// RecentEvents возвращает последние limit событий, от новых к старым.
func (s *SQLiteStore) RecentEvents(ctx context.Context, limit int) ([]classifier.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, tier, summary, timestamp FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []classifier.Event
	for rows.Next() {
		var ev classifier.Event
		var tier, ts string
		if err := rows.Scan(&ev.Type, &tier, &ev.Summary, &ts); err != nil {
			return nil, err
		}
		if ev.Tier, err = classifier.ParseTier(tier); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			ev.Timestamp = t
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveResponse(ctx context.Context, r Response) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO responses(id, event, tier, state, text, error, created_at) VALUES(?,?,?,?,?,?,?)`,
		r.ID, r.Event, r.Tier, r.State, r.Text, r.Error, r.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// RecentResponses возвращает последние limit ответов, от новых к старым.
func (s *SQLiteStore) RecentResponses(ctx context.Context, limit int) ([]Response, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event, tier, state, text, error, created_at FROM responses ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Response
	for rows.Next() {
		var r Response
		var text, errText sql.NullString
		var ts string
		if err := rows.Scan(&r.ID, &r.Event, &r.Tier, &r.State, &text, &errText, &ts); err != nil {
			return nil, err
		}
		r.Text, r.Error = text.String, errText.String
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
