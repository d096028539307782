package chat

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists records across restarts. Same contract as
// MemoryStore; chats and turns live in two tables keyed by chat id.
type SQLiteStore struct {
	db       *sql.DB
	greeting string
}

// OpenSQLiteStore opens (or creates) the database at path, ensuring the
// parent directory exists.
func OpenSQLiteStore(path, greeting string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open chat store at %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping chat store at %s: %w", path, err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		title TEXT,
		created_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_chat_id ON turns(chat_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create chat schema: %w", err)
	}

	return &SQLiteStore{db: db, greeting: greeting}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create() (*Record, error) {
	rec := &Record{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		CreatedAt: time.Now().UTC(),
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO chats (id, title, created_at) VALUES (?, ?, ?)`,
		rec.ID, rec.Title, rec.CreatedAt.UnixNano()); err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	if s.greeting != "" {
		if _, err := tx.Exec(`INSERT INTO turns (chat_id, role, text) VALUES (?, ?, ?)`,
			rec.ID, string(RoleModel), s.greeting); err != nil {
			return nil, fmt.Errorf("insert greeting: %w", err)
		}
		rec.Messages = []Turn{{Role: RoleModel, Text: s.greeting}}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) GetOrCreate(id string) (*Record, error) {
	if id != "" {
		rec, err := s.Get(id)
		if err == nil {
			return rec, nil
		}
		if err != ErrNotFound {
			return nil, err
		}
	}
	return s.Create()
}

func (s *SQLiteStore) Get(id string) (*Record, error) {
	var (
		title     sql.NullString
		createdAt sql.NullInt64
	)
	err := s.db.QueryRow(`SELECT title, created_at FROM chats WHERE id = ?`, id).
		Scan(&title, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select chat %s: %w", id, err)
	}

	rec := &Record{ID: id, Title: title.String}
	if createdAt.Valid {
		rec.CreatedAt = time.Unix(0, createdAt.Int64).UTC()
	}
	rec.repair()

	rows, err := s.db.Query(`SELECT role, text FROM turns WHERE chat_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("select turns for %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var role, text string
		if err := rows.Scan(&role, &text); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		rec.Messages = append(rec.Messages, Turn{Role: Role(role), Text: text})
	}
	return rec, rows.Err()
}

func (s *SQLiteStore) Append(id string, turn Turn) error {
	if err := s.exists(id); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO turns (chat_id, role, text) VALUES (?, ?, ?)`,
		id, string(turn.Role), turn.Text)
	if err != nil {
		return fmt.Errorf("append turn to %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) RemoveLastTurn(id string) error {
	if err := s.exists(id); err != nil {
		return err
	}
	res, err := s.db.Exec(
		`DELETE FROM turns WHERE id = (SELECT MAX(id) FROM turns WHERE chat_id = ?)`, id)
	if err != nil {
		return fmt.Errorf("remove last turn of %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoTurns
	}
	return nil
}

func (s *SQLiteStore) SetTitleIfDefault(id, title string) error {
	if err := s.exists(id); err != nil {
		return err
	}
	// Compare-and-set against the placeholder; a NULL title counts as
	// placeholder because reads repair it to one.
	_, err := s.db.Exec(
		`UPDATE chats SET title = ? WHERE id = ? AND (title = ? OR title IS NULL OR title = '')`,
		title, id, DefaultTitle)
	if err != nil {
		return fmt.Errorf("set title of %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete chat %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	_, err = s.db.Exec(`DELETE FROM turns WHERE chat_id = ?`, id)
	return err
}

func (s *SQLiteStore) ListRecent(limit int) ([]Summary, error) {
	rows, err := s.db.Query(`SELECT id, title, created_at FROM chats`)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			id        string
			title     sql.NullString
			createdAt sql.NullInt64
		)
		if err := rows.Scan(&id, &title, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		rec := Record{ID: id, Title: title.String}
		if createdAt.Valid {
			rec.CreatedAt = time.Unix(0, createdAt.Int64).UTC()
		}
		rec.repair()
		out = append(out, Summary{ID: rec.ID, Title: rec.Title, CreatedAt: rec.CreatedAt})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortSummaries(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *SQLiteStore) exists(id string) error {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM chats WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}
