package llm

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Audit records every completion interaction to SQLite. A nil *Audit is a
// valid no-op logger; audit failures are logged and never fail a request.
type Audit struct {
	db *sql.DB
}

// AuditEntry is one recorded completion interaction.
type AuditEntry struct {
	ID           int64
	Kind         string
	Timestamp    time.Time
	Model        string
	FullInput    string // JSON encoded messages
	FullOutput   string
	InputTokens  int
	OutputTokens int
	Error        string
}

// OpenAudit initializes the audit database at path.
func OpenAudit(path string) (*Audit, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS llm_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		model TEXT NOT NULL,
		full_input TEXT NOT NULL,
		full_output TEXT NOT NULL,
		input_tokens INTEGER,
		output_tokens INTEGER,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON llm_audit(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_model ON llm_audit(model);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}

	log.Println("[AUDIT] LLM audit database initialized")
	return &Audit{db: db}, nil
}

// Close releases the audit database handle.
func (a *Audit) Close() error {
	if a == nil {
		return nil
	}
	return a.db.Close()
}

// Log records one interaction. Safe on a nil receiver.
func (a *Audit) Log(kind, model string, input []Message, output string, inputTokens, outputTokens int, callErr error) {
	if a == nil {
		return
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		inputJSON = []byte(fmt.Sprintf("error marshaling input: %v", err))
	}
	errorStr := ""
	if callErr != nil {
		errorStr = callErr.Error()
	}

	_, err = a.db.Exec(`
		INSERT INTO llm_audit (kind, model, full_input, full_output, input_tokens, output_tokens, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		kind, model, string(inputJSON), output, inputTokens, outputTokens, errorStr)
	if err != nil {
		log.Printf("[AUDIT] failed to log interaction: %v", err)
	}
}

// Recent returns the latest n audit entries, newest first.
func (a *Audit) Recent(n int) ([]AuditEntry, error) {
	if a == nil {
		return nil, nil
	}
	rows, err := a.db.Query(`
		SELECT id, kind, timestamp, model, full_input, full_output, input_tokens, output_tokens, error
		FROM llm_audit ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Kind, &e.Timestamp, &e.Model,
			&e.FullInput, &e.FullOutput, &e.InputTokens, &e.OutputTokens, &e.Error); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
