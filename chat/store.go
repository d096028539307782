package chat

import "errors"

var (
	// ErrNotFound reports an operation against an unknown chat id.
	ErrNotFound = errors.New("chat: not found")

	// ErrNoTurns reports a rollback against a chat with no messages. It
	// should be unreachable given the orchestrator's call discipline.
	ErrNoTurns = errors.New("chat: no turns to remove")
)

// Store owns the mapping from chat id to Record. Implementations return
// copies; callers never hold live store state.
type Store interface {
	// Create inserts a fresh record with a new id, the placeholder title
	// and the current timestamp.
	Create() (*Record, error)

	// GetOrCreate returns the record for id if it exists, otherwise
	// behaves as Create, ignoring the supplied id. Idempotent for a
	// valid id: repeated calls never touch CreatedAt or Title.
	GetOrCreate(id string) (*Record, error)

	// Get returns the record for id, or ErrNotFound.
	Get(id string) (*Record, error)

	// Append adds a turn to the record's message sequence.
	Append(id string, turn Turn) error

	// RemoveLastTurn removes the most recently appended turn. Used only
	// to roll back a user turn after a failed completion call.
	RemoveLastTurn(id string) error

	// SetTitleIfDefault sets the title only while it still equals
	// DefaultTitle, enforcing the rewrite-exactly-once invariant.
	SetTitleIfDefault(id, title string) error

	// Delete removes the record, ErrNotFound if the id is unknown.
	Delete(id string) error

	// ListRecent returns at most limit records, newest CreatedAt first,
	// ties broken by id so the order is a deterministic total order.
	ListRecent(limit int) ([]Summary, error)
}
