package chat

import "time"

// DefaultTitle is the placeholder assigned at session creation. It is
// rewritten exactly once, the first time a chat completes a turn.
const DefaultTitle = "New Health Query"

// Record is one conversation owned by a Store. Messages are append-only
// except for the rollback of a user turn after a failed completion call.
type Record struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	Messages  []Turn    `json:"messages"`
}

// Summary is the lightweight listing shape for the sidebar.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// repair fills in fields that a partially written or legacy record may be
// missing, so that malformed entries never break reads or listings.
func (r *Record) repair() {
	if r.Title == "" {
		r.Title = DefaultTitle
	}
	// A zero CreatedAt is kept as-is: it sorts last and is the minimum
	// representable timestamp.
}

// clone returns a copy that callers may hold after the store call returns.
func (r *Record) clone() *Record {
	c := *r
	c.Messages = make([]Turn, len(r.Messages))
	copy(c.Messages, r.Messages)
	return &c
}
