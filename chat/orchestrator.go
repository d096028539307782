package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
)

var (
	// ErrEmptyMessage reports a submit whose text is empty after trimming.
	ErrEmptyMessage = errors.New("chat: message cannot be empty")

	// ErrUnavailable reports a submit while the completion service is not
	// configured. Browsing and listing keep working in that state.
	ErrUnavailable = errors.New("chat: completion service not available")
)

// CompletionError reports a failed completion call. The user turn appended
// for the call has already been rolled back; ChatID lets the caller decide
// whether to keep the possibly new, still-empty session.
type CompletionError struct {
	ChatID string
	Err    error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("chat %s: completion failed: %v", e.ChatID, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// Completer produces the next model turn for an ordered history.
type Completer interface {
	Complete(ctx context.Context, history []Turn, systemInstruction string) (string, error)
}

// Titler condenses a first user message into a short chat label. Optional:
// when absent or failing, titles fall back to truncating the message.
type Titler interface {
	SummarizeTitle(ctx context.Context, firstUserMessage string) (string, error)
}

// titleBudget is the character budget for fallback titles.
const titleBudget = 48

// Orchestrator drives one request/response cycle per Submit call. All of
// its state lives in the Store; completion and titling are collaborators.
type Orchestrator struct {
	store       Store
	completer   Completer
	titler      Titler
	instruction string

	locks sync.Map // chat id -> *sync.Mutex
}

// NewOrchestrator wires the store with the completion service. completer
// may be nil to start degraded; titler may be nil to always use the
// truncation fallback. instruction is the persona preamble sent with every
// completion call.
func NewOrchestrator(store Store, completer Completer, titler Titler, instruction string) *Orchestrator {
	return &Orchestrator{
		store:       store,
		completer:   completer,
		titler:      titler,
		instruction: instruction,
	}
}

// SubmitResult is what a successful turn returns to the handler layer.
type SubmitResult struct {
	ChatID string
	Reply  string
	Title  string
}

// Submit validates userText, resolves or creates the session, appends the
// user turn, runs one synchronous completion call over the full history,
// and commits the model turn. A failed call rolls the user turn back, so
// the record is left exactly as it was. The first successful turn of a
// chat also derives its title.
func (o *Orchestrator) Submit(ctx context.Context, chatID, userText string) (*SubmitResult, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return nil, ErrEmptyMessage
	}
	if o.completer == nil {
		return nil, ErrUnavailable
	}

	rec, err := o.store.GetOrCreate(chatID)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	// One in-flight turn per chat: the append/complete/commit window must
	// not interleave with another submit against the same id.
	mu := o.chatLock(rec.ID)
	mu.Lock()
	defer mu.Unlock()

	if err := o.store.Append(rec.ID, Turn{Role: RoleUser, Text: userText}); err != nil {
		return nil, fmt.Errorf("append user turn: %w", err)
	}

	current, err := o.store.Get(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	reply, err := o.completer.Complete(ctx, current.Messages, o.instruction)
	if err != nil {
		if rbErr := o.store.RemoveLastTurn(rec.ID); rbErr != nil {
			// Rollback can only fail if the call discipline above was
			// broken; surface it rather than swallow.
			return nil, fmt.Errorf("rollback after failed completion: %v (completion error: %w)", rbErr, err)
		}
		return nil, &CompletionError{ChatID: rec.ID, Err: err}
	}

	if err := o.store.Append(rec.ID, Turn{Role: RoleModel, Text: reply}); err != nil {
		return nil, fmt.Errorf("append model turn: %w", err)
	}

	title := current.Title
	if title == DefaultTitle {
		title = o.deriveTitle(ctx, firstUserText(current.Messages, userText))
		if err := o.store.SetTitleIfDefault(rec.ID, title); err != nil {
			return nil, fmt.Errorf("set title: %w", err)
		}
	}

	return &SubmitResult{ChatID: rec.ID, Reply: reply, Title: title}, nil
}

// deriveTitle asks the titler for a short label and falls back to a
// truncated copy of the first user message. Titling failures never fail
// the submit that triggered them.
func (o *Orchestrator) deriveTitle(ctx context.Context, firstUser string) string {
	if o.titler != nil {
		title, err := o.titler.SummarizeTitle(ctx, firstUser)
		title = strings.TrimSpace(strings.ReplaceAll(title, `"`, ""))
		if err == nil && title != "" {
			return title
		}
		if err != nil {
			log.Printf("[CHAT] title generation failed, using fallback: %v", err)
		}
	}
	return truncateTitle(firstUser)
}

// firstUserText returns the earliest user turn, skipping a seeded
// greeting; submitted is the fallback when the history holds none.
func firstUserText(messages []Turn, submitted string) string {
	for _, t := range messages {
		if t.Role == RoleUser {
			return t.Text
		}
	}
	return submitted
}

func truncateTitle(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > titleBudget {
		s = strings.TrimSpace(string(runes[:titleBudget]))
	}
	if s == "" {
		return DefaultTitle
	}
	return s
}

func (o *Orchestrator) chatLock(id string) *sync.Mutex {
	v, _ := o.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}
