package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubCompleter struct {
	reply   string
	err     error
	calls   int
	failOn  int // fail only on this call number (1-based); 0 means use err always
	history []Turn
	system  string
}

func (c *stubCompleter) Complete(ctx context.Context, history []Turn, systemInstruction string) (string, error) {
	c.calls++
	c.history = append([]Turn(nil), history...)
	c.system = systemInstruction
	if c.failOn > 0 {
		if c.calls == c.failOn {
			return "", errors.New("quota exceeded")
		}
		return c.reply, nil
	}
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

type stubTitler struct {
	title string
	err   error
	calls int
}

func (t *stubTitler) SummarizeTitle(ctx context.Context, firstUserMessage string) (string, error) {
	t.calls++
	return t.title, t.err
}

func TestSubmitRejectsEmptyMessage(t *testing.T) {
	store := NewMemoryStore("")
	orch := NewOrchestrator(store, &stubCompleter{reply: "hi"}, nil, "persona")

	rec, _ := store.Create()
	if _, err := orch.Submit(context.Background(), rec.ID, "  "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	got, _ := store.Get(rec.ID)
	if len(got.Messages) != 0 {
		t.Errorf("validation failure must not record turns, got %d", len(got.Messages))
	}
}

func TestSubmitNewChatCompletesAndTitles(t *testing.T) {
	store := NewMemoryStore("")
	completer := &stubCompleter{reply: "Try rest and hydration. [disclaimer]"}
	titler := &stubTitler{title: "Mild Headache Help"}
	orch := NewOrchestrator(store, completer, titler, "persona instruction")

	res, err := orch.Submit(context.Background(), "", "What helps a mild headache?")
	if err != nil {
		t.Fatal(err)
	}
	if res.ChatID == "" {
		t.Fatal("expected a new chat id")
	}
	if res.Reply != "Try rest and hydration. [disclaimer]" {
		t.Errorf("unexpected reply %q", res.Reply)
	}

	rec, err := store.Get(res.ChatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Messages) != 2 {
		t.Fatalf("expected 2 stored turns, got %d", len(rec.Messages))
	}
	if rec.Messages[0].Role != RoleUser || rec.Messages[1].Role != RoleModel {
		t.Errorf("unexpected roles: %+v", rec.Messages)
	}
	if rec.Title == DefaultTitle || rec.Title == "" {
		t.Errorf("expected a derived title, got %q", rec.Title)
	}
	if completer.system != "persona instruction" {
		t.Errorf("system instruction not forwarded, got %q", completer.system)
	}
	// The completion call must see the user turn it is answering.
	if len(completer.history) != 1 || completer.history[0].Text != "What helps a mild headache?" {
		t.Errorf("completion saw wrong history: %+v", completer.history)
	}
}

func TestSubmitRollsBackOnCompletionFailure(t *testing.T) {
	store := NewMemoryStore("")
	completer := &stubCompleter{err: errors.New("network down")}
	orch := NewOrchestrator(store, completer, nil, "persona")

	rec, _ := store.Create()
	store.Append(rec.ID, Turn{Role: RoleUser, Text: "earlier question"})
	store.Append(rec.ID, Turn{Role: RoleModel, Text: "earlier answer"})

	_, err := orch.Submit(context.Background(), rec.ID, "does this fail?")
	var completionErr *CompletionError
	if !errors.As(err, &completionErr) {
		t.Fatalf("expected CompletionError, got %v", err)
	}
	if completionErr.ChatID != rec.ID {
		t.Errorf("error must carry the chat id, got %q", completionErr.ChatID)
	}

	got, _ := store.Get(rec.ID)
	if len(got.Messages) != 2 {
		t.Errorf("expected rollback to the prior 2 turns, got %d", len(got.Messages))
	}
}

func TestSecondSubmitFailureKeepsFirstTurnAndTitle(t *testing.T) {
	store := NewMemoryStore("")
	completer := &stubCompleter{reply: "Stay hydrated.", failOn: 2}
	titler := &stubTitler{title: "Hydration Basics"}
	orch := NewOrchestrator(store, completer, titler, "persona")

	res, err := orch.Submit(context.Background(), "", "How much water per day?")
	if err != nil {
		t.Fatal(err)
	}

	_, err = orch.Submit(context.Background(), res.ChatID, "And with exercise?")
	var completionErr *CompletionError
	if !errors.As(err, &completionErr) {
		t.Fatalf("expected CompletionError on second call, got %v", err)
	}

	rec, _ := store.Get(res.ChatID)
	if len(rec.Messages) != 2 {
		t.Errorf("expected 2 retained turns after failed second call, got %d", len(rec.Messages))
	}
	if rec.Title != "Hydration Basics" {
		t.Errorf("title from the first call must be preserved, got %q", rec.Title)
	}
}

func TestTitleFallsBackToTruncationWhenTitlerFails(t *testing.T) {
	store := NewMemoryStore("")
	completer := &stubCompleter{reply: "ok"}
	titler := &stubTitler{err: errors.New("title service down")}
	orch := NewOrchestrator(store, completer, titler, "persona")

	long := strings.Repeat("sleep advice please ", 10)
	res, err := orch.Submit(context.Background(), "", long)
	if err != nil {
		t.Fatal(err)
	}

	rec, _ := store.Get(res.ChatID)
	if rec.Title == DefaultTitle || rec.Title == "" {
		t.Fatalf("expected fallback title, got %q", rec.Title)
	}
	if len([]rune(rec.Title)) > titleBudget {
		t.Errorf("fallback title exceeds budget: %q", rec.Title)
	}
	if !strings.HasPrefix(long, rec.Title) {
		t.Errorf("fallback title must be a prefix of the user message, got %q", rec.Title)
	}
}

func TestTitleWrittenExactlyOnce(t *testing.T) {
	store := NewMemoryStore("")
	completer := &stubCompleter{reply: "answer"}
	titler := &stubTitler{title: "First Title"}
	orch := NewOrchestrator(store, completer, titler, "persona")

	res, err := orch.Submit(context.Background(), "", "first question")
	if err != nil {
		t.Fatal(err)
	}

	titler.title = "Second Title"
	if _, err := orch.Submit(context.Background(), res.ChatID, "second question"); err != nil {
		t.Fatal(err)
	}

	rec, _ := store.Get(res.ChatID)
	if rec.Title != "First Title" {
		t.Errorf("title must be written exactly once, got %q", rec.Title)
	}
	if titler.calls != 1 {
		t.Errorf("titler should not be consulted again, got %d calls", titler.calls)
	}
}

func TestSubmitUnavailableWithoutCompleter(t *testing.T) {
	store := NewMemoryStore("")
	orch := NewOrchestrator(store, nil, nil, "persona")

	if _, err := orch.Submit(context.Background(), "", "hello"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	list, _ := store.ListRecent(10)
	if len(list) != 0 {
		t.Error("degraded submit must not create sessions")
	}
}

func TestSubmitSkipsGreetingForTitleSource(t *testing.T) {
	store := NewMemoryStore("Welcome to Healthguru!")
	completer := &stubCompleter{reply: "answer"}
	orch := NewOrchestrator(store, completer, nil, "persona")

	res, err := orch.Submit(context.Background(), "", "what about sore throats?")
	if err != nil {
		t.Fatal(err)
	}
	rec, _ := store.Get(res.ChatID)
	if len(rec.Messages) != 3 {
		t.Fatalf("expected greeting + user + model, got %d", len(rec.Messages))
	}
	if rec.Title != "what about sore throats?" {
		t.Errorf("fallback title must come from the first user turn, got %q", rec.Title)
	}
}
