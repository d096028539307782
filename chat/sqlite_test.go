package chat

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "chats.db"), "")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := openTestStore(t)

	rec, err := s.Create()
	if err != nil {
		t.Fatal(err)
	}
	if rec.Title != DefaultTitle || len(rec.Messages) != 0 {
		t.Fatalf("unexpected new record: %+v", rec)
	}

	if err := s.Append(rec.ID, Turn{Role: RoleUser, Text: "hello"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(rec.ID, Turn{Role: RoleModel, Text: "hi there"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(got.Messages))
	}
	if got.Messages[0].Role != RoleUser || got.Messages[1].Role != RoleModel {
		t.Errorf("turn order lost: %+v", got.Messages)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("CreatedAt changed across reload: %v vs %v", got.CreatedAt, rec.CreatedAt)
	}
}

func TestSQLiteGetOrCreate(t *testing.T) {
	s := openTestStore(t)

	rec, _ := s.Create()
	same, err := s.GetOrCreate(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if same.ID != rec.ID {
		t.Error("existing id must resolve to the same record")
	}

	fresh, err := s.GetOrCreate("missing-id")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.ID == "missing-id" {
		t.Error("invalid id must not be reused")
	}
}

func TestSQLiteRemoveLastTurn(t *testing.T) {
	s := openTestStore(t)
	rec, _ := s.Create()
	s.Append(rec.ID, Turn{Role: RoleUser, Text: "keep"})
	s.Append(rec.ID, Turn{Role: RoleUser, Text: "drop"})

	if err := s.RemoveLastTurn(rec.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(rec.ID)
	if len(got.Messages) != 1 || got.Messages[0].Text != "keep" {
		t.Errorf("expected only the first turn, got %+v", got.Messages)
	}

	s.RemoveLastTurn(rec.ID)
	if err := s.RemoveLastTurn(rec.ID); err != ErrNoTurns {
		t.Errorf("expected ErrNoTurns, got %v", err)
	}
	if err := s.RemoveLastTurn("ghost"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteTitleCompareAndSet(t *testing.T) {
	s := openTestStore(t)
	rec, _ := s.Create()

	if err := s.SetTitleIfDefault(rec.ID, "Allergy Season"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTitleIfDefault(rec.ID, "Overwritten"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(rec.ID)
	if got.Title != "Allergy Season" {
		t.Errorf("expected first title to stick, got %q", got.Title)
	}
}

func TestSQLiteDeleteAndListing(t *testing.T) {
	s := openTestStore(t)

	a, _ := s.Create()
	time.Sleep(2 * time.Millisecond)
	b, _ := s.Create()

	list, err := s.ListRecent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != b.ID || list[1].ID != a.ID {
		t.Fatalf("expected newest-first [%s %s], got %+v", b.ID, a.ID, list)
	}

	if err := s.Delete(a.ID); err != nil {
		t.Fatal(err)
	}
	list, _ = s.ListRecent(10)
	if len(list) != 1 || list[0].ID != b.ID {
		t.Errorf("deleted chat still listed: %+v", list)
	}
	if err := s.Delete(a.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for repeat delete, got %v", err)
	}
	if _, err := s.Get(a.ID); err != ErrNotFound {
		t.Errorf("deleted chat still readable: %v", err)
	}
}

func TestSQLiteRepairsMalformedRows(t *testing.T) {
	s := openTestStore(t)

	// A partially written legacy row: NULL title and timestamp.
	if _, err := s.db.Exec(`INSERT INTO chats (id, title, created_at) VALUES ('legacy', NULL, NULL)`); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get("legacy")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != DefaultTitle {
		t.Errorf("expected repaired title, got %q", got.Title)
	}
	if !got.CreatedAt.IsZero() {
		t.Errorf("expected minimum timestamp, got %v", got.CreatedAt)
	}

	list, err := s.ListRecent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Title != DefaultTitle {
		t.Errorf("listing must tolerate the malformed row: %+v", list)
	}

	// The CAS treats the repaired placeholder as unset.
	if err := s.SetTitleIfDefault("legacy", "Recovered"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get("legacy")
	if got.Title != "Recovered" {
		t.Errorf("expected CAS over repaired placeholder, got %q", got.Title)
	}
}

func TestSQLiteGreetingSeed(t *testing.T) {
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "chats.db"), "Welcome!")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	rec, err := s.Create()
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Messages) != 1 || rec.Messages[0].Role != RoleModel {
		t.Fatalf("expected one seeded model turn, got %+v", rec.Messages)
	}
	got, _ := s.Get(rec.ID)
	if len(got.Messages) != 1 || got.Messages[0].Text != "Welcome!" {
		t.Errorf("greeting not persisted: %+v", got.Messages)
	}
}
