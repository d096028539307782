package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps all records in process memory. This is the default
// backend: state lives for the life of the process, like the in-memory
// session maps it replaces.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*Record
	greeting string
}

// NewMemoryStore creates an empty in-memory store. If greeting is
// non-empty, every new chat is seeded with one model-authored turn.
func NewMemoryStore(greeting string) *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*Record),
		greeting: greeting,
	}
}

func (s *MemoryStore) Create() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(), nil
}

func (s *MemoryStore) createLocked() *Record {
	rec := &Record{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		CreatedAt: time.Now().UTC(),
	}
	if s.greeting != "" {
		rec.Messages = []Turn{{Role: RoleModel, Text: s.greeting}}
	}
	s.records[rec.ID] = rec
	return rec.clone()
}

func (s *MemoryStore) GetOrCreate(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok {
		rec.repair()
		return rec.clone(), nil
	}
	return s.createLocked(), nil
}

func (s *MemoryStore) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	rec.repair()
	return rec.clone(), nil
}

func (s *MemoryStore) Append(id string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Messages = append(rec.Messages, turn)
	return nil
}

func (s *MemoryStore) RemoveLastTurn(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if len(rec.Messages) == 0 {
		return ErrNoTurns
	}
	rec.Messages = rec.Messages[:len(rec.Messages)-1]
	return nil
}

func (s *MemoryStore) SetTitleIfDefault(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.repair()
	if rec.Title == DefaultTitle {
		rec.Title = title
	}
	return nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) ListRecent(limit int) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.records))
	for _, rec := range s.records {
		rec.repair()
		out = append(out, Summary{ID: rec.ID, Title: rec.Title, CreatedAt: rec.CreatedAt})
	}
	sortSummaries(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// sortSummaries orders newest first, ties broken by id so the sidebar
// order is stable across calls.
func sortSummaries(out []Summary) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
}
