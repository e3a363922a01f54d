package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/relaychat/pkg/models"
)

var (
	// ErrThreadNotFound is returned when a thread id has no record.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrDuplicateMessage is returned when a message id already exists.
	// Callers retrying a failed turn resubmit the same user message id;
	// the store's uniqueness check is what makes that retry idempotent.
	ErrDuplicateMessage = errors.New("duplicate message id")
)

// Store is the conversation persistence boundary. Messages are an
// append-only log per thread, ordered by creation time; thread titles and
// updated-at are the only mutable fields.
type Store interface {
	GetThread(ctx context.Context, id string) (*models.Thread, error)
	CreateThread(ctx context.Context, t *models.Thread) error
	TouchThread(ctx context.Context, id string, at time.Time) error
	UpdateThreadTitle(ctx context.Context, id, title string) error
	ListThreads(ctx context.Context, userID int64) ([]*models.Thread, error)
	AppendMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, threadID string) ([]*models.Message, error)
}

// MemoryStore is an in-memory Store used by tests and local development.
type MemoryStore struct {
	mu       sync.Mutex
	threads  map[string]*models.Thread
	messages map[string][]*models.Message
	byID     map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads:  map[string]*models.Thread{},
		messages: map[string][]*models.Message{},
		byID:     map[string]bool{},
	}
}

func (s *MemoryStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, ErrThreadNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) CreateThread(ctx context.Context, t *models.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	s.threads[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) TouchThread(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return ErrThreadNotFound
	}
	t.UpdatedAt = at
	return nil
}

func (s *MemoryStore) UpdateThreadTitle(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return ErrThreadNotFound
	}
	t.Title = title
	t.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ListThreads(ctx context.Context, userID int64) ([]*models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Thread, 0)
	for _, t := range s.threads {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byID[m.ID] {
		return ErrDuplicateMessage
	}
	if _, ok := s.threads[m.ThreadID]; !ok {
		return ErrThreadNotFound
	}
	cp := *m
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.byID[cp.ID] = true
	s.messages[cp.ThreadID] = append(s.messages[cp.ThreadID], &cp)
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, threadID string) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[threadID]
	out := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
