package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/pkg/models"
)

func TestMemoryStoreAppendAndList(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateThread(ctx, &models.Thread{ID: "t1", UserID: 1, Title: models.PlaceholderTitle}))

	want := []*models.Message{
		{ID: "m1", ThreadID: "t1", Role: models.RoleUser, Content: "first"},
		{ID: "m2", ThreadID: "t1", Role: models.RoleAssistant, Model: "gpt-4o", Content: "second", Parts: []models.MessagePart{
			{Type: models.PartText, Text: "second"},
		}},
	}
	for _, m := range want {
		require.NoError(t, s.AppendMessage(ctx, m))
	}

	got, err := s.ListMessages(ctx, "t1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(models.Message{}, "CreatedAt")); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryStoreRejectsDuplicateMessageID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateThread(ctx, &models.Thread{ID: "t1", UserID: 1, Title: models.PlaceholderTitle}))

	require.NoError(t, s.AppendMessage(ctx, &models.Message{ID: "m1", ThreadID: "t1", Role: models.RoleUser, Content: "a"}))
	err := s.AppendMessage(ctx, &models.Message{ID: "m1", ThreadID: "t1", Role: models.RoleUser, Content: "a again"})
	require.ErrorIs(t, err, ErrDuplicateMessage)

	msgs, err := s.ListMessages(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestMemoryStoreAppendToMissingThread(t *testing.T) {
	s := NewMemoryStore()
	err := s.AppendMessage(context.Background(), &models.Message{ID: "m1", ThreadID: "nope", Role: models.RoleUser})
	require.ErrorIs(t, err, ErrThreadNotFound)
}

func TestMemoryStoreListThreadsOrdering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, s.CreateThread(ctx, &models.Thread{ID: "old", UserID: 1, Title: "old", UpdatedAt: base.Add(-time.Hour)}))
	require.NoError(t, s.CreateThread(ctx, &models.Thread{ID: "new", UserID: 1, Title: "new", UpdatedAt: base}))
	require.NoError(t, s.CreateThread(ctx, &models.Thread{ID: "other", UserID: 2, Title: "other", UpdatedAt: base}))

	threads, err := s.ListThreads(ctx, 1)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, "new", threads[0].ID)
	assert.Equal(t, "old", threads[1].ID)

	// Touching a thread moves it to the front.
	require.NoError(t, s.TouchThread(ctx, "old", base.Add(time.Minute)))
	threads, err = s.ListThreads(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "old", threads[0].ID)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateThread(ctx, &models.Thread{ID: "t1", UserID: 1, Title: "original"}))

	got, err := s.GetThread(ctx, "t1")
	require.NoError(t, err)
	got.Title = "mutated"

	again, err := s.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "original", again.Title)
}

func TestThreadLocksSerializePerThread(t *testing.T) {
	locks := newThreadLocks()

	var mu sync.Mutex
	active := 0
	maxActive := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.acquire("t1")
			defer release()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
	assert.Empty(t, locks.locks)
}

func TestThreadLocksIndependentThreads(t *testing.T) {
	locks := newThreadLocks()

	releaseA := locks.acquire("a")
	done := make(chan struct{})
	go func() {
		releaseB := locks.acquire("b")
		releaseB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on thread b blocked by thread a")
	}
	releaseA()
}
