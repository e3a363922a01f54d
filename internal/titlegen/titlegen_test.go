package titlegen

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/relaychat/internal/chat"
	"github.com/relaychat/pkg/models"
)

type stubModel struct {
	reply string
	err   error
}

func (m *stubModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", errors.New("not implemented")
}

func newTitleJob(threadID, firstMessage string) *river.Job[TitleJobArgs] {
	return &river.Job[TitleJobArgs]{Args: TitleJobArgs{ThreadID: threadID, FirstMessage: firstMessage}}
}

func TestWorkSetsGeneratedTitle(t *testing.T) {
	store := chat.NewMemoryStore()
	require.NoError(t, store.CreateThread(context.Background(), &models.Thread{
		ID: "t1", UserID: 1, Title: models.PlaceholderTitle,
	}))

	w := NewWorker(store, func(ctx context.Context) (llms.Model, error) {
		return &stubModel{reply: "\"Trip planning for Norway\"\n"}, nil
	})

	require.NoError(t, w.Work(context.Background(), newTitleJob("t1", "help me plan a trip to norway")))

	thread, err := store.GetThread(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "Trip planning for Norway", thread.Title)
}

func TestWorkFallsBackToMessageText(t *testing.T) {
	store := chat.NewMemoryStore()
	require.NoError(t, store.CreateThread(context.Background(), &models.Thread{
		ID: "t1", UserID: 1, Title: models.PlaceholderTitle,
	}))

	w := NewWorker(store, func(ctx context.Context) (llms.Model, error) {
		return nil, errors.New("no credentials")
	})

	long := strings.Repeat("word ", 40)
	require.NoError(t, w.Work(context.Background(), newTitleJob("t1", long)))

	thread, err := store.GetThread(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, []rune(thread.Title), maxTitleLen)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Plain title", "Plain title"},
		{"  padded  ", "padded"},
		{"'quoted'", "quoted"},
		{"first line\nsecond line", "first line"},
		{strings.Repeat("x", 120), strings.Repeat("x", 80)},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitize(tt.in))
	}
}
