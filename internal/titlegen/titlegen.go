// Package titlegen names new threads out of band. The first user message
// is handed to a small model through the job queue so the chat stream is
// never blocked on naming.
package titlegen

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/relaychat/internal/chat"
)

// maxTitleLen caps generated titles for list rendering.
const maxTitleLen = 80

const titlePrompt = "Generate a short title (at most 80 characters) for a conversation that starts with the following message. Reply with the title only, no quotes, no punctuation at the end."

// TitleJobArgs identifies one thread to name.
type TitleJobArgs struct {
	ThreadID     string `json:"thread_id"`
	FirstMessage string `json:"first_message"`
}

func (TitleJobArgs) Kind() string { return "thread_title" }

// Worker runs title jobs against a configured model.
type Worker struct {
	river.WorkerDefaults[TitleJobArgs]
	store    chat.Store
	newModel func(ctx context.Context) (llms.Model, error)
}

func NewWorker(store chat.Store, newModel func(ctx context.Context) (llms.Model, error)) *Worker {
	return &Worker{store: store, newModel: newModel}
}

func (w *Worker) Work(ctx context.Context, job *river.Job[TitleJobArgs]) error {
	args := job.Args

	title, err := w.generate(ctx, args.FirstMessage)
	if err != nil {
		// A failed generation still names the thread; retrying the model
		// for a cosmetic string is not worth it.
		log.Warn().Err(err).Str("thread_id", args.ThreadID).Msg("Title generation failed, using message text")
		title = Truncate(args.FirstMessage, maxTitleLen)
	}
	if title == "" {
		return nil
	}

	if err := w.store.UpdateThreadTitle(ctx, args.ThreadID, title); err != nil {
		return fmt.Errorf("update thread title: %w", err)
	}

	log.Debug().Str("thread_id", args.ThreadID).Str("title", title).Msg("Thread titled")
	return nil
}

func (w *Worker) generate(ctx context.Context, firstMessage string) (string, error) {
	model, err := w.newModel(ctx)
	if err != nil {
		return "", fmt.Errorf("title model: %w", err)
	}

	resp, err := model.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, titlePrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, firstMessage),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("title model returned no choices")
	}
	return Sanitize(resp.Choices[0].Content), nil
}

// Sanitize collapses a model reply into a single clean title line.
func Sanitize(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, `"'`)
	s = strings.TrimSpace(s)
	return Truncate(s, maxTitleLen)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Queue owns the River client and pgx pool backing title jobs. It also
// serves as the orchestrator's TitleQueuer.
type Queue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
}

func NewQueue(ctx context.Context, databaseURL string, worker *Worker) (*Queue, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, worker)

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
		},
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &Queue{client: client, pool: pool}, nil
}

func (q *Queue) Start(ctx context.Context) error { return q.client.Start(ctx) }

func (q *Queue) Stop(ctx context.Context) error {
	err := q.client.Stop(ctx)
	q.pool.Close()
	return err
}

// QueueTitle schedules naming for a thread.
func (q *Queue) QueueTitle(ctx context.Context, threadID, firstMessage string) error {
	_, err := q.client.Insert(ctx, TitleJobArgs{
		ThreadID:     threadID,
		FirstMessage: firstMessage,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to queue title job: %w", err)
	}
	return nil
}
