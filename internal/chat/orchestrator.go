package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/relaychat/internal/modelregistry"
	"github.com/relaychat/internal/usage"
	"github.com/relaychat/pkg/models"
)

// ErrThreadForbidden is returned when a caller submits to a thread owned
// by another user.
var ErrThreadForbidden = errors.New("thread belongs to another user")

// ErrProviderUnavailable wraps a provider failure that happened before
// anything reached the client, so the transport can still answer with a
// real HTTP status instead of an in-band error event.
var ErrProviderUnavailable = errors.New("provider call failed")

// ToolExecutor offers tool schemas to the model and runs the calls the
// model makes. Execute returns the JSON payload fed back to the model.
type ToolExecutor interface {
	Definitions() []llms.Tool
	Execute(ctx context.Context, name, args string) (string, error)
}

// TitleQueuer schedules out-of-band title generation for a new thread.
type TitleQueuer interface {
	QueueTitle(ctx context.Context, threadID, firstMessage string) error
}

// ModelFactory constructs the provider client for a resolved model entry.
// The default delegates to the registry entry; tests substitute scripted
// models.
type ModelFactory func(ctx context.Context, entry *modelregistry.Entry, creds modelregistry.Credentials) (llms.Model, error)

// Options tune a single orchestrator instance.
type Options struct {
	SystemPrompt    string
	MaxSteps        int
	FreeTokenLimit  int64
	ProviderTimeout time.Duration
}

// TurnRequest is one user submission. MessageID is client-supplied so a
// retried submission after a failed turn is idempotent: the store rejects
// the duplicate append and the turn proceeds with the already-persisted
// user message.
type TurnRequest struct {
	UserID        int64
	ThreadID      string
	MessageID     string
	ModelID       string
	Text          string
	Attachments   []models.Attachment
	SearchEnabled bool
	Credentials   modelregistry.Credentials
}

// Orchestrator drives one streaming chat turn end to end: validation,
// persistence, the provider step loop, tool execution, and usage metering.
type Orchestrator struct {
	store    Store
	meter    usage.Meter
	registry *modelregistry.Registry
	tools    ToolExecutor
	titles   TitleQueuer
	factory  ModelFactory
	opts     Options
	locks    *threadLocks
}

func NewOrchestrator(store Store, meter usage.Meter, registry *modelregistry.Registry, tools ToolExecutor, titles TitleQueuer, factory ModelFactory, opts Options) *Orchestrator {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 4
	}
	if opts.FreeTokenLimit <= 0 {
		opts.FreeTokenLimit = 1000
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 120 * time.Second
	}
	if factory == nil {
		factory = func(ctx context.Context, entry *modelregistry.Entry, creds modelregistry.Credentials) (llms.Model, error) {
			return entry.NewModel(ctx, creds)
		}
	}
	return &Orchestrator{
		store:    store,
		meter:    meter,
		registry: registry,
		tools:    tools,
		titles:   titles,
		factory:  factory,
		opts:     opts,
		locks:    newThreadLocks(),
	}
}

// StreamTurn runs one turn, emitting events to the sink as they happen.
//
// A returned error means nothing reached the client yet and callers can
// map it to an HTTP status; that covers pre-turn rejections and a
// provider that fails before its first byte (ErrProviderUnavailable).
// Once any event has been emitted, failures are reported as an in-band
// error event and StreamTurn returns nil. The only other error return is
// a failing sink, which means the client is gone.
func (o *Orchestrator) StreamTurn(ctx context.Context, req TurnRequest, emit Sink) error {
	entry, err := o.registry.Resolve(req.ModelID)
	if err != nil {
		return err
	}

	// Caller-supplied keys bypass the free-tier quota entirely.
	if !req.Credentials.HasOverride() {
		used, err := o.meter.Usage(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("usage lookup: %w", err)
		}
		if used >= o.opts.FreeTokenLimit {
			return usage.ErrQuotaExceeded
		}
	}

	if req.ThreadID == "" {
		req.ThreadID = uuid.NewString()
	}
	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}

	release := o.locks.acquire(req.ThreadID)
	defer release()

	firstTurn := false
	thread, err := o.store.GetThread(ctx, req.ThreadID)
	switch {
	case errors.Is(err, ErrThreadNotFound):
		thread = &models.Thread{
			ID:     req.ThreadID,
			UserID: req.UserID,
			Title:  models.PlaceholderTitle,
		}
		if err := o.store.CreateThread(ctx, thread); err != nil {
			return fmt.Errorf("create thread: %w", err)
		}
		firstTurn = true
	case err != nil:
		return fmt.Errorf("load thread: %w", err)
	case thread.UserID != req.UserID:
		return ErrThreadForbidden
	}

	history, err := o.store.ListMessages(ctx, req.ThreadID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	userMsg := &models.Message{
		ID:       req.MessageID,
		ThreadID: req.ThreadID,
		Role:     models.RoleUser,
		Content:  req.Text,
		Parts:    userParts(req),
	}
	if err := o.store.AppendMessage(ctx, userMsg); err != nil {
		if !errors.Is(err, ErrDuplicateMessage) {
			return fmt.Errorf("persist user message: %w", err)
		}
		// Retry of a turn whose user message already landed; the message
		// is in the loaded history.
	} else {
		history = append(history, userMsg)
		// The thread's updated-at tracks every appended message, not just
		// completed turns, so a failed turn still surfaces the thread at
		// the top of the list.
		if err := o.store.TouchThread(ctx, req.ThreadID, time.Now()); err != nil {
			log.Warn().Err(err).Str("thread_id", req.ThreadID).Msg("Failed to touch thread")
		}
	}

	model, err := o.factory(ctx, entry, req.Credentials)
	if err != nil {
		return fmt.Errorf("model %s: %w", entry.ID, err)
	}

	turn := &turnState{
		orch:  o,
		req:   req,
		entry: entry,
		model: model,
		emit:  emit,
		msgs:  o.promptMessages(history),
	}

	if err := turn.run(ctx); err != nil {
		return err
	}
	if firstTurn && o.titles != nil {
		if err := o.titles.QueueTitle(ctx, req.ThreadID, req.Text); err != nil {
			log.Warn().Err(err).Str("thread_id", req.ThreadID).Msg("Failed to queue title generation")
		}
	}
	return nil
}

// userParts builds the ordered parts for a user message: text plus one
// file part per attachment.
func userParts(req TurnRequest) []models.MessagePart {
	parts := []models.MessagePart{{Type: models.PartText, Text: req.Text}}
	for _, a := range req.Attachments {
		parts = append(parts, models.MessagePart{
			Type:        models.PartFile,
			FileURL:     a.URL,
			FileName:    a.Name,
			ContentType: a.ContentType,
		})
	}
	return parts
}

// promptMessages maps persisted history into provider messages. The
// system prompt leads; tool traffic from earlier turns is not replayed,
// only the text the user saw plus any image attachments on user turns.
func (o *Orchestrator) promptMessages(history []*models.Message) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(history)+1)
	if o.opts.SystemPrompt != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, o.opts.SystemPrompt))
	}
	for _, m := range history {
		switch m.Role {
		case models.RoleUser:
			mc := llms.MessageContent{Role: llms.ChatMessageTypeHuman}
			if m.Content != "" {
				mc.Parts = append(mc.Parts, llms.TextPart(m.Content))
			}
			for _, p := range m.Parts {
				if p.Type == models.PartFile && strings.HasPrefix(p.ContentType, "image/") {
					mc.Parts = append(mc.Parts, llms.ImageURLPart(p.FileURL))
				}
			}
			if len(mc.Parts) > 0 {
				msgs = append(msgs, mc)
			}
		case models.RoleAssistant:
			if m.Content != "" {
				msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeAI, m.Content))
			}
		case models.RoleSystem:
			if m.Content != "" {
				msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
			}
		}
	}
	return msgs
}

// turnState carries one in-flight turn through the step loop.
type turnState struct {
	orch  *Orchestrator
	req   TurnRequest
	entry *modelregistry.Entry
	model llms.Model
	emit  Sink
	msgs  []llms.MessageContent

	parts   []models.MessagePart
	text    strings.Builder
	tokens  int64
	steps   int
	emitted bool
	sinkErr error
}

// send forwards one event to the sink and marks the stream as started,
// which switches failure reporting from error returns to in-band events.
func (t *turnState) send(ev Event) error {
	t.emitted = true
	return t.emit(ev)
}

// run drives the provider step loop. After the first emitted event it
// returns an error only when the sink fails; provider and persistence
// failures are emitted in-band and swallowed. A provider that dies
// before anything streamed surfaces as ErrProviderUnavailable instead.
func (t *turnState) run(ctx context.Context) error {
	o := t.orch

	for step := 0; step < o.opts.MaxSteps; step++ {
		if step > 0 {
			t.parts = append(t.parts, models.MessagePart{Type: models.PartStepStart})
			if err := t.send(Event{Type: EventStepStart}); err != nil {
				return err
			}
		}
		t.steps++

		// On the last allowed step the model gets no tools, forcing a
		// final answer instead of another call that could never be
		// consumed.
		offerTools := step < o.opts.MaxSteps-1 && o.tools != nil && t.req.SearchEnabled
		choice, err := t.generate(ctx, offerTools)
		if t.sinkErr != nil {
			return t.sinkErr
		}
		if err != nil {
			if ctx.Err() != nil {
				// Client cancelled; nothing assistant-side is persisted.
				log.Info().Str("thread_id", t.req.ThreadID).Msg("Turn cancelled mid-stream")
				return nil
			}
			log.Error().Err(err).Str("model", t.entry.ID).Msg("Provider call failed")
			if !t.emitted {
				return fmt.Errorf("%w: %s", ErrProviderUnavailable, err.Error())
			}
			if emitErr := t.send(Event{Type: EventError, Error: providerErrorText(err)}); emitErr != nil {
				return emitErr
			}
			return nil
		}

		t.tokens += completionTokens(choice.GenerationInfo)

		if choice.ReasoningContent != "" {
			t.parts = append(t.parts, models.MessagePart{Type: models.PartReasoning, Text: choice.ReasoningContent})
			if err := t.send(Event{Type: EventReasoningDelta, Text: choice.ReasoningContent}); err != nil {
				return err
			}
		}
		if choice.Content != "" {
			t.parts = append(t.parts, models.MessagePart{Type: models.PartText, Text: choice.Content})
			t.text.WriteString(choice.Content)
		}

		if len(choice.ToolCalls) == 0 || !offerTools {
			break
		}
		if err := t.runTools(ctx, choice); err != nil {
			return err
		}
	}

	return t.finish(ctx)
}

// generate issues one provider call, relaying streamed text chunks to the
// sink as they arrive.
func (t *turnState) generate(ctx context.Context, offerTools bool) (*llms.ContentChoice, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.orch.opts.ProviderTimeout)
	defer cancel()

	opts := []llms.CallOption{
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			if err := t.send(Event{Type: EventTextDelta, Text: string(chunk)}); err != nil {
				t.sinkErr = err
				return err
			}
			return nil
		}),
	}
	if offerTools {
		opts = append(opts, llms.WithTools(t.orch.tools.Definitions()))
	}

	resp, err := t.model.GenerateContent(callCtx, t.msgs, opts...)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("provider returned no choices")
	}
	return resp.Choices[0], nil
}

// runTools executes every tool call in the choice, emits the call/result
// pair for each, and folds the exchange back into the prompt so the next
// step sees the results.
func (t *turnState) runTools(ctx context.Context, choice *llms.ContentChoice) error {
	assistant := llms.MessageContent{Role: llms.ChatMessageTypeAI}
	if choice.Content != "" {
		assistant.Parts = append(assistant.Parts, llms.TextPart(choice.Content))
	}

	var responses []llms.MessageContent
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		assistant.Parts = append(assistant.Parts, tc)

		inv := &models.ToolInvocation{
			ToolCallID: tc.ID,
			ToolName:   tc.FunctionCall.Name,
			Args:       tc.FunctionCall.Arguments,
			State:      models.ToolStatePending,
		}
		// The invocation is mutated once the tool returns; the call event
		// gets its own copy so buffered sinks keep seeing it as pending.
		pending := *inv
		if err := t.send(Event{Type: EventToolCall, ToolCall: &pending}); err != nil {
			return err
		}

		result, err := t.orch.tools.Execute(ctx, tc.FunctionCall.Name, tc.FunctionCall.Arguments)
		if err != nil {
			// Feed the failure back so the model can tell the user what
			// went wrong instead of the stream dying.
			log.Warn().Err(err).Str("tool", tc.FunctionCall.Name).Msg("Tool execution failed")
			inv.State = models.ToolStateError
			inv.Result = err.Error()
			result = fmt.Sprintf("Tool error: %s", err.Error())
		} else {
			inv.State = models.ToolStateResult
			inv.Result = result
		}

		t.parts = append(t.parts, models.MessagePart{Type: models.PartToolInvocation, ToolInvocation: inv})
		if err := t.send(Event{Type: EventToolResult, ToolCall: inv}); err != nil {
			return err
		}

		responses = append(responses, llms.MessageContent{
			Role: llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{llms.ToolCallResponse{
				ToolCallID: tc.ID,
				Name:       tc.FunctionCall.Name,
				Content:    result,
			}},
		})
	}

	t.msgs = append(t.msgs, assistant)
	t.msgs = append(t.msgs, responses...)
	return nil
}

// finish persists the assembled assistant message, records usage, and
// emits the terminal finish event.
func (t *turnState) finish(ctx context.Context) error {
	o := t.orch

	msg := &models.Message{
		ID:       uuid.NewString(),
		ThreadID: t.req.ThreadID,
		Role:     models.RoleAssistant,
		Model:    t.entry.ID,
		Content:  t.text.String(),
		Parts:    t.parts,
	}
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		log.Error().Err(err).Str("thread_id", t.req.ThreadID).Msg("Failed to persist assistant message")
		if emitErr := t.send(Event{Type: EventError, Error: "Failed to save the response. Please try again."}); emitErr != nil {
			return emitErr
		}
		return nil
	}
	if err := o.store.TouchThread(ctx, t.req.ThreadID, time.Now()); err != nil {
		log.Warn().Err(err).Str("thread_id", t.req.ThreadID).Msg("Failed to touch thread")
	}

	// Providers that report no token counts still consume quota: one
	// unit per assistant message keeps the free tier bounded.
	if t.tokens == 0 {
		t.tokens = 1
	}
	if !t.req.Credentials.HasOverride() {
		if err := o.meter.Record(ctx, t.req.UserID, t.tokens); err != nil {
			log.Error().Err(err).Int64("user_id", t.req.UserID).Msg("Failed to record usage")
		}
	}

	return t.send(Event{
		Type:      EventFinish,
		MessageID: msg.ID,
		Usage:     &TurnUsage{CompletionTokens: t.tokens, Steps: t.steps},
	})
}

// providerErrorText gives the client a displayable message without
// leaking provider internals.
func providerErrorText(err error) string {
	s := err.Error()
	if len(s) > 200 {
		s = s[:200]
	}
	return "The model provider returned an error: " + s
}

// completionTokens digs the output token count out of the provider's
// generation info. Each vendor adapter uses its own key.
func completionTokens(info map[string]any) int64 {
	for _, key := range []string{"CompletionTokens", "OutputTokens", "completion_tokens", "output_tokens", "candidates_token_count"} {
		v, ok := info[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int:
			return int64(n)
		case int32:
			return int64(n)
		case int64:
			return n
		case float64:
			return int64(n)
		}
	}
	return 0
}
