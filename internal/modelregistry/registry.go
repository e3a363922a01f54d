package modelregistry

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrUnknownModel is returned when a model id has no registry entry.
var ErrUnknownModel = errors.New("unknown model")

// Vendor identifies an LLM provider backend
type Vendor string

const (
	VendorGoogle    Vendor = "google"
	VendorOpenAI    Vendor = "openai"
	VendorAnthropic Vendor = "anthropic"
	VendorGroq      Vendor = "groq"
	VendorOllama    Vendor = "ollama"
)

// Groq serves an OpenAI-compatible API; the openai adapter is pointed at it.
const groqBaseURL = "https://api.groq.com/openai/v1"

// Entry describes one selectable model: which vendor serves it, the
// vendor-side model id, and the header callers use to supply their own key.
type Entry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Vendor      Vendor `json:"vendor"`
	VendorModel string `json:"-"`
	HeaderKey   string `json:"header_key"`
	Reasoning   bool   `json:"reasoning"`
}

// Credentials carries credential resolution inputs for one invocation.
// Override (from the request) takes precedence over Default (from config);
// with neither, the vendor call fails at invocation time.
type Credentials struct {
	Override string
	Default  string
	BaseURL  string
}

// APIKey resolves the effective key.
func (c Credentials) APIKey() string {
	if c.Override != "" {
		return c.Override
	}
	return c.Default
}

// HasOverride reports whether the caller supplied their own key. A caller
// key bypasses usage metering.
func (c Credentials) HasOverride() bool { return c.Override != "" }

// NewModel constructs a langchaingo model client for this entry.
func (e *Entry) NewModel(ctx context.Context, creds Credentials) (llms.Model, error) {
	apiKey := creds.APIKey()
	if apiKey == "" && e.Vendor != VendorOllama {
		return nil, fmt.Errorf("no API key configured for vendor %s", e.Vendor)
	}

	log.Debug().
		Str("model", e.ID).
		Str("vendor", string(e.Vendor)).
		Bool("key_override", creds.HasOverride()).
		Msg("Creating model client")

	switch e.Vendor {
	case VendorOpenAI:
		opts := []openai.Option{
			openai.WithToken(apiKey),
			openai.WithModel(e.VendorModel),
		}
		if creds.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(creds.BaseURL))
		}
		return openai.New(opts...)

	case VendorGroq:
		baseURL := creds.BaseURL
		if baseURL == "" {
			baseURL = groqBaseURL
		}
		return openai.New(
			openai.WithToken(apiKey),
			openai.WithModel(e.VendorModel),
			openai.WithBaseURL(baseURL),
		)

	case VendorAnthropic:
		return anthropic.New(
			anthropic.WithToken(apiKey),
			anthropic.WithModel(e.VendorModel),
		)

	case VendorGoogle:
		return googleai.New(ctx,
			googleai.WithAPIKey(apiKey),
			googleai.WithDefaultModel(e.VendorModel),
		)

	case VendorOllama:
		baseURL := creds.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return ollama.New(
			ollama.WithServerURL(baseURL),
			ollama.WithModel(e.VendorModel),
		)

	default:
		return nil, fmt.Errorf("unsupported vendor: %s", e.Vendor)
	}
}

// Registry is a startup-populated lookup table from model id to Entry.
// It has no side effects; adding a vendor or model is a pure addition here.
type Registry struct {
	entries map[string]*Entry
	order   []string
	def     string
}

// DefaultModelID is used when a request names no model.
const DefaultModelID = "gemini-2.5-flash"

// New builds the registry with the built-in model table.
func New() *Registry {
	r := &Registry{entries: map[string]*Entry{}, def: DefaultModelID}
	for _, e := range builtinModels {
		entry := e
		r.entries[e.ID] = &entry
		r.order = append(r.order, e.ID)
	}
	return r
}

// Resolve maps a logical model id to its entry. An empty id resolves to
// the default model.
func (r *Registry) Resolve(modelID string) (*Entry, error) {
	if modelID == "" {
		modelID = r.def
	}
	e, ok := r.entries[modelID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, modelID)
	}
	return e, nil
}

// Models returns all entries in registration order, for the model picker.
func (r *Registry) Models() []*Entry {
	out := make([]*Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

var builtinModels = []Entry{
	{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", Vendor: VendorGoogle, VendorModel: "gemini-2.5-flash", HeaderKey: "x-google-api-key"},
	{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", Vendor: VendorGoogle, VendorModel: "gemini-2.5-pro", HeaderKey: "x-google-api-key"},
	{ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash Lite", Vendor: VendorGoogle, VendorModel: "gemini-2.0-flash-lite", HeaderKey: "x-google-api-key"},
	{ID: "gpt-4o", Name: "GPT-4o", Vendor: VendorOpenAI, VendorModel: "gpt-4o", HeaderKey: "x-openai-api-key"},
	{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Vendor: VendorOpenAI, VendorModel: "gpt-4o-mini", HeaderKey: "x-openai-api-key"},
	{ID: "gpt-4.1", Name: "GPT-4.1", Vendor: VendorOpenAI, VendorModel: "gpt-4.1", HeaderKey: "x-openai-api-key"},
	{ID: "claude-3.5-sonnet", Name: "Claude 3.5 Sonnet", Vendor: VendorAnthropic, VendorModel: "claude-3-5-sonnet-latest", HeaderKey: "x-anthropic-api-key"},
	{ID: "claude-3.7-sonnet", Name: "Claude 3.7 Sonnet", Vendor: VendorAnthropic, VendorModel: "claude-3-7-sonnet-latest", HeaderKey: "x-anthropic-api-key", Reasoning: true},
	{ID: "claude-4-sonnet", Name: "Claude 4 Sonnet", Vendor: VendorAnthropic, VendorModel: "claude-sonnet-4-0", HeaderKey: "x-anthropic-api-key", Reasoning: true},
	{ID: "meta-llama/llama-4-scout-17b-16e-instruct", Name: "Llama 4 Scout 17B", Vendor: VendorGroq, VendorModel: "meta-llama/llama-4-scout-17b-16e-instruct", HeaderKey: "x-groq-api-key"},
	{ID: "deepseek-r1-distill-llama-70b", Name: "DeepSeek R1 Distill Llama 70B", Vendor: VendorGroq, VendorModel: "deepseek-r1-distill-llama-70b", HeaderKey: "x-groq-api-key", Reasoning: true},
	{ID: "llama-3.3-70b-versatile", Name: "Llama 3.3 70B Versatile", Vendor: VendorGroq, VendorModel: "llama-3.3-70b-versatile", HeaderKey: "x-groq-api-key"},
}
