package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/relaychat/internal/api/auth"
	"github.com/relaychat/internal/chat"
	"github.com/relaychat/internal/config"
	"github.com/relaychat/internal/modelregistry"
	"github.com/relaychat/internal/usage"
	"github.com/relaychat/pkg/models"
)

// ChatRequest is one user submission to the streaming endpoint.
type ChatRequest struct {
	ThreadID      string              `json:"thread_id"`
	MessageID     string              `json:"message_id"`
	Model         string              `json:"model"`
	Message       string              `json:"message"`
	SearchEnabled bool                `json:"search_enabled"`
	Attachments   []models.Attachment `json:"attachments"`
}

// streamChat runs one chat turn over SSE. Errors before the stream opens
// map to HTTP statuses; once events flow, failures arrive as in-band
// error events on the stream itself.
func (s *Server) streamChat(c echo.Context) error {
	identity := auth.GetIdentity(c)
	if identity == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
	}

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Message is required")
	}

	entry, err := s.registry.Resolve(req.Model)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Unknown model: %s", req.Model))
	}

	stream := &sseStream{c: c}
	err = s.orchestrator.StreamTurn(c.Request().Context(), chat.TurnRequest{
		UserID:        identity.UserID,
		ThreadID:      req.ThreadID,
		MessageID:     req.MessageID,
		ModelID:       entry.ID,
		Text:          req.Message,
		Attachments:   req.Attachments,
		SearchEnabled: req.SearchEnabled,
		Credentials:   credentialsFor(entry, s.cfg.Providers, c),
	}, stream.emit)

	if err != nil {
		if stream.started {
			// The client is gone or the stream broke; the status line has
			// already been sent.
			log.Debug().Err(err).Msg("Chat stream aborted")
			return nil
		}
		return mapTurnError(err)
	}
	return nil
}

// credentialsFor resolves the effective credential chain for a model:
// the caller's per-vendor header beats the configured default.
func credentialsFor(entry *modelregistry.Entry, providers map[string]config.ProviderConfig, c echo.Context) modelregistry.Credentials {
	p := providers[string(entry.Vendor)]
	return modelregistry.Credentials{
		Override: strings.TrimSpace(c.Request().Header.Get(entry.HeaderKey)),
		Default:  p.APIKey,
		BaseURL:  p.BaseURL,
	}
}

func mapTurnError(err error) error {
	switch {
	case errors.Is(err, modelregistry.ErrUnknownModel):
		return echo.NewHTTPError(http.StatusBadRequest, "Unknown model")
	case errors.Is(err, usage.ErrQuotaExceeded):
		return echo.NewHTTPError(http.StatusForbidden, "Free limit reached. Supply your own API key to continue.")
	case errors.Is(err, chat.ErrThreadForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "Thread belongs to another user")
	case errors.Is(err, chat.ErrProviderUnavailable):
		log.Error().Err(err).Msg("Provider failed before streaming")
		return echo.NewHTTPError(http.StatusBadGateway, "The model provider is unavailable. Please try again.")
	default:
		log.Error().Err(err).Msg("Chat turn failed before streaming")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to start chat")
	}
}

// sseStream writes events as server-sent events. Headers go out lazily on
// the first event so pre-stream failures can still use a real HTTP status.
type sseStream struct {
	c       echo.Context
	started bool
}

func (s *sseStream) emit(ev chat.Event) error {
	if !s.started {
		h := s.c.Response().Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		s.c.Response().WriteHeader(http.StatusOK)
		s.started = true
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(s.c.Response(), "data: %s\n\n", payload); err != nil {
		return err
	}
	s.c.Response().Flush()
	return nil
}
