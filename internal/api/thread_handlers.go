package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/relaychat/internal/api/auth"
	"github.com/relaychat/internal/chat"
	"github.com/relaychat/internal/modelregistry"
)

// listModels returns the model picker table.
func (s *Server) listModels(c echo.Context) error {
	def := s.cfg.Chat.DefaultModel
	if def == "" {
		def = modelregistry.DefaultModelID
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"default": def,
		"models":  s.registry.Models(),
	})
}

// listThreads returns the caller's threads, most recently active first.
func (s *Server) listThreads(c echo.Context) error {
	identity := auth.GetIdentity(c)
	if identity == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
	}

	threads, err := s.store.ListThreads(c.Request().Context(), identity.UserID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list threads")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list threads")
	}
	return c.JSON(http.StatusOK, threads)
}

// listMessages returns a thread's messages in order. Threads are private
// to their owner.
func (s *Server) listMessages(c echo.Context) error {
	identity := auth.GetIdentity(c)
	if identity == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
	}

	threadID := c.Param("id")
	thread, err := s.store.GetThread(c.Request().Context(), threadID)
	if err != nil {
		if errors.Is(err, chat.ErrThreadNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Thread not found")
		}
		log.Error().Err(err).Msg("Failed to load thread")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load thread")
	}
	if thread.UserID != identity.UserID {
		return echo.NewHTTPError(http.StatusForbidden, "Thread belongs to another user")
	}

	messages, err := s.store.ListMessages(c.Request().Context(), threadID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list messages")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list messages")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"thread":   thread,
		"messages": messages,
	})
}

// getUsage reports the caller's consumption against the free tier.
func (s *Server) getUsage(c echo.Context) error {
	identity := auth.GetIdentity(c)
	if identity == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
	}

	rec, err := s.usageReader.Get(c.Request().Context(), identity.UserID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load usage")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load usage")
	}

	limit := s.cfg.Chat.FreeTokenLimit
	remaining := limit - rec.TotalTokens
	if remaining < 0 {
		remaining = 0
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"total_tokens": rec.TotalTokens,
		"limit":        limit,
		"remaining":    remaining,
		"updated_at":   rec.UpdatedAt,
	})
}
