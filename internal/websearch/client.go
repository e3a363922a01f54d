// Package websearch implements the web search tool the model can invoke
// mid-generation. Failures never abort the turn: the tool returns a single
// synthetic error result so the model can narrate the failure to the user.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/relaychat/internal/retry"
)

// excerptLimit bounds how much page text is fed back into the prompt on
// subsequent model steps.
const excerptLimit = 1000

// Result is one ranked search hit.
type Result struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Content       string `json:"content"`
	PublishedDate string `json:"published_date,omitempty"`
}

// Config for the search client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxResults int
}

// Client calls an Exa-compatible search API.
type Client struct {
	cfg      Config
	http     *http.Client
	limiter  *rate.Limiter
	retryCfg retry.Config
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 3
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Every(time.Second), 5),
		retryCfg: retry.DefaultConfig(),
	}
}

type searchRequest struct {
	Query      string         `json:"query"`
	NumResults int            `json:"numResults"`
	Contents   searchContents `json:"contents"`
}

type searchContents struct {
	Text bool `json:"text"`
}

type searchResponse struct {
	Results []struct {
		Title         string `json:"title"`
		URL           string `json:"url"`
		Text          string `json:"text"`
		PublishedDate string `json:"publishedDate"`
	} `json:"results"`
}

// Search returns a small ranked list of results. On any failure it returns
// a single synthetic error result and no error.
func (c *Client) Search(ctx context.Context, query string, maxResults int) []Result {
	if c.cfg.APIKey == "" {
		log.Error().Msg("Web search is not configured: missing search API key")
		return errorResult("Web search is not configured on this server.")
	}
	if maxResults <= 0 || maxResults > c.cfg.MaxResults {
		maxResults = c.cfg.MaxResults
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return errorResult(fmt.Sprintf("Unable to perform web search: %v", err))
	}

	log.Debug().Str("query", query).Int("max_results", maxResults).Msg("Web search initiated")

	var results []Result
	err := retry.Do(ctx, c.retryCfg, func() error {
		var searchErr error
		results, searchErr = c.search(ctx, query, maxResults)
		return searchErr
	})
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("Web search failed")
		return errorResult(fmt.Sprintf("Unable to perform web search: %v", err))
	}

	log.Debug().Int("results", len(results)).Msg("Web search completed")
	return results
}

func (c *Client) search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	payload, err := json.Marshal(searchRequest{
		Query:      query,
		NumResults: maxResults,
		Contents:   searchContents{Text: true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/search", bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("search API error (status %d): %s", resp.StatusCode, string(body))
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	out := make([]Result, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		out = append(out, Result{
			Title:         r.Title,
			URL:           r.URL,
			Content:       truncate(r.Text, excerptLimit),
			PublishedDate: r.PublishedDate,
		})
	}
	return out, nil
}

func errorResult(msg string) []Result {
	return []Result{{Title: "Search Error", Content: msg}}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
