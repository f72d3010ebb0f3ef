// Package tasksource pulls task descriptors from the remote task service.
package tasksource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"

	"github.com/itchyny/gojq"
	"github.com/steamok/usmapctl/internal/httpclient"
	"github.com/steamok/usmapctl/internal/taskstore"
)

const (
	DefaultQuery = "error"
	DefaultTitle = "status"

	searchPath      = "/api/search_tasks"
	maxResponseBody = 32 << 20
)

// ErrSourceUnreachable marks a pull that could not reach the task service
// or got an unusable answer. Callers retry on the next tick.
var ErrSourceUnreachable = errors.New("task source unreachable")

// Source yields task descriptors.
type Source interface {
	Fetch(ctx context.Context) ([]taskstore.Candidate, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]taskstore.Candidate, error)

func (f SourceFunc) Fetch(ctx context.Context) ([]taskstore.Candidate, error) {
	return f(ctx)
}

// Options configure an HTTPSource.
type Options struct {
	BaseURL string
	// Query and Title form the search body; defaults select failed tasks.
	Query string
	Title string
	// Filter is a jq program selecting and projecting response items.
	Filter string
	// CatalogPath points at the id,name CSV used for display names.
	CatalogPath string
	Client      httpclient.Doer
	Logger      *slog.Logger
}

// HTTPSource searches the task service over HTTP.
type HTTPSource struct {
	opts Options
	code *gojq.Code
}

// NewHTTPSource validates opts and compiles the filter.
func NewHTTPSource(opts Options) (*HTTPSource, error) {
	opts.BaseURL = strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if opts.BaseURL == "" {
		return nil, errors.New("task source base URL is not configured")
	}
	if opts.Query == "" {
		opts.Query = DefaultQuery
	}
	if opts.Title == "" {
		opts.Title = DefaultTitle
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Client == nil {
		opts.Client = httpclient.NewLoggingHTTPClient(opts.Logger)
	}
	code, err := compileFilter(opts.Filter)
	if err != nil {
		return nil, err
	}
	return &HTTPSource{opts: opts, code: code}, nil
}

type searchRequest struct {
	Query string `json:"query"`
	Title string `json:"title"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Fetch runs one search. A 404 answer means there are no tasks.
func (s *HTTPSource) Fetch(ctx context.Context) ([]taskstore.Candidate, error) {
	body, err := json.Marshal(searchRequest{Query: s.opts.Query, Title: s.opts.Title})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.BaseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrSourceUnreachable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		s.opts.Logger.Debug("task source reported no tasks")
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg := strings.TrimSpace(string(raw))
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrSourceUnreachable, resp.StatusCode, msg)
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: response is not valid JSON: %w", ErrSourceUnreachable, err)
	}
	items, err := runFilter(s.code, payload)
	if err != nil {
		return nil, err
	}

	catalog := s.catalog()
	candidates := make([]taskstore.Candidate, 0, len(items))
	for _, it := range items {
		candidates = append(candidates, taskstore.Candidate{
			ID:          it.ID,
			DisplayName: catalog.NameOr(it.ID, it.Name),
			Detail:      it.Info,
		})
	}
	s.opts.Logger.Debug("task source answered",
		slog.Int("matched", len(candidates)),
		slog.Int("response_bytes", len(raw)))
	return candidates, nil
}

// catalog is reloaded on every fetch so edits apply without a restart.
func (s *HTTPSource) catalog() Catalog {
	if s.opts.CatalogPath == "" {
		return Catalog{}
	}
	catalog, err := LoadCatalog(s.opts.CatalogPath)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, fs.ErrNotExist) {
			level = slog.LevelDebug
		}
		s.opts.Logger.Log(context.Background(), level, "game catalog unavailable",
			slog.String("path", s.opts.CatalogPath),
			slog.Any("error", err))
		return Catalog{}
	}
	return catalog
}
