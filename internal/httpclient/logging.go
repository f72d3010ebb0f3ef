// Package httpclient provides the HTTP client shared by the task source, the
// uploader and the webhook sink. Requests are logged at debug level and
// bodies at trace level, with credentials redacted.
package httpclient

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/steamok/usmapctl/internal/log"
)

const (
	DefaultTimeout = 60 * time.Second

	logTypeRequest  = "http_request"
	logTypeResponse = "http_response"
	redactedValue   = "[REDACTED]"
	maxLoggedBody   = 4096
)

var sensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"authorization",
	"cookie",
	"aeskey",
	"aes_key",
	"webhook",
}

// Doer is satisfied by *http.Client and LoggingHTTPClient.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// LoggingHTTPClient wraps an HTTP client to add request logging
type LoggingHTTPClient struct {
	wrapped *http.Client
	logger  *slog.Logger
}

// NewLoggingHTTPClient creates a new logging HTTP client
func NewLoggingHTTPClient(logger *slog.Logger) *LoggingHTTPClient {
	return NewLoggingHTTPClientWithClient(&http.Client{Timeout: DefaultTimeout}, logger)
}

// NewLoggingHTTPClientWithClient wraps an existing HTTP client
func NewLoggingHTTPClientWithClient(client *http.Client, logger *slog.Logger) *LoggingHTTPClient {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LoggingHTTPClient{wrapped: client, logger: logger}
}

func (c *LoggingHTTPClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if !c.logger.Enabled(ctx, slog.LevelDebug) {
		return c.wrapped.Do(req)
	}
	withBodies := c.logger.Enabled(ctx, log.LevelTrace)
	requestID := uuid.NewString()

	c.logRequest(req, requestID, withBodies)

	start := time.Now()
	resp, err := c.wrapped.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.logger.LogAttrs(ctx, slog.LevelDebug, "HTTP request failed",
			slog.String("log_type", logTypeResponse),
			slog.String("request_id", requestID),
			slog.String("method", req.Method),
			slog.String("route", req.URL.Path),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	c.logResponse(resp, requestID, duration, withBodies)
	return resp, nil
}

func (c *LoggingHTTPClient) logRequest(req *http.Request, requestID string, withBodies bool) {
	attrs := []slog.Attr{
		slog.String("log_type", logTypeRequest),
		slog.String("request_id", requestID),
		slog.String("method", req.Method),
		slog.String("host", req.URL.Host),
		slog.String("route", req.URL.Path),
		slog.Any("query_params", redactQuery(req.URL.Query())),
		slog.Any("request_headers", redactHeaders(req.Header)),
	}
	if req.ContentLength > 0 {
		attrs = append(attrs, slog.Int64("content_length", req.ContentLength))
	}
	attrs = append(attrs, log.TaskContextAttrs(req.Context())...)
	if withBodies && req.Body != nil && req.GetBody == nil {
		// make the body replayable before peeking
		raw, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err == nil {
			req.Body = io.NopCloser(bytes.NewReader(raw))
			req.GetBody = func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(raw)), nil
			}
		}
	}
	if withBodies && req.GetBody != nil {
		if body, ok := loggableBody(req.Header.Get("Content-Type"), req.GetBody); ok {
			attrs = append(attrs, slog.String("request_body", body))
		}
	}
	c.logger.LogAttrs(req.Context(), slog.LevelDebug, "HTTP request", attrs...)
}

func (c *LoggingHTTPClient) logResponse(resp *http.Response, requestID string, duration time.Duration, withBodies bool) {
	ctx := resp.Request.Context()
	attrs := []slog.Attr{
		slog.String("log_type", logTypeResponse),
		slog.String("request_id", requestID),
		slog.Int("status_code", resp.StatusCode),
		slog.String("status_text", resp.Status),
		slog.Duration("duration", duration),
		slog.Any("response_headers", redactHeaders(resp.Header)),
	}
	if resp.ContentLength > 0 {
		attrs = append(attrs, slog.Int64("content_length", resp.ContentLength))
	}
	if withBodies && resp.Body != nil {
		raw, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		// restore the body for the caller
		resp.Body = io.NopCloser(bytes.NewReader(raw))
		if err == nil {
			open := func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(raw)), nil }
			if body, ok := loggableBody(resp.Header.Get("Content-Type"), open); ok {
				attrs = append(attrs, slog.String("response_body", body))
			}
		}
	}
	c.logger.LogAttrs(ctx, slog.LevelDebug, "HTTP response", attrs...)
}

func loggableBody(contentType string, open func() (io.ReadCloser, error)) (string, bool) {
	if strings.HasPrefix(strings.ToLower(contentType), "multipart/") {
		return "", false
	}
	rc, err := open()
	if err != nil {
		return "", false
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil || len(raw) == 0 {
		return "", false
	}
	body := redactBody(raw)
	if len(body) > maxLoggedBody {
		body = body[:maxLoggedBody] + "... [truncated]"
	}
	return body, true
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if isSensitive(k) || strings.EqualFold(k, "x-api-key") {
			out[k] = redactedValue
			continue
		}
		out[k] = strings.Join(v, ", ")
	}
	return out
}

func redactQuery(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if isSensitive(k) {
			out[k] = redactedValue
			continue
		}
		out[k] = strings.Join(v, ",")
	}
	return out
}

// redactBody masks sensitive fields of JSON bodies. Other payloads are
// returned as text.
func redactBody(raw []byte) string {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return string(raw)
	}
	redacted, err := json.Marshal(redactValue(doc))
	if err != nil {
		return string(raw)
	}
	return string(redacted)
}

func redactValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		for k, inner := range typed {
			if isSensitive(k) {
				typed[k] = redactedValue
				continue
			}
			typed[k] = redactValue(inner)
		}
		return typed
	case []any:
		for i := range typed {
			typed[i] = redactValue(typed[i])
		}
		return typed
	default:
		return v
	}
}
