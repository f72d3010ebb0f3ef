package httpclient

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/steamok/usmapctl/internal/log"
	"github.com/stretchr/testify/require"
)

// capture returns a logger writing JSON at level and a func decoding what it
// wrote, keyed by log_type.
func capture(t *testing.T, level slog.Level) (*slog.Logger, func() map[string]map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level}))
	return logger, func() map[string]map[string]any {
		records := map[string]map[string]any{}
		for line := range strings.Lines(buf.String()) {
			var record map[string]any
			require.NoError(t, json.Unmarshal([]byte(line), &record))
			kind, _ := record["log_type"].(string)
			records[kind] = record
		}
		return records
	}
}

func echoServer(t *testing.T, status int, body string, header http.Header) (*httptest.Server, *string) {
	t.Helper()
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		seen = string(raw)
		for k, v := range header {
			w.Header()[k] = v
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestDebugLogsMetadataOnly(t *testing.T) {
	t.Parallel()

	srv, _ := echoServer(t, http.StatusOK, `{"data":[]}`, http.Header{"Content-Type": {"application/json"}})
	logger, records := capture(t, slog.LevelDebug)

	ctx := log.WithTaskContext(t.Context(), log.TaskLogContext{TaskID: "1042", Phase: "pull"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		srv.URL+"/api/search_tasks?page=2&token=secret", strings.NewReader(`{"query":"error"}`))
	require.NoError(t, err)

	resp, err := NewLoggingHTTPClient(logger).Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	logged := records()
	request, response := logged[logTypeRequest], logged[logTypeResponse]
	require.Equal(t, "POST", request["method"])
	require.Equal(t, "/api/search_tasks", request["route"])
	require.Equal(t, map[string]any{"page": "2", "token": redactedValue}, request["query_params"])
	require.Equal(t, "1042", request["task_id"])
	require.Equal(t, "pull", request["phase"])
	require.NotContains(t, request, "request_body")

	require.Equal(t, request["request_id"], response["request_id"])
	require.EqualValues(t, http.StatusOK, response["status_code"])
	require.NotContains(t, response, "response_body")
}

func TestTraceLogsRedactedBodies(t *testing.T) {
	t.Parallel()

	const (
		sent     = `{"taskId":"1042","aesKey":"0xdeadbeef","meta":[{"api_key":"k-1"}]}`
		returned = `{"id":"1042","token":"response-secret"}`
	)
	srv, seen := echoServer(t, http.StatusCreated, returned, http.Header{
		"Content-Type": {"application/json"},
		"Set-Cookie":   {"session=abc123"},
	})
	logger, records := capture(t, log.LevelTrace)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/task/1042", io.NopCloser(strings.NewReader(sent)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer definitely-secret")

	resp, err := NewLoggingHTTPClient(logger).Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	// Logging must not consume either body.
	require.Equal(t, sent, *seen)
	require.Equal(t, returned, string(body))

	logged := records()
	requestBody := logged[logTypeRequest]["request_body"].(string)
	require.Contains(t, requestBody, `"aesKey":"`+redactedValue+`"`)
	require.Contains(t, requestBody, `"api_key":"`+redactedValue+`"`)
	require.NotContains(t, requestBody, "0xdeadbeef")
	require.Equal(t, redactedValue, logged[logTypeRequest]["request_headers"].(map[string]any)["Authorization"])

	responseBody := logged[logTypeResponse]["response_body"].(string)
	require.Contains(t, responseBody, `"token":"`+redactedValue+`"`)
	require.Equal(t, redactedValue, logged[logTypeResponse]["response_headers"].(map[string]any)["Set-Cookie"])
}

func TestTraceSkipsMultipartAndTruncatesLargeBodies(t *testing.T) {
	t.Parallel()

	large := strings.Repeat("x", maxLoggedBody+10)
	srv, _ := echoServer(t, http.StatusOK, large, http.Header{"Content-Type": {"text/plain"}})
	logger, records := capture(t, log.LevelTrace)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/upload_usmap",
		strings.NewReader("--b\r\nContent-Disposition: form-data; name=\"file\"\r\n\r\nbinary\r\n--b--"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "multipart/form-data; boundary=b")

	resp, err := NewLoggingHTTPClient(logger).Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	logged := records()
	require.NotContains(t, logged[logTypeRequest], "request_body")
	require.True(t, strings.HasSuffix(logged[logTypeResponse]["response_body"].(string), "... [truncated]"))
}

func TestFailedRequestIsLogged(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	logger, records := capture(t, slog.LevelDebug)

	req, err := http.NewRequest(http.MethodGet, url+"/api/search_tasks", nil)
	require.NoError(t, err)
	_, err = NewLoggingHTTPClient(logger).Do(req)
	require.Error(t, err)

	failure := records()[logTypeResponse]
	require.Equal(t, "HTTP request failed", failure["msg"])
	require.NotEmpty(t, failure["error"])
}

func TestNothingLoggedBelowDebug(t *testing.T) {
	t.Parallel()

	srv, _ := echoServer(t, http.StatusNoContent, "", nil)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/search_tasks", nil)
	require.NoError(t, err)
	resp, err := NewLoggingHTTPClient(logger).Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Empty(t, buf.String())
}
