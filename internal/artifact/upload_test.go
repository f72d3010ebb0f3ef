package artifact

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu        sync.Mutex
	uploads   map[string]string
	fields    map[string]string
	reruns    []string
	uploadErr int
}

func (s *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case r.URL.Path == "/api/upload_usmap":
		if s.uploadErr != 0 {
			w.WriteHeader(s.uploadErr)
			_, _ = w.Write([]byte(`{"error":"task is locked"}`))
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		raw, _ := io.ReadAll(file)
		s.uploads[header.Filename] = string(raw)
		for _, key := range []string{"taskId", "aesKey", "ueVersion"} {
			s.fields[key] = r.FormValue(key)
		}
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	case r.Method == http.MethodPost && len(r.URL.Path) > len("/api/task/"):
		s.reruns = append(s.reruns, r.URL.Path[len("/api/task/"):])
		_, _ = w.Write([]byte(`{"message":"queued"}`))
	default:
		http.NotFound(w, r)
	}
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Alpha.usmap")
	require.NoError(t, os.WriteFile(path, []byte("USMAP-DATA"), 0o600))
	return path
}

func TestHTTPUploaderUploadsAndTriggersRerun(t *testing.T) {
	t.Parallel()

	svc := &fakeService{uploads: map[string]string{}, fields: map[string]string{}}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	u := &HTTPUploader{BaseURL: srv.URL + "/"}
	err := u.Upload(t.Context(), Upload{TaskID: "42", Path: writeArtifact(t), UEVersion: "5.3"})
	require.NoError(t, err)

	require.Equal(t, "USMAP-DATA", svc.uploads["Alpha.usmap"])
	require.Equal(t, "42", svc.fields["taskId"])
	require.Equal(t, "5.3", svc.fields["ueVersion"])
	require.Empty(t, svc.fields["aesKey"])
	require.Equal(t, []string{"42"}, svc.reruns)
}

func TestHTTPUploaderStopsOnUploadFailure(t *testing.T) {
	t.Parallel()

	svc := &fakeService{uploads: map[string]string{}, fields: map[string]string{}, uploadErr: http.StatusConflict}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	u := &HTTPUploader{BaseURL: srv.URL}
	err := u.Upload(t.Context(), Upload{TaskID: "42", Path: writeArtifact(t)})
	require.ErrorContains(t, err, "task is locked")
	require.Empty(t, svc.reruns)
}

func TestHTTPUploaderValidatesInput(t *testing.T) {
	t.Parallel()

	u := &HTTPUploader{BaseURL: "http://127.0.0.1:1"}
	require.Error(t, u.Upload(t.Context(), Upload{Path: "x"}))
	require.ErrorContains(t, u.Upload(t.Context(), Upload{TaskID: "1", Path: filepath.Join(t.TempDir(), "none.usmap")}), "open artifact")
	require.Error(t, (&HTTPUploader{}).Upload(t.Context(), Upload{TaskID: "1"}))
}
