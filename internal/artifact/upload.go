// Package artifact hands produced mappings files to the task service.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/steamok/usmapctl/internal/httpclient"
)

const (
	uploadPath = "/api/upload_usmap"
	rerunPath  = "/api/task/"
)

// Upload describes one artifact hand-off.
type Upload struct {
	TaskID string
	Path   string
	// AESKey and UEVersion are optional metadata forwarded to the service.
	AESKey    string
	UEVersion string
}

// Uploader hands an artifact to the remote service.
type Uploader interface {
	Upload(ctx context.Context, upload Upload) error
}

// HTTPUploader uploads the artifact and then asks the service to rerun the
// task with it.
type HTTPUploader struct {
	BaseURL string
	Client  httpclient.Doer
	Logger  *slog.Logger
}

type apiResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (u *HTTPUploader) Upload(ctx context.Context, upload Upload) error {
	base := strings.TrimRight(strings.TrimSpace(u.BaseURL), "/")
	if base == "" {
		return errors.New("upload base URL is not configured")
	}
	if strings.TrimSpace(upload.TaskID) == "" {
		return errors.New("task id is required")
	}

	body, contentType, err := multipartBody(upload)
	if err != nil {
		return err
	}
	if err := u.post(ctx, base+uploadPath, contentType, body); err != nil {
		return fmt.Errorf("upload artifact for task %s: %w", upload.TaskID, err)
	}
	u.logger().Info("artifact uploaded",
		slog.String("task_id", upload.TaskID),
		slog.String("path", upload.Path))

	if err := u.post(ctx, base+rerunPath+url.PathEscape(upload.TaskID), "", nil); err != nil {
		return fmt.Errorf("trigger rerun of task %s: %w", upload.TaskID, err)
	}
	u.logger().Info("task rerun triggered", slog.String("task_id", upload.TaskID))
	return nil
}

func (u *HTTPUploader) logger() *slog.Logger {
	if u.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return u.Logger
}

func (u *HTTPUploader) post(ctx context.Context, target, contentType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	client := u.Client
	if client == nil {
		client = httpclient.NewLoggingHTTPClient(u.logger())
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	msg := strings.TrimSpace(string(raw))
	var apiResp apiResponse
	if json.Unmarshal(raw, &apiResp) == nil && apiResp.Error != "" {
		msg = apiResp.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
}

func multipartBody(upload Upload) ([]byte, string, error) {
	f, err := os.Open(upload.Path)
	if err != nil {
		return nil, "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("taskId", upload.TaskID); err != nil {
		return nil, "", err
	}
	if upload.AESKey != "" {
		if err := w.WriteField("aesKey", upload.AESKey); err != nil {
			return nil, "", err
		}
	}
	if upload.UEVersion != "" {
		if err := w.WriteField("ueVersion", upload.UEVersion); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile("file", filepath.Base(upload.Path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read artifact: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
