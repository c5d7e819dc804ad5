package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"renderwatch/internal/logging"
)

const slotWireLayout = "2006-01-02T15:04:05"

// HTTPClient publishes videos through the gate service's HTTP API. A session
// token obtained from the gate password authorizes upload and schedule calls.
type HTTPClient struct {
	baseURL    string
	gateToken  string
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	token string
}

// NewHTTPClient builds a production client. timeout bounds each request
// including the upload body transfer.
func NewHTTPClient(baseURL, gatePassword string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		gateToken:  gatePassword,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger(logger, "uploader"),
	}
}

// Authenticate exchanges the gate password for a session token. Calling it
// again refreshes the token.
func (c *HTTPClient) Authenticate(ctx context.Context) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: api base url is not configured", ErrAuthFailed)
	}

	payload, err := json.Marshal(map[string]string{"password": c.gateToken})
	if err != nil {
		return fmt.Errorf("encode auth payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/auth"), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: gate rejected password (status %d)", ErrAuthFailed, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth request: unexpected status %d: %s", resp.StatusCode, readSnippet(resp.Body))
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode auth response: %w", err)
	}
	if body.Token == "" {
		return fmt.Errorf("%w: gate returned empty token", ErrAuthFailed)
	}

	c.mu.Lock()
	c.token = body.Token
	c.mu.Unlock()

	c.logger.Debug("session established")
	return nil
}

// UploadVideo streams the file as a multipart request and returns the remote
// video identifier. The body is piped straight from disk so a multi-gigabyte
// render never has to fit in memory.
func (c *HTTPClient) UploadVideo(ctx context.Context, path string, account string) (Result, error) {
	token, err := c.sessionToken()
	if err != nil {
		return Result{}, err
	}

	file, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open video: %w", err)
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		defer file.Close()
		pw.CloseWithError(writeUploadForm(form, file, account, filepath.Base(path)))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/videos"), pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return Result{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Result{}, fmt.Errorf("%w: session expired", ErrAuthFailed)
	case resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError:
		return Result{}, fmt.Errorf("%w: upload status %d: %s", ErrRemoteRejected, resp.StatusCode, readSnippet(resp.Body))
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return Result{}, fmt.Errorf("upload request: unexpected status %d: %s", resp.StatusCode, readSnippet(resp.Body))
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("decode upload response: %w", err)
	}
	if body.ID == "" {
		return Result{}, fmt.Errorf("%w: upload response missing id", ErrRemoteRejected)
	}

	c.logger.Debug("video uploaded",
		logging.String(logging.FieldAccount, account),
		logging.String("video_id", body.ID),
	)
	return Result{ID: body.ID}, nil
}

// ScheduleVideo assigns a publish time to an uploaded video. The time is sent
// without a zone offset; the gate service interprets it in its local zone.
func (c *HTTPClient) ScheduleVideo(ctx context.Context, videoID string, at time.Time) error {
	token, err := c.sessionToken()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{"publish_at": at.Format(slotWireLayout)})
	if err != nil {
		return fmt.Errorf("encode schedule payload: %w", err)
	}

	target := c.endpoint("/api/videos/" + url.PathEscape(videoID) + "/schedule")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build schedule request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("schedule request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: session expired", ErrAuthFailed)
	case resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError:
		return fmt.Errorf("%w: schedule status %d: %s", ErrRemoteRejected, resp.StatusCode, readSnippet(resp.Body))
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent:
		return fmt.Errorf("schedule request: unexpected status %d: %s", resp.StatusCode, readSnippet(resp.Body))
	}
	return nil
}

func writeUploadForm(form *multipart.Writer, file io.Reader, account, filename string) error {
	if err := form.WriteField("account", account); err != nil {
		return fmt.Errorf("build upload form: %w", err)
	}
	part, err := form.CreateFormFile("video", filename)
	if err != nil {
		return fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("read video: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("finalize upload form: %w", err)
	}
	return nil
}

func (c *HTTPClient) sessionToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return "", fmt.Errorf("%w: authenticate before uploading", ErrAuthFailed)
	}
	return c.token, nil
}

func (c *HTTPClient) endpoint(path string) string {
	return c.baseURL + path
}

func readSnippet(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 256))
	if err != nil || len(data) == 0 {
		return "(no body)"
	}
	return strings.TrimSpace(string(data))
}
