// Package poller is the client side of the import API: it checks and uploads
// batch files, starts listing imports and follows a job until it ends.
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"

	"rental-portal/internal/calendar"
	"rental-portal/internal/importer"
	"rental-portal/internal/scraper"
)

const (
	// MaxFileBytes is the largest batch file the client uploads
	MaxFileBytes = 10 * units.MiB

	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 150
	DefaultMaxFailures = 3
)

var (
	ErrInvalidFile = errors.New("invalid import file")
	ErrConflict    = errors.New("another import is already running")
	// ErrNotTracked means the server has no record of the job: it never
	// started or its retention window passed. It does not mean the job failed.
	ErrNotTracked = errors.New("import is not tracked")
)

// APIError is a non-success response from the import API
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("import API returned HTTP %d: %s", e.Status, e.Message)
}

// TokenFunc returns the bearer token for the next request
type TokenFunc func(ctx context.Context) (string, error)

// StaticToken always returns token
func StaticToken(token string) TokenFunc {
	return func(context.Context) (string, error) {
		if token == "" {
			return "", errors.New("no auth token configured")
		}
		return token, nil
	}
}

// StartResult is the response of an import start call
type StartResult struct {
	Completed bool                `json:"completed"`
	JobID     string              `json:"jobId"`
	Result    *importer.ImportJob `json:"result,omitempty"`
}

// Client talks to the import API
type Client struct {
	baseURL     string
	http        *http.Client
	token       TokenFunc
	classifier  *scraper.Classifier
	logger      *slog.Logger
	interval    time.Duration
	maxAttempts int
	maxFailures int
	now         func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClassifier makes StartURLImport reject unsupported URLs before any request
func WithClassifier(cl *scraper.Classifier) Option {
	return func(c *Client) { c.classifier = cl }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithPolling overrides the poll interval, attempt ceiling and tolerated consecutive failures
func WithPolling(interval time.Duration, maxAttempts, maxFailures int) Option {
	return func(c *Client) {
		c.interval = interval
		c.maxAttempts = maxAttempts
		c.maxFailures = maxFailures
	}
}

func NewClient(baseURL string, token TokenFunc, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: 30 * time.Second},
		token:       token,
		logger:      slog.Default(),
		interval:    DefaultInterval,
		maxAttempts: DefaultMaxAttempts,
		maxFailures: DefaultMaxFailures,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckFile enforces the upload constraints: a .json extension and at most MaxFileBytes
func CheckFile(path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return fmt.Errorf("%w: %s is not a .json file", ErrInvalidFile, filepath.Base(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInvalidFile, path)
	}
	if info.Size() > MaxFileBytes {
		return fmt.Errorf("%w: %s is %s, the limit is %s", ErrInvalidFile, filepath.Base(path),
			units.BytesSize(float64(info.Size())), units.BytesSize(float64(MaxFileBytes)))
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	if err := CheckFile(path); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// ValidateFile checks a batch file locally, then asks the server to validate it
func (c *Client) ValidateFile(ctx context.Context, path string) (*importer.ValidationResult, error) {
	raw, err := readFile(path)
	if err != nil {
		return nil, err
	}

	var result importer.ValidationResult
	if err := c.do(ctx, http.MethodPost, "/api/import/validate", raw, false, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StartImport uploads a batch file and starts the import
func (c *Client) StartImport(ctx context.Context, path string) (*StartResult, error) {
	raw, err := readFile(path)
	if err != nil {
		return nil, err
	}

	var result StartResult
	if err := c.do(ctx, http.MethodPost, "/api/import", raw, true, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StartURLImport starts the import of one external listing
func (c *Client) StartURLImport(ctx context.Context, listingURL string) (*StartResult, error) {
	if c.classifier != nil {
		if _, err := c.classifier.Classify(listingURL); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(map[string]string{"url": listingURL})
	if err != nil {
		return nil, err
	}

	var result StartResult
	if err := c.do(ctx, http.MethodPost, "/api/import/url", body, true, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Status fetches one snapshot of a job
func (c *Client) Status(ctx context.Context, jobID string) (importer.ImportJob, error) {
	var resp struct {
		Progress importer.ImportJob `json:"progress"`
	}
	err := c.do(ctx, http.MethodGet, "/api/import/status?jobId="+url.QueryEscape(jobID), nil, true, &resp)
	return resp.Progress, err
}

// ConfigureCalendarSync attaches an iCal feed to an imported property. It is
// best effort: failures are logged and reported, never fatal to an import.
func (c *Client) ConfigureCalendarSync(ctx context.Context, req calendar.Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPost, "/api/calendar-sync", body, true, nil); err != nil {
		c.logger.Warn("calendar sync could not be configured", "property_id", req.PropertyID, "error", err)
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, authenticated bool, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authenticated {
		token, err := c.token(ctx)
		if err != nil {
			return fmt.Errorf("auth token unavailable: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound && strings.Contains(path, "/status"):
		return ErrNotTracked
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, errorMessage(data))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &APIError{Status: resp.StatusCode, Message: errorMessage(data)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func errorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}
