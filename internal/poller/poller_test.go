package poller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"rental-portal/internal/calendar"
	"rental-portal/internal/importer"
	"rental-portal/internal/scraper"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(url string, opts ...Option) *Client {
	opts = append([]Option{WithLogger(quietLogger()), WithPolling(time.Millisecond, 20, 3)}, opts...)
	return NewClient(url, StaticToken("token-a"), opts...)
}

func writeFile(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(strings.Repeat(" ", size)), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	return path
}

func TestCheckFile(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"json file", writeFile(t, "batch.json", 100), false},
		{"uppercase extension", writeFile(t, "batch.JSON", 100), false},
		{"wrong extension", writeFile(t, "batch.csv", 100), true},
		{"too large", writeFile(t, "big.json", MaxFileBytes+1), true},
		{"missing", filepath.Join(t.TempDir(), "nope.json"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckFile(tt.path)
			if tt.wantErr && !errors.Is(err, ErrInvalidFile) {
				t.Errorf("expected ErrInvalidFile, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func jobAt(stage importer.Stage, completed int) importer.ImportJob {
	job := importer.NewJob("job-1", "tenant-a", importer.JobKindBatch, time.Now())
	job.Stage = stage
	job.Total = 3
	job.CompletedCount = completed
	return job
}

// statusServer answers status polls with the scripted responses, repeating the last one
func statusServer(t *testing.T, responses ...func(w http.ResponseWriter)) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-a" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := int(atomic.AddInt32(&calls, 1))
		if n > len(responses) {
			n = len(responses)
		}
		responses[n-1](w)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func snapshot(job importer.ImportJob) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		json.NewEncoder(w).Encode(map[string]interface{}{"progress": job})
	}
}

func status(code int) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(code)
		w.Write([]byte(`{"error":"boom"}`))
	}
}

func TestClient_Poll(t *testing.T) {
	t.Run("stops at terminal stage", func(t *testing.T) {
		server, calls := statusServer(t,
			snapshot(jobAt(importer.StageValidating, 0)),
			snapshot(jobAt(importer.StageSavingProperties, 1)),
			snapshot(jobAt(importer.StageCompleted, 3)),
		)
		var seen []importer.Stage
		job, err := newTestClient(server.URL).Poll(context.Background(), "job-1", func(j importer.ImportJob) {
			seen = append(seen, j.Stage)
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if job.Stage != importer.StageCompleted || job.CompletedCount != 3 {
			t.Errorf("unexpected final job: %+v", job)
		}
		if len(seen) != 3 || atomic.LoadInt32(calls) != 3 {
			t.Errorf("expected 3 polls, got %d (%v)", atomic.LoadInt32(calls), seen)
		}
	})

	t.Run("transient failures are retried", func(t *testing.T) {
		server, _ := statusServer(t,
			status(http.StatusBadGateway),
			status(http.StatusBadGateway),
			snapshot(jobAt(importer.StageCompleted, 3)),
		)
		job, err := newTestClient(server.URL).Poll(context.Background(), "job-1", nil)
		if err != nil || job.Stage != importer.StageCompleted {
			t.Errorf("expected completed job, got %s (%v)", job.Stage, err)
		}
	})

	t.Run("consecutive failures synthesize a database error", func(t *testing.T) {
		running := jobAt(importer.StageSavingProperties, 2)
		label := "Seaside Loft"
		running.CurrentEntryLabel = &label
		server, calls := statusServer(t,
			snapshot(running),
			status(http.StatusInternalServerError),
		)
		job, err := newTestClient(server.URL).Poll(context.Background(), "job-1", nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if job.Stage != importer.StageFailed || job.CompletedCount != 2 {
			t.Errorf("expected failed job keeping progress, got %+v", job)
		}
		if job.CurrentEntryLabel == nil || *job.CurrentEntryLabel != label {
			t.Errorf("expected the last entry label to be kept, got %v", job.CurrentEntryLabel)
		}
		if len(job.Errors) != 1 || job.Errors[0].Type != importer.ErrorTypeDatabase || job.Errors[0].EntryIndex != importer.BatchLevel {
			t.Errorf("expected a synthetic database error, got %+v", job.Errors)
		}
		if got := atomic.LoadInt32(calls); got != 4 {
			t.Errorf("expected 4 polls, got %d", got)
		}
	})

	t.Run("attempt ceiling times out", func(t *testing.T) {
		server, calls := statusServer(t, snapshot(jobAt(importer.StageProcessingMedia, 0)))
		client := newTestClient(server.URL, WithPolling(time.Millisecond, 5, 3))
		job, err := client.Poll(context.Background(), "job-1", nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if job.Stage != importer.StageFailed || !strings.Contains(job.Errors[len(job.Errors)-1].Message, "did not finish") {
			t.Errorf("expected local timeout error, got %+v", job)
		}
		if got := atomic.LoadInt32(calls); got != 5 {
			t.Errorf("expected 5 polls, got %d", got)
		}
	})

	t.Run("not tracked is not a failure", func(t *testing.T) {
		server, _ := statusServer(t, status(http.StatusNotFound))
		job, err := newTestClient(server.URL).Poll(context.Background(), "job-1", nil)
		if !errors.Is(err, ErrNotTracked) {
			t.Fatalf("expected ErrNotTracked, got %v", err)
		}
		if job.Stage == importer.StageFailed {
			t.Error("expected job not to be marked failed")
		}
	})

	t.Run("missing token counts as failure", func(t *testing.T) {
		server, calls := statusServer(t, snapshot(jobAt(importer.StageCompleted, 3)))
		client := NewClient(server.URL, StaticToken(""), WithLogger(quietLogger()), WithPolling(time.Millisecond, 20, 3))
		job, err := client.Poll(context.Background(), "job-1", nil)
		if err != nil || job.Stage != importer.StageFailed {
			t.Errorf("expected synthesized failure, got %s (%v)", job.Stage, err)
		}
		if got := atomic.LoadInt32(calls); got != 0 {
			t.Errorf("expected no requests without a token, got %d", got)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server, _ := statusServer(t, snapshot(jobAt(importer.StageValidating, 0)))
		ctx, cancel := context.WithCancel(context.Background())
		client := newTestClient(server.URL, WithPolling(50*time.Millisecond, 100, 3))
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		if _, err := client.Poll(ctx, "job-1", nil); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestClient_StartImport(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		switch r.URL.Path {
		case "/api/import":
			if strings.Contains(gotBody, "busy") {
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte(`{"error":"an import is already running for this tenant"}`))
				return
			}
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"completed":false,"jobId":"job-7"}`))
		case "/api/import/validate":
			w.Write([]byte(`{"valid":false,"errors":["properties[0].basePrice: must be > 0"]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()
	client := newTestClient(server.URL)

	path := filepath.Join(t.TempDir(), "batch.json")
	os.WriteFile(path, []byte(`{"properties":[]}`), 0o644)

	result, err := client.StartImport(context.Background(), path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Completed || result.JobID != "job-7" || gotBody != `{"properties":[]}` {
		t.Errorf("unexpected start result: %+v (body %q)", result, gotBody)
	}

	busy := filepath.Join(t.TempDir(), "busy.json")
	os.WriteFile(busy, []byte(`{"busy":true}`), 0o644)
	if _, err := client.StartImport(context.Background(), busy); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	validation, err := client.ValidateFile(context.Background(), path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if validation.Valid || len(validation.Errors) != 1 {
		t.Errorf("unexpected validation result: %+v", validation)
	}

	if _, err := client.StartImport(context.Background(), writeFile(t, "batch.txt", 10)); !errors.Is(err, ErrInvalidFile) {
		t.Errorf("expected ErrInvalidFile, got %v", err)
	}
}

func TestClient_StartURLImport(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Write([]byte(`{"completed":true,"jobId":"job-9","result":{"jobId":"job-9","stage":"completed","total":1,"completedCount":1,"errors":[]}}`))
	}))
	defer server.Close()
	client := newTestClient(server.URL, WithClassifier(scraper.NewClassifier([]string{"airbnb.com"})))

	if _, err := client.StartURLImport(context.Background(), "http://airbnb.com/rooms/1"); !errors.Is(err, scraper.ErrInvalidListingURL) {
		t.Fatalf("expected ErrInvalidListingURL, got %v", err)
	}
	if atomic.LoadInt32(&requests) != 0 {
		t.Fatal("expected no request for an invalid URL")
	}

	result, err := client.StartURLImport(context.Background(), "https://www.airbnb.com/rooms/42")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !result.Completed || result.Result == nil || result.Result.CompletedCount != 1 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestClient_ConfigureCalendarSync(t *testing.T) {
	var got calendar.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		if got.PropertyID == "missing" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"property not found"}`))
			return
		}
		w.Write([]byte(`{"sync":{}}`))
	}))
	defer server.Close()
	client := newTestClient(server.URL)

	req := calendar.Request{PropertyID: "p-1", ICalURL: "https://cal.test/a.ics", Source: "airbnb", SyncFrequency: 30}
	if err := client.ConfigureCalendarSync(context.Background(), req); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != req {
		t.Errorf("expected %+v to be sent, got %+v", req, got)
	}

	var apiErr *APIError
	err := client.ConfigureCalendarSync(context.Background(), calendar.Request{PropertyID: "missing"})
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound || apiErr.Message != "property not found" {
		t.Errorf("expected APIError 404, got %v", err)
	}
}
