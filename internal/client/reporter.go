package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sluggisty/dashboard/internal/infrastructure/store"
	"github.com/sluggisty/dashboard/internal/pkg/metrics"
)

// ErrorReporter receives every failed API call once, after retries
type ErrorReporter interface {
	Report(ctx context.Context, err error)
}

// ErrorEntry is one record in the persisted error log
type ErrorEntry struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      string          `json:"kind"`
	Code      string          `json:"code,omitempty"`
	Status    int             `json:"status,omitempty"`
	Message   string          `json:"message"`
	Method    string          `json:"method,omitempty"`
	URL       string          `json:"url,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
}

// ReporterConfig configures a Reporter. Zero values use defaults.
type ReporterConfig struct {
	Store      store.Store
	MaxEntries int
	Retention  time.Duration
	// Endpoint, when set, receives each entry as a JSON POST
	Endpoint   string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Reporter logs errors, keeps a capped log in a store and optionally
// forwards entries to an external endpoint. Reporting never fails the caller.
type Reporter struct {
	cfg ReporterConfig
	log *slog.Logger
	now func() time.Time
	mu  sync.Mutex
}

// NewReporter creates a Reporter. A nil Store keeps the log in memory.
func NewReporter(cfg ReporterConfig) *Reporter {
	if cfg.Store == nil {
		cfg.Store = store.NewMemory()
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{cfg: cfg, log: log.With("component", "error_reporter"), now: time.Now}
}

// Report records err
func (r *Reporter) Report(ctx context.Context, err error) {
	if err == nil {
		return
	}
	entry := r.entryFor(err)
	metrics.ReportedErrors.WithLabelValues(entry.Kind).Inc()

	if apiErr, ok := AsAPIError(err); ok {
		r.log.Error("api request failed", "error", apiErr)
	} else {
		r.log.Error("request failed", "error", err)
	}

	if appendErr := r.append(ctx, entry); appendErr != nil {
		r.log.Warn("failed to persist error log", "error", appendErr)
	}
	if r.cfg.Endpoint != "" {
		if sendErr := r.send(ctx, entry); sendErr != nil {
			r.log.Warn("failed to send error report", "endpoint", r.cfg.Endpoint, "error", sendErr)
		}
	}
}

func (r *Reporter) entryFor(err error) ErrorEntry {
	entry := ErrorEntry{
		ID:        uuid.NewString(),
		Timestamp: r.now(),
		Kind:      "unknown",
		Message:   err.Error(),
	}
	apiErr, ok := AsAPIError(err)
	if !ok {
		return entry
	}
	entry.Kind = string(apiErr.Kind)
	entry.Code = apiErr.Code
	entry.Status = apiErr.Status
	entry.Method = apiErr.Context.Method
	entry.URL = apiErr.Context.URL
	entry.RequestID = apiErr.Context.RequestID
	entry.SessionID = apiErr.Context.SessionID
	if detail, marshalErr := json.Marshal(apiErr); marshalErr == nil {
		entry.Detail = detail
	}
	return entry
}

func (r *Reporter) append(ctx context.Context, entry ErrorEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load(ctx)
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	if over := len(entries) - r.cfg.MaxEntries; over > 0 {
		entries = entries[over:]
	}
	return r.save(ctx, entries)
}

// load reads the log, dropping entries older than the retention window
func (r *Reporter) load(ctx context.Context) ([]ErrorEntry, error) {
	raw, err := r.cfg.Store.Get(ctx, KeyErrorLog)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []ErrorEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		r.log.Warn("discarding unreadable error log", "error", err)
		return nil, nil
	}

	cutoff := r.now().Add(-r.cfg.Retention)
	kept := entries[:0]
	for _, e := range entries {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept, nil
}

func (r *Reporter) save(ctx context.Context, entries []ErrorEntry) error {
	if len(entries) == 0 {
		return r.cfg.Store.Remove(ctx, KeyErrorLog)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return r.cfg.Store.Set(ctx, KeyErrorLog, string(data))
}

func (r *Reporter) send(ctx context.Context, entry ErrorEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("error endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Entries returns the retained error log, oldest first
func (r *Reporter) Entries(ctx context.Context) ([]ErrorEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx)
}

// Clear empties the error log
func (r *Reporter) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Store.Remove(ctx, KeyErrorLog)
}
