// Package webhook builds the versioned event envelope and delivers it
// at-most-once per event id (spec §4.3, §6). The idempotency cache is
// adapted from the teacher's module/webhook_sender.go retry/backoff shape,
// trimmed to the spec's simpler at-most-once contract: one attempt per
// unseen eventId, never a caller-visible error.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ops-platform/automation-core/metrics"
)

// Actor identifies who performed the action that produced the event.
type Actor struct {
	UserID   *string `json:"userId"`
	Username string  `json:"username"`
	Role     string  `json:"role"`
}

// Entity identifies the domain object the event is about.
type Entity struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Payload is the fixed envelope from spec §6.
type Payload struct {
	Version    string         `json:"version"`
	Event      string         `json:"event"`
	EventID    string         `json:"eventId"`
	OccurredAt string         `json:"occurredAt"`
	Environment string        `json:"environment"`
	Source     string         `json:"source"`
	Actor      Actor          `json:"actor"`
	Entity     Entity         `json:"entity"`
	Data       map[string]any `json:"data"`
}

// Config controls the emitter's environment/source labelling (SPEC_FULL §12.4)
// and the idempotency cache bound.
type Config struct {
	Environment  string
	Source       string // defaults to "automation-core"
	CacheSize    int    // bounded in-memory idempotency set size; default 4096
	Timeout      time.Duration
}

// Emitter builds payloads and POSTs them once per event id to an optional
// external URL. Contract per spec §4.3: Emit never panics or returns an
// error to the caller; it returns whether a send was attempted-and-accepted.
type Emitter struct {
	cfg     Config
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string // FIFO eviction order for the bounded cache
}

func New(cfg Config, logger *slog.Logger) *Emitter {
	if cfg.Source == "" {
		cfg.Source = "automation-core"
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		seen:   make(map[string]struct{}),
	}
}

// SetMetrics wires the ambient delivery-outcome counters (SPEC_FULL §11).
// A nil Emitter.metrics (the default) makes every recording call a no-op.
func (e *Emitter) SetMetrics(rec *metrics.Recorder) {
	e.metrics = rec
}

// BuildPayload constructs the envelope for event, generating an eventId if
// customEventID is empty so callers can supply one for idempotent replay.
func (e *Emitter) BuildPayload(event string, customEventID string, actor Actor, entity Entity, data map[string]any) Payload {
	id := customEventID
	if id == "" {
		id = uuid.NewString()
	}
	return Payload{
		Version:     "1.0",
		Event:       event,
		EventID:     id,
		OccurredAt:  time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Environment: e.cfg.Environment,
		Source:      e.cfg.Source,
		Actor:       actor,
		Entity:      entity,
		Data:        data,
	}
}

// Emit POSTs payload to url exactly once per payload.EventID. Returns false
// (and logs a warning) on any of: no url, missing eventId, transport error,
// non-2xx response. A repeat eventId returns true without a network call.
func (e *Emitter) Emit(ctx context.Context, payload Payload, url string) bool {
	if url == "" {
		e.logger.Warn("webhook emit skipped: no url configured", "event", payload.Event)
		e.metrics.RecordWebhookDelivery(payload.Event, "skipped", 0)
		return false
	}
	if payload.EventID == "" {
		e.logger.Warn("webhook emit skipped: missing eventId", "event", payload.Event)
		e.metrics.RecordWebhookDelivery(payload.Event, "skipped", 0)
		return false
	}

	if e.markSeenIfNew(payload.EventID) {
		e.metrics.RecordWebhookDelivery(payload.Event, "skipped", 0)
		return true
	}

	start := time.Now()
	body, err := json.Marshal(payload)
	if err != nil {
		e.logger.Warn("webhook emit failed to marshal payload", "event", payload.Event, "err", err)
		e.metrics.RecordWebhookDelivery(payload.Event, "failed", time.Since(start))
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		e.logger.Warn("webhook emit failed to build request", "event", payload.Event, "err", err)
		e.metrics.RecordWebhookDelivery(payload.Event, "failed", time.Since(start))
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", payload.EventID)

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Warn("webhook emit transport error", "event", payload.Event, "err", err)
		e.metrics.RecordWebhookDelivery(payload.Event, "failed", time.Since(start))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.logger.Warn("webhook emit non-2xx response", "event", payload.Event, "status", resp.StatusCode)
		e.metrics.RecordWebhookDelivery(payload.Event, "failed", time.Since(start))
		return false
	}

	e.rememberSent(payload.EventID)
	e.metrics.RecordWebhookDelivery(payload.Event, "delivered", time.Since(start))
	return true
}

// markSeenIfNew reports whether id was already recorded as sent, WITHOUT
// recording it. The caller records after a confirmed 2xx; this split keeps a
// failed attempt retryable on the next call.
func (e *Emitter) markSeenIfNew(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.seen[id]
	return ok
}

func (e *Emitter) rememberSent(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.seen[id]; ok {
		return
	}
	e.seen[id] = struct{}{}
	e.order = append(e.order, id)
	if len(e.order) > e.cfg.CacheSize {
		evict := e.order[0]
		e.order = e.order[1:]
		delete(e.seen, evict)
	}
}

// Stats exposes the idempotency cache size, useful for metrics/tests.
func (e *Emitter) Stats() (cached int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.seen)
}
