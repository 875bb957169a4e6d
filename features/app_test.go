// Package features drives the acceptance scenarios named in spec §8
// (S1-S6) against a real in-process HTTP server, the same wiring
// cmd/server/main.go builds, over store.NewMemory(). Grounded on the
// teacher's tests/bdd harness (a single context struct, makeRequest helper,
// godog.TestSuite with TestingT), adapted from its partially-simulated
// makeRequest to real httptest.Server round-trips since this domain's
// handlers are cheap enough to run for real in-process.
package features

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ops-platform/automation-core/audit"
	"github.com/ops-platform/automation-core/authctx"
	"github.com/ops-platform/automation-core/automation"
	"github.com/ops-platform/automation-core/config"
	"github.com/ops-platform/automation-core/eventbus"
	"github.com/ops-platform/automation-core/httpapi"
	"github.com/ops-platform/automation-core/inventory"
	"github.com/ops-platform/automation-core/orders"
	"github.com/ops-platform/automation-core/sales"
	"github.com/ops-platform/automation-core/store"
	"github.com/ops-platform/automation-core/trigger"
	"github.com/ops-platform/automation-core/webhook"
)

var jwtSecret = []byte("features-test-secret")

// app bundles one scenario's fully-wired backend plus the HTTP client used
// to drive it, and scratch fields the step definitions stash ids into
// between Given/When/Then.
type app struct {
	t      *testing.T
	store  *store.Memory
	bus    *eventbus.Bus
	inv    *inventory.Service
	server *httptest.Server
	client *http.Client
	audit  *auditSink

	webhookServer *httptest.Server
	webhookMu     sync.Mutex
	webhookBodies []webhook.Payload

	// scratch is a loose bag step definitions stash ids and snapshots into
	// between Given/When/Then within one scenario, keyed by whatever name
	// the step that produced the value chooses.
	scratch map[string]any

	lastStatus int
	lastEnv    envelopeResp
	lastBody   []byte

	claimResults []claimResult
}

type claimResult struct {
	userID string
	status int
	reason string
}

type envelopeResp struct {
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	Reason    string          `json:"reason"`
	RequestID string          `json:"requestId"`
}

// auditSink is an in-memory audit.Sink so scenarios can assert on the
// audit trail without a log-parsing step, matching the out-of-scope note
// in spec §1 that an audit log *viewer* isn't part of this core.
type auditSink struct {
	mu      sync.Mutex
	records []audit.Record
}

func (s *auditSink) Record(_ context.Context, rec audit.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *auditSink) find(action, resourceID string) (audit.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.Action == action && r.ResourceID == resourceID {
			return r, true
		}
	}
	return audit.Record{}, false
}

func newApp(t *testing.T) *app {
	t.Helper()

	a := &app{t: t, client: &http.Client{Timeout: 5 * time.Second}, scratch: map[string]any{}}

	a.webhookServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var p webhook.Payload
		_ = json.Unmarshal(raw, &p)
		a.webhookMu.Lock()
		a.webhookBodies = append(a.webhookBodies, p)
		a.webhookMu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))

	st := store.NewMemory()
	bus := eventbus.New(nil)

	live := config.NewLiveConfig(&config.Config{
		Webhook: config.WebhookConfig{URL: a.webhookServer.URL, Environment: "test", Source: "automation-core"},
	})
	emitter := webhook.New(webhook.Config{Environment: "test"}, nil)
	webhook.NewSubscriber(emitter, live).Attach(bus)

	invService := inventory.NewService(st, bus, nil, nil)
	salesService := sales.NewService(st, bus, invService, nil)

	ordersEngine := orders.NewEngine(st, bus, nil)
	autoEngine := automation.NewEngine(st, bus, ordersEngine, nil)
	a.audit = &auditSink{}
	autoEngine.SetAuditSink(a.audit)
	triggerLayer := trigger.New(autoEngine, bus, nil)
	ordersEngine.SetTrigger(triggerLayer)

	verifier := authctx.NewVerifier(jwtSecret)
	router := httpapi.NewRouter(httpapi.Services{
		Store:      st,
		Orders:     ordersEngine,
		Automation: autoEngine,
		Sales:      salesService,
		Inventory:  invService,
		Verifier:   verifier,
	})

	a.store = st
	a.bus = bus
	a.inv = invService
	a.server = httptest.NewServer(router)
	return a
}

// str fetches a scratch string, failing the scenario if it was never set.
func (a *app) str(key string) string {
	a.t.Helper()
	v, ok := a.scratch[key]
	if !ok {
		a.t.Fatalf("scratch key %q not set", key)
	}
	s, ok := v.(string)
	if !ok {
		a.t.Fatalf("scratch key %q is not a string (got %T)", key, v)
	}
	return s
}

func (a *app) setStr(key, val string) { a.scratch[key] = val }
func (a *app) setInt(key string, val int) { a.scratch[key] = val }
func (a *app) getInt(key string) int {
	a.t.Helper()
	v, ok := a.scratch[key]
	if !ok {
		a.t.Fatalf("scratch key %q not set", key)
	}
	n, ok := v.(int)
	if !ok {
		a.t.Fatalf("scratch key %q is not an int (got %T)", key, v)
	}
	return n
}

func (a *app) close() {
	a.server.Close()
	a.webhookServer.Close()
}

func (a *app) token(userID string, admin bool) string {
	claims := jwt.MapClaims{"sub": userID, "username": userID, "isSystemAdmin": admin}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(jwtSecret)
	if err != nil {
		a.t.Fatalf("sign test token: %v", err)
	}
	return signed
}

// do issues one HTTP request against the running server and stashes the
// decoded envelope/status on a for the next Then step to assert against.
func (a *app) do(method, path, token string, body any) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			a.t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	if err != nil {
		a.t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		a.t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var env envelopeResp
	_ = json.Unmarshal(raw, &env)

	a.lastStatus = resp.StatusCode
	a.lastEnv = env
	a.lastBody = raw
}

func (a *app) requireOK(context string) {
	a.t.Helper()
	if a.lastStatus < 200 || a.lastStatus >= 300 {
		a.t.Fatalf("%s: expected 2xx, got %d: %s", context, a.lastStatus, a.lastBody)
	}
}

func (a *app) decodeData(v any) {
	a.t.Helper()
	if err := json.Unmarshal(a.lastEnv.Data, v); err != nil {
		a.t.Fatalf("decode response data into %T: %v (body=%s)", v, err, a.lastBody)
	}
}

func fmtInt(s string) int {
	var n int
	_, _ = fmt.Sscanf(s, "%d", &n)
	return n
}

func fmtFloat(s string) float64 {
	var f float64
	_, _ = fmt.Sscanf(s, "%f", &f)
	return f
}
