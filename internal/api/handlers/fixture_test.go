package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"flui/internal/billing"
	"flui/internal/config"
	"flui/internal/core"
	"flui/internal/db"
	"flui/internal/entitlement"
	"flui/internal/types"
)

const testServiceKey = "svc_handlers_test_key"

var fixtureNow = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

// recordingPayments captures checkout requests.
type recordingPayments struct {
	mu       sync.Mutex
	requests []types.CheckoutRequest
	err      error
}

func (p *recordingPayments) CreateCheckoutSession(_ context.Context, req types.CheckoutRequest) (*types.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.requests = append(p.requests, req)
	id := "cs_test_" + string(req.Kind)
	return &types.CheckoutSession{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}

// recordingEvents captures gate analytics events.
type recordingEvents struct {
	mu     sync.Mutex
	events []types.GateEvent
}

func (e *recordingEvents) PublishGateEvent(_ context.Context, ev types.GateEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *recordingEvents) eventTypes() []types.GateEventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.GateEventType, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Type
	}
	return out
}

// apiFixture runs the handlers behind the real middleware chain with an
// in-memory ledger store.
type apiFixture struct {
	store    *db.MemoryStore
	svc      *entitlement.Service
	payments *recordingPayments
	events   *recordingEvents
	verifier *fakeVerifier
	server   *core.Server
	clock    time.Time
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Environment: "local",
		Server:      config.ServerConfig{RequestTimeout: 5 * time.Second},
		Security:    config.SecurityConfig{ServiceAPIKey: testServiceKey},
	}

	plans := billing.NewStaticPlanRegistry()
	packages := billing.NewPackageCatalog()
	msgs, err := entitlement.DefaultMessages()
	if err != nil {
		t.Fatalf("DefaultMessages: %v", err)
	}

	f := &apiFixture{
		store:    db.NewMemoryStore(),
		payments: &recordingPayments{},
		events:   &recordingEvents{},
		verifier: &fakeVerifier{},
		clock:    fixtureNow,
	}
	f.svc = entitlement.NewService(
		f.store,
		plans,
		packages,
		entitlement.NewResolver(plans, entitlement.FailClosed, logger),
		entitlement.NewPromptBuilder(msgs, packages, ""),
		logger,
		entitlement.WithEventPublisher(f.events),
		entitlement.WithPaymentProvider(f.payments),
		entitlement.WithClock(func() time.Time { return f.clock }),
	)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	access := NewAccessHandler(f.svc, billing.NewUsageReporter(f.store, plans, 0), plans, packages, srv.Validator, logger)
	checkout := NewBillingHandler(f.svc, srv.Validator, logger)
	webhook := NewStripeWebhookHandler(f.verifier, f.svc, packages, "whsec_test", logger)

	srv.V1RouteRegistrars = []func(chi.Router){
		func(r chi.Router) { access.RegisterRoutes(r, srv.RequireAccount) },
		func(r chi.Router) { checkout.RegisterRoutes(r, srv.RequireAccount) },
		webhook.RegisterRoutes,
	}
	srv.MountRoutes()
	f.server = srv
	return f
}

// provision creates an account and optionally overwrites its ledger.
func (f *apiFixture) provision(t *testing.T, id string, tier types.PlanTier, ledger *types.UsageLedger) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.svc.Provision(ctx, id, tier); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if ledger == nil {
		return
	}
	err := f.store.WithAccountLock(ctx, id, func(ctx context.Context, a *types.Account, tx types.LedgerTx) error {
		a.Ledger = *ledger
		return tx.Save(ctx, a)
	})
	if err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
}

func (f *apiFixture) ledger(t *testing.T, id string) types.UsageLedger {
	t.Helper()
	a, err := f.svc.Account(context.Background(), id)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	return a.Ledger
}

// do sends an authenticated request for accountID. body may be nil, a
// string or any JSON-marshalable value.
func (f *apiFixture) do(t *testing.T, method, path, accountID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testServiceKey)
	req.Header.Set("Content-Type", "application/json")
	if accountID != "" {
		req.Header.Set(core.HeaderAccountID, accountID)
	}

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

// decodeData unmarshals the data field of a success envelope into dst.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %s)", err, rec.Body.String())
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data: %v (body %s)", err, rec.Body.String())
	}
}

// decodeError returns the error detail of an error envelope.
func decodeError(t *testing.T, rec *httptest.ResponseRecorder) core.ErrorDetail {
	t.Helper()
	var env core.APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v (body %s)", err, rec.Body.String())
	}
	return env.Error
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}
