package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ridenow/ridenow-gobackend/internal/models"
)

var (
	ErrMockStore   = errors.New("store unavailable")
	ErrMockGateway = errors.New("connection refused")
)

// MockGateway implements Gateway with overridable functions.
type MockGateway struct {
	InitializeFunc func(ctx context.Context, email, amount, currency string) (*models.InitializeResponse, error)
	VerifyFunc     func(ctx context.Context, reference string) (*VerifyResult, error)

	initializeCalls int
}

func (m *MockGateway) Initialize(ctx context.Context, email, amount, currency string) (*models.InitializeResponse, error) {
	m.initializeCalls++
	if m.InitializeFunc != nil {
		return m.InitializeFunc(ctx, email, amount, currency)
	}
	return &models.InitializeResponse{
		Status:  true,
		Message: "Authorization URL created",
		Data: models.InitializeData{
			AuthorizationURL: "https://checkout.paystack.com/abc",
			AccessCode:       "abc",
			Reference:        "ref_123",
		},
	}, nil
}

func (m *MockGateway) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, reference)
	}
	return nil, ErrMockGateway
}

// memStore is an in-memory PaymentStore that applies settlements with the
// same guard as the database stores' UPDATE.
type memStore struct {
	mu       sync.Mutex
	payments map[models.PayerKind]map[string]*models.Payment
	lookups  []models.PayerKind

	InsertErr error
	ApplyErr  error
	ListErr   error
}

func newMemStore() *memStore {
	return &memStore{payments: map[models.PayerKind]map[string]*models.Payment{
		models.PayerUser:   {},
		models.PayerDriver: {},
	}}
}

func (m *memStore) InsertPending(ctx context.Context, kind models.PayerKind, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return m.InsertErr
	}
	for _, part := range m.payments {
		if _, ok := part[p.Reference]; ok {
			return fmt.Errorf("reference %s already recorded", p.Reference)
		}
	}
	cp := *p
	m.payments[kind][p.Reference] = &cp
	return nil
}

func (m *memStore) ApplySettlement(ctx context.Context, kind models.PayerKind, st models.Settlement) (models.SettlementOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups = append(m.lookups, kind)
	if m.ApplyErr != nil {
		return models.OutcomeMissing, m.ApplyErr
	}
	p, ok := m.payments[kind][st.Reference]
	if !ok {
		return models.OutcomeMissing, nil
	}
	if !applyGuarded(p, st, time.Now().UTC()) {
		return models.OutcomeStale, nil
	}
	return models.OutcomeApplied, nil
}

// applyGuarded writes st over p unless the stores would refuse it. Pending
// reports only refresh pending records and leave last_event_at alone;
// terminal reports are refused when older than last_event_at.
func applyGuarded(p *models.Payment, st models.Settlement, now time.Time) bool {
	if st.Status == models.StatusPending {
		if p.Status != models.StatusPending {
			return false
		}
	} else {
		if p.LastEventAt != nil && p.LastEventAt.After(st.OccurredAt) {
			return false
		}
		at := st.OccurredAt
		p.LastEventAt = &at
	}
	p.Status = st.Status
	p.GatewayResponse = st.GatewayResponse
	if len(st.RawPayload) > 0 {
		p.RawPayload = string(st.RawPayload)
	}
	p.UpdatedAt = now
	return true
}

func (m *memStore) List(ctx context.Context, kind models.PayerKind, payerID string) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var out []models.Payment
	for _, p := range m.payments[kind] {
		if payerID != "" && p.PayerID != payerID {
			continue
		}
		cp := *p
		cp.PayerType = kind
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) seed(kind models.PayerKind, p models.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[kind][p.Reference] = &p
}

func (m *memStore) get(kind models.PayerKind, reference string) (models.Payment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[kind][reference]
	if !ok {
		return models.Payment{}, false
	}
	return *p, true
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.PaymentEvent
}

func (r *recordingPublisher) Publish(ctx context.Context, ev models.PaymentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

type memReplayGuard struct {
	seen map[string]bool
}

func (g *memReplayGuard) Seen(ctx context.Context, key string) (bool, error) {
	return g.seen[key], nil
}

func (g *memReplayGuard) Remember(ctx context.Context, key string) error {
	g.seen[key] = true
	return nil
}

func strPtr(s string) *string { return &s }

func newTestService(store *memStore, gateway *MockGateway) *PaymentService {
	return NewPaymentService(store, gateway, NewSignatureVerifier(testSecret))
}

func pendingPayment(reference, payerID string, createdAt time.Time) models.Payment {
	return models.Payment{
		ID:        "id-" + reference,
		PayerID:   payerID,
		Email:     "rider@example.com",
		Amount:    "5000",
		Currency:  models.DefaultCurrency,
		Status:    models.StatusPending,
		Reference: reference,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func signed(t *testing.T, body string) string {
	t.Helper()
	sig, err := NewSignatureVerifier(testSecret).Sign([]byte(body))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return sig
}

func TestInitializeValidation(t *testing.T) {
	tests := []struct {
		name string
		req  models.PaymentRequest
	}{
		{"no payer", models.PaymentRequest{Email: "a@b.co", Amount: "100"}},
		{"both payers", models.PaymentRequest{Email: "a@b.co", Amount: "100", UserID: strPtr("u1"), DriverID: strPtr("d1")}},
		{"blank payer id", models.PaymentRequest{Email: "a@b.co", Amount: "100", UserID: strPtr("  ")}},
		{"missing email", models.PaymentRequest{Amount: "100", UserID: strPtr("u1")}},
		{"missing amount", models.PaymentRequest{Email: "a@b.co", UserID: strPtr("u1")}},
		{"non-decimal amount", models.PaymentRequest{Email: "a@b.co", Amount: "ten", UserID: strPtr("u1")}},
		{"zero amount", models.PaymentRequest{Email: "a@b.co", Amount: "0", UserID: strPtr("u1")}},
		{"negative amount", models.PaymentRequest{Email: "a@b.co", Amount: "-5", DriverID: strPtr("d1")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := &MockGateway{}
			store := newMemStore()
			svc := newTestService(store, gateway)

			_, err := svc.Initialize(context.Background(), tt.req)
			if KindOf(err) != KindValidation {
				t.Fatalf("KindOf(err) = %v, want validation (err=%v)", KindOf(err), err)
			}
			if gateway.initializeCalls != 0 {
				t.Errorf("gateway called %d times, want 0", gateway.initializeCalls)
			}
			if len(store.payments[models.PayerUser])+len(store.payments[models.PayerDriver]) != 0 {
				t.Error("record stored for rejected request")
			}
		})
	}
}

func TestInitializeCreatesPendingRecord(t *testing.T) {
	var gotCurrency string
	gateway := &MockGateway{
		InitializeFunc: func(ctx context.Context, email, amount, currency string) (*models.InitializeResponse, error) {
			gotCurrency = currency
			if email != "rider@example.com" || amount != "5000" {
				t.Errorf("gateway got email=%s amount=%s", email, amount)
			}
			return &models.InitializeResponse{
				Status:  true,
				Message: "Authorization URL created",
				Data:    models.InitializeData{AuthorizationURL: "https://checkout.paystack.com/x1", AccessCode: "x1", Reference: "ref_123"},
			}, nil
		},
	}
	store := newMemStore()
	events := &recordingPublisher{}
	svc := newTestService(store, gateway).WithEvents(events)

	res, err := svc.Initialize(context.Background(), models.PaymentRequest{
		Email:  "rider@example.com",
		Amount: "5000",
		UserID: strPtr("u1"),
	})
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if res.Data.Reference != "ref_123" || res.Message != "Authorization URL created" {
		t.Errorf("Initialize() = %+v", res)
	}
	if gotCurrency != "" {
		t.Errorf("gateway currency = %q, want empty when unset", gotCurrency)
	}

	p, ok := store.get(models.PayerUser, "ref_123")
	if !ok {
		t.Fatal("payment not stored in user partition")
	}
	if p.Status != models.StatusPending || p.PayerID != "u1" || p.Currency != "NGN" {
		t.Errorf("stored payment = %+v", p)
	}
	if p.ID == "" || p.AuthorizationURL != "https://checkout.paystack.com/x1" || p.AccessCode != "x1" {
		t.Errorf("stored payment missing gateway fields: %+v", p)
	}
	if _, ok := store.get(models.PayerDriver, "ref_123"); ok {
		t.Error("payment also stored in driver partition")
	}

	if len(events.events) != 1 || events.events[0].Type != models.EventPaymentInitialized {
		t.Errorf("events = %+v, want one %s", events.events, models.EventPaymentInitialized)
	}
}

func TestInitializeDriverWithCurrency(t *testing.T) {
	var gotCurrency string
	gateway := &MockGateway{}
	gateway.InitializeFunc = func(ctx context.Context, email, amount, currency string) (*models.InitializeResponse, error) {
		gotCurrency = currency
		return &models.InitializeResponse{Status: true, Data: models.InitializeData{Reference: "ref_d1"}}, nil
	}
	store := newMemStore()
	svc := newTestService(store, gateway)

	_, err := svc.Initialize(context.Background(), models.PaymentRequest{
		Email:    "driver@example.com",
		Amount:   "250.50",
		Currency: strPtr("ghs"),
		DriverID: strPtr("d1"),
	})
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if gotCurrency != "GHS" {
		t.Errorf("gateway currency = %q, want GHS", gotCurrency)
	}
	p, ok := store.get(models.PayerDriver, "ref_d1")
	if !ok {
		t.Fatal("payment not stored in driver partition")
	}
	if p.Currency != "GHS" || p.Amount != "250.50" {
		t.Errorf("stored payment = %+v", p)
	}
}

func TestInitializeGatewayFailure(t *testing.T) {
	gateway := &MockGateway{
		InitializeFunc: func(ctx context.Context, email, amount, currency string) (*models.InitializeResponse, error) {
			return nil, newError(KindGatewayUnavailable, ErrMockGateway, "paystack initialize request failed")
		},
	}
	store := newMemStore()
	svc := newTestService(store, gateway)

	_, err := svc.Initialize(context.Background(), models.PaymentRequest{Email: "a@b.co", Amount: "10", UserID: strPtr("u1")})
	if KindOf(err) != KindGatewayUnavailable {
		t.Fatalf("KindOf(err) = %v, want gateway_unavailable", KindOf(err))
	}
	if len(store.payments[models.PayerUser]) != 0 {
		t.Error("record stored after gateway failure")
	}
}

func TestInitializePersistenceFailure(t *testing.T) {
	store := newMemStore()
	store.InsertErr = ErrMockStore
	svc := newTestService(store, &MockGateway{})

	_, err := svc.Initialize(context.Background(), models.PaymentRequest{Email: "a@b.co", Amount: "10", UserID: strPtr("u1")})
	if KindOf(err) != KindPersistence {
		t.Fatalf("KindOf(err) = %v, want persistence", KindOf(err))
	}
	if !errors.Is(err, ErrMockStore) {
		t.Errorf("err = %v, want wrapped store error", err)
	}
}

func TestInitializeRedirect(t *testing.T) {
	svc := newTestService(newMemStore(), &MockGateway{})

	url, err := svc.InitializeRedirect(context.Background(), models.PaymentRequest{Email: "a@b.co", Amount: "10", UserID: strPtr("u1")})
	if err != nil {
		t.Fatalf("InitializeRedirect() error = %v", err)
	}
	if url != "https://checkout.paystack.com/abc" {
		t.Errorf("InitializeRedirect() = %s", url)
	}
}

func TestWebhookSettlesInitializedPayment(t *testing.T) {
	store := newMemStore()
	events := &recordingPublisher{}
	svc := newTestService(store, &MockGateway{}).WithEvents(events)

	if _, err := svc.Initialize(context.Background(), models.PaymentRequest{Email: "a@b.co", Amount: "10", UserID: strPtr("u1")}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	body := `{"event":"charge.success","data":{"reference":"ref_123","status":"success","gateway_response":"Approved"}}`
	if err := svc.HandleWebhook(context.Background(), signed(t, body), []byte(body)); err != nil {
		t.Fatalf("HandleWebhook() error = %v", err)
	}

	p, _ := store.get(models.PayerUser, "ref_123")
	if p.Status != models.StatusSuccess {
		t.Errorf("status = %s, want success", p.Status)
	}
	if p.GatewayResponse == nil || *p.GatewayResponse != "Approved" {
		t.Errorf("gateway_response = %v, want Approved", p.GatewayResponse)
	}
	if p.RawPayload != body {
		t.Errorf("raw_payload = %s, want request body", p.RawPayload)
	}
	if p.LastEventAt == nil {
		t.Error("last_event_at not set")
	}

	last := events.events[len(events.events)-1]
	if last.Type != models.EventPaymentSettled || last.PayerType != models.PayerUser || last.GatewayResponse != "Approved" {
		t.Errorf("settled event = %+v", last)
	}
}

func TestWebhookStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		body string
		want models.PaymentStatus
	}{
		{"charge success", `{"event":"charge.success","data":{"reference":"r1"}}`, models.StatusSuccess},
		{"charge failed", `{"event":"charge.failed","data":{"reference":"r1","status":"success"}}`, models.StatusFailed},
		{"other event uses data status", `{"event":"transfer.success","data":{"reference":"r1","status":"success"}}`, models.StatusSuccess},
		{"reversed folds to failed", `{"event":"refund.processed","data":{"reference":"r1","status":"reversed"}}`, models.StatusFailed},
		{"unknown status stays pending", `{"event":"charge.dispute.create","data":{"reference":"r1","status":"abandoned"}}`, models.StatusPending},
		{"no status is pending", `{"event":"charge.dispute.create","data":{"reference":"r1"}}`, models.StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.seed(models.PayerUser, pendingPayment("r1", "u1", time.Now().UTC()))
			svc := newTestService(store, &MockGateway{})

			if err := svc.HandleWebhook(context.Background(), signed(t, tt.body), []byte(tt.body)); err != nil {
				t.Fatalf("HandleWebhook() error = %v", err)
			}
			p, _ := store.get(models.PayerUser, "r1")
			if p.Status != tt.want {
				t.Errorf("status = %s, want %s", p.Status, tt.want)
			}
		})
	}
}

func TestWebhookRejections(t *testing.T) {
	tests := []struct {
		name      string
		secret    string
		signature func(t *testing.T, body string) string
		body      string
		want      ErrorKind
	}{
		{
			name:      "forged signature",
			secret:    testSecret,
			signature: func(t *testing.T, body string) string { return mutatedSignature },
			body:      testBody,
			want:      KindSignatureInvalid,
		},
		{
			name:      "unconfigured secret",
			secret:    "",
			signature: func(t *testing.T, body string) string { return testSignature },
			body:      testBody,
			want:      KindConfiguration,
		},
		{
			name:      "invalid json",
			secret:    testSecret,
			signature: signed,
			body:      `{"event":`,
			want:      KindValidation,
		},
		{
			name:      "missing reference",
			secret:    testSecret,
			signature: signed,
			body:      `{"event":"charge.success","data":{}}`,
			want:      KindValidation,
		},
		{
			name:      "unknown reference",
			secret:    testSecret,
			signature: signed,
			body:      `{"event":"charge.success","data":{"reference":"ref_missing"}}`,
			want:      KindReferenceNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.seed(models.PayerUser, pendingPayment("ref_123", "u1", time.Now().UTC()))
			svc := NewPaymentService(store, &MockGateway{}, NewSignatureVerifier(tt.secret))

			err := svc.HandleWebhook(context.Background(), tt.signature(t, tt.body), []byte(tt.body))
			if KindOf(err) != tt.want {
				t.Fatalf("KindOf(err) = %v, want %v (err=%v)", KindOf(err), tt.want, err)
			}
			p, _ := store.get(models.PayerUser, "ref_123")
			if p.Status != models.StatusPending {
				t.Errorf("status = %s, want pending after rejection", p.Status)
			}
		})
	}
}

func TestWebhookRedeliveryAndStaleEvents(t *testing.T) {
	store := newMemStore()
	store.seed(models.PayerUser, pendingPayment("ref_123", "u1", time.Now().UTC()))
	svc := newTestService(store, &MockGateway{})
	ctx := context.Background()

	success := `{"event":"charge.success","data":{"reference":"ref_123","gateway_response":"Approved","paid_at":"2026-03-01T10:00:00.000Z"}}`
	for i := 0; i < 2; i++ {
		if err := svc.HandleWebhook(ctx, signed(t, success), []byte(success)); err != nil {
			t.Fatalf("delivery %d: HandleWebhook() error = %v", i+1, err)
		}
	}

	older := `{"event":"charge.failed","data":{"reference":"ref_123","gateway_response":"Declined","paid_at":"2026-03-01T09:00:00.000Z"}}`
	if err := svc.HandleWebhook(ctx, signed(t, older), []byte(older)); err != nil {
		t.Fatalf("stale delivery: HandleWebhook() error = %v", err)
	}

	regress := `{"event":"charge.pending","data":{"reference":"ref_123","status":"ongoing","paid_at":"2026-03-01T11:00:00.000Z"}}`
	if err := svc.HandleWebhook(ctx, signed(t, regress), []byte(regress)); err != nil {
		t.Fatalf("pending delivery: HandleWebhook() error = %v", err)
	}

	p, _ := store.get(models.PayerUser, "ref_123")
	if p.Status != models.StatusSuccess || *p.GatewayResponse != "Approved" {
		t.Errorf("payment = %s/%s, want success/Approved", p.Status, *p.GatewayResponse)
	}
	want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if p.LastEventAt == nil || !p.LastEventAt.Equal(want) {
		t.Errorf("last_event_at = %v, want %v", p.LastEventAt, want)
	}

	newer := `{"event":"charge.failed","data":{"reference":"ref_123","gateway_response":"Reversed","paid_at":"2026-03-02T10:00:00.000Z"}}`
	if err := svc.HandleWebhook(ctx, signed(t, newer), []byte(newer)); err != nil {
		t.Fatalf("newer delivery: HandleWebhook() error = %v", err)
	}
	p, _ = store.get(models.PayerUser, "ref_123")
	if p.Status != models.StatusFailed {
		t.Errorf("status = %s, want failed after newer event", p.Status)
	}
}

func TestPendingPollDoesNotBlockLaterSuccess(t *testing.T) {
	pollTime := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	paidAt := time.Date(2026, 3, 1, 10, 0, 3, 0, time.UTC)

	var gatewayStatus string
	var gatewayPaidAt *time.Time
	gateway := &MockGateway{
		VerifyFunc: func(ctx context.Context, reference string) (*VerifyResult, error) {
			return &VerifyResult{
				VerifyResponse: models.VerifyResponse{
					Status: true,
					Data:   models.VerifyData{Status: gatewayStatus, Reference: reference},
				},
				PaidAt: gatewayPaidAt,
			}, nil
		},
	}
	store := newMemStore()
	store.seed(models.PayerUser, pendingPayment("ref_123", "u1", pollTime.Add(-time.Minute)))
	svc := newTestService(store, gateway)
	svc.now = func() time.Time { return pollTime }
	ctx := context.Background()

	gatewayStatus = "ongoing"
	if _, err := svc.Verify(ctx, "ref_123"); err != nil {
		t.Fatalf("pending Verify() error = %v", err)
	}
	p, _ := store.get(models.PayerUser, "ref_123")
	if p.Status != models.StatusPending || p.LastEventAt != nil {
		t.Fatalf("after pending poll: status=%s last_event_at=%v, want pending/unset", p.Status, p.LastEventAt)
	}

	body := `{"event":"charge.success","data":{"reference":"ref_123","gateway_response":"Approved","paid_at":"2026-03-01T10:00:03.000Z"}}`
	if err := svc.HandleWebhook(ctx, signed(t, body), []byte(body)); err != nil {
		t.Fatalf("HandleWebhook() error = %v", err)
	}
	p, _ = store.get(models.PayerUser, "ref_123")
	if p.Status != models.StatusSuccess {
		t.Fatalf("status = %s, want success after a paid_at earlier than the poll", p.Status)
	}
	if p.LastEventAt == nil || !p.LastEventAt.Equal(paidAt) {
		t.Errorf("last_event_at = %v, want %v", p.LastEventAt, paidAt)
	}

	t.Run("verify settles after a pending poll", func(t *testing.T) {
		store := newMemStore()
		store.seed(models.PayerDriver, pendingPayment("ref_123", "d1", pollTime.Add(-time.Minute)))
		svc := newTestService(store, gateway)
		svc.now = func() time.Time { return pollTime }

		gatewayStatus, gatewayPaidAt = "ongoing", nil
		if _, err := svc.Verify(ctx, "ref_123"); err != nil {
			t.Fatalf("pending Verify() error = %v", err)
		}
		gatewayStatus, gatewayPaidAt = "success", &paidAt
		if _, err := svc.Verify(ctx, "ref_123"); err != nil {
			t.Fatalf("success Verify() error = %v", err)
		}

		p, _ := store.get(models.PayerDriver, "ref_123")
		if p.Status != models.StatusSuccess {
			t.Errorf("status = %s, want success", p.Status)
		}
	})
}

func TestWebhookReplayGuard(t *testing.T) {
	store := newMemStore()
	store.seed(models.PayerUser, pendingPayment("ref_123", "u1", time.Now().UTC()))
	guard := &memReplayGuard{seen: map[string]bool{}}
	svc := newTestService(store, &MockGateway{}).WithReplayGuard(guard)

	body := `{"event":"charge.success","data":{"reference":"ref_123"}}`
	sig := signed(t, body)

	if err := svc.HandleWebhook(context.Background(), sig, []byte(body)); err != nil {
		t.Fatalf("HandleWebhook() error = %v", err)
	}
	if !guard.seen[sig] {
		t.Fatal("delivery not remembered")
	}
	before := len(store.lookups)

	if err := svc.HandleWebhook(context.Background(), sig, []byte(body)); err != nil {
		t.Fatalf("duplicate HandleWebhook() error = %v", err)
	}
	if len(store.lookups) != before {
		t.Errorf("duplicate delivery reached the store")
	}
}

func TestApplySettlementSearchesBothPartitions(t *testing.T) {
	store := newMemStore()
	store.seed(models.PayerDriver, pendingPayment("ref_d", "d1", time.Now().UTC()))
	svc := newTestService(store, &MockGateway{})

	err := svc.ApplySettlement(context.Background(), "test", models.Settlement{
		Reference:  "ref_d",
		Status:     models.StatusSuccess,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("ApplySettlement() error = %v", err)
	}
	if len(store.lookups) != 2 || store.lookups[0] != models.PayerUser || store.lookups[1] != models.PayerDriver {
		t.Errorf("lookups = %v, want [user driver]", store.lookups)
	}
	p, _ := store.get(models.PayerDriver, "ref_d")
	if p.Status != models.StatusSuccess {
		t.Errorf("status = %s, want success", p.Status)
	}
}

func TestApplySettlementStoreFailure(t *testing.T) {
	store := newMemStore()
	store.ApplyErr = ErrMockStore
	svc := newTestService(store, &MockGateway{})

	err := svc.ApplySettlement(context.Background(), "test", models.Settlement{Reference: "r", Status: models.StatusSuccess})
	if KindOf(err) != KindPersistence {
		t.Errorf("KindOf(err) = %v, want persistence", KindOf(err))
	}
}

func TestVerify(t *testing.T) {
	paidAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	gateway := &MockGateway{
		VerifyFunc: func(ctx context.Context, reference string) (*VerifyResult, error) {
			return &VerifyResult{
				VerifyResponse: models.VerifyResponse{
					Status:  true,
					Message: "Verification successful",
					Data:    models.VerifyData{Status: "success", Amount: 500000, Reference: reference, GatewayResponse: "Successful"},
				},
				PaidAt: &paidAt,
				Raw:    []byte(`{"status":true}`),
			}, nil
		},
	}

	t.Run("applies to stored payment", func(t *testing.T) {
		store := newMemStore()
		store.seed(models.PayerUser, pendingPayment("ref_123", "u1", paidAt.Add(-time.Hour)))
		svc := newTestService(store, gateway)

		res, err := svc.Verify(context.Background(), "ref_123")
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if res.Data.Amount != 500000 || res.Data.Status != "success" {
			t.Errorf("Verify() = %+v", res)
		}
		p, _ := store.get(models.PayerUser, "ref_123")
		if p.Status != models.StatusSuccess || *p.GatewayResponse != "Successful" {
			t.Errorf("payment = %+v", p)
		}
		if p.LastEventAt == nil || !p.LastEventAt.Equal(paidAt) {
			t.Errorf("last_event_at = %v, want paid_at %v", p.LastEventAt, paidAt)
		}
	})

	t.Run("unknown reference still returns gateway result", func(t *testing.T) {
		svc := newTestService(newMemStore(), gateway)

		res, err := svc.Verify(context.Background(), "ref_elsewhere")
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if res.Data.Reference != "ref_elsewhere" {
			t.Errorf("reference = %s", res.Data.Reference)
		}
	})

	t.Run("store failure fails the call", func(t *testing.T) {
		store := newMemStore()
		store.ApplyErr = ErrMockStore
		svc := newTestService(store, gateway)

		if _, err := svc.Verify(context.Background(), "ref_123"); KindOf(err) != KindPersistence {
			t.Errorf("KindOf(err) = %v, want persistence", KindOf(err))
		}
	})

	t.Run("empty reference", func(t *testing.T) {
		svc := newTestService(newMemStore(), gateway)
		if _, err := svc.Verify(context.Background(), " "); KindOf(err) != KindValidation {
			t.Errorf("KindOf(err) = %v, want validation", KindOf(err))
		}
	})

	t.Run("gateway failure", func(t *testing.T) {
		svc := newTestService(newMemStore(), &MockGateway{})
		if _, err := svc.Verify(context.Background(), "ref_123"); !errors.Is(err, ErrMockGateway) {
			t.Errorf("err = %v, want gateway error", err)
		}
	})
}

func TestListPayments(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.seed(models.PayerUser, pendingPayment("u-old", "u1", base))
	store.seed(models.PayerDriver, pendingPayment("d-mid", "d1", base.Add(time.Hour)))
	store.seed(models.PayerUser, pendingPayment("u-new", "u2", base.Add(2*time.Hour)))
	svc := newTestService(store, &MockGateway{})

	payments, err := svc.ListPayments(context.Background())
	if err != nil {
		t.Fatalf("ListPayments() error = %v", err)
	}
	var refs []string
	for _, p := range payments {
		refs = append(refs, p.Reference)
	}
	if fmt.Sprint(refs) != "[u-new d-mid u-old]" {
		t.Errorf("order = %v, want [u-new d-mid u-old]", refs)
	}
	if payments[1].PayerType != models.PayerDriver {
		t.Errorf("payer_type = %s, want driver", payments[1].PayerType)
	}

	store.ListErr = ErrMockStore
	if _, err := svc.ListPayments(context.Background()); KindOf(err) != KindPersistence {
		t.Errorf("KindOf(err) = %v, want persistence", KindOf(err))
	}
}

func TestListPayerPayments(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.seed(models.PayerUser, pendingPayment("a", "u1", base))
	store.seed(models.PayerUser, pendingPayment("b", "u2", base))
	store.seed(models.PayerDriver, pendingPayment("c", "u1", base))
	svc := newTestService(store, &MockGateway{})

	payments, err := svc.ListPayerPayments(context.Background(), models.PayerUser, "u1")
	if err != nil {
		t.Fatalf("ListPayerPayments() error = %v", err)
	}
	if len(payments) != 1 || payments[0].Reference != "a" {
		t.Errorf("ListPayerPayments() = %+v, want only a", payments)
	}

	payments, err = svc.ListPayerPayments(context.Background(), models.PayerDriver, "nobody")
	if err != nil || payments == nil || len(payments) != 0 {
		t.Errorf("ListPayerPayments(nobody) = %v, %v; want empty non-nil slice", payments, err)
	}

	if _, err := svc.ListPayerPayments(context.Background(), models.PayerUser, ""); KindOf(err) != KindValidation {
		t.Errorf("KindOf(err) = %v, want validation", KindOf(err))
	}
}
