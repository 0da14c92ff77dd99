package services

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ridenow/ridenow-gobackend/internal/metrics"
	"github.com/ridenow/ridenow-gobackend/internal/models"
)

const (
	storeTimeout = 5 * time.Second
	listTimeout  = 10 * time.Second
)

// Gateway is the outbound side of the payment provider.
type Gateway interface {
	Initialize(ctx context.Context, email, amount, currency string) (*models.InitializeResponse, error)
	Verify(ctx context.Context, reference string) (*VerifyResult, error)
}

// PaymentStore persists payments in one partition per payer kind.
type PaymentStore interface {
	InsertPending(ctx context.Context, kind models.PayerKind, p *models.Payment) error
	// ApplySettlement is a single conditional update against one partition.
	ApplySettlement(ctx context.Context, kind models.PayerKind, s models.Settlement) (models.SettlementOutcome, error)
	// List returns a partition newest first; an empty payerID lists all of it.
	List(ctx context.Context, kind models.PayerKind, payerID string) ([]models.Payment, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev models.PaymentEvent) error
}

// ReplayGuard remembers webhook deliveries that were already processed.
type ReplayGuard interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string) error
}

type PaymentService struct {
	store    PaymentStore
	gateway  Gateway
	verifier *SignatureVerifier
	events   EventPublisher
	replay   ReplayGuard
	now      func() time.Time
}

func NewPaymentService(store PaymentStore, gateway Gateway, verifier *SignatureVerifier) *PaymentService {
	return &PaymentService{
		store:    store,
		gateway:  gateway,
		verifier: verifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *PaymentService) WithEvents(p EventPublisher) *PaymentService {
	s.events = p
	return s
}

func (s *PaymentService) WithReplayGuard(g ReplayGuard) *PaymentService {
	s.replay = g
	return s
}

// Initialize validates req, starts the transaction with the gateway and
// stores it as pending under the payer's partition.
func (s *PaymentService) Initialize(ctx context.Context, req models.PaymentRequest) (*models.InitializeResponse, error) {
	kind, payment, currency, err := s.prepare(req)
	if err != nil {
		log.Printf("Payment initialization rejected: %v", err)
		return nil, err
	}

	res, err := s.gateway.Initialize(ctx, payment.Email, payment.Amount, currency)
	if err != nil {
		log.Printf("Failed to initialize payment with gateway: %v", err)
		return nil, err
	}

	now := s.now()
	payment.ID = uuid.NewString()
	payment.Reference = res.Data.Reference
	payment.AuthorizationURL = res.Data.AuthorizationURL
	payment.AccessCode = res.Data.AccessCode
	payment.Status = models.StatusPending
	payment.CreatedAt = now
	payment.UpdatedAt = now

	// The gateway already holds the transaction, so the write must not be
	// abandoned because the caller went away.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	if err := s.store.InsertPending(storeCtx, kind, payment); err != nil {
		log.Printf("Inconsistency: gateway reference %s initialized but not stored for %s %s: %v",
			payment.Reference, kind, payment.PayerID, err)
		return nil, newError(KindPersistence, err, "failed to store %s payment", kind)
	}

	log.Printf("Payment initialized: reference=%s, payer_type=%s, payer_id=%s, amount=%s %s",
		payment.Reference, kind, payment.PayerID, payment.Amount, payment.Currency)

	s.publish(ctx, models.PaymentEvent{
		Type:       models.EventPaymentInitialized,
		Reference:  payment.Reference,
		Status:     payment.Status,
		PayerType:  kind,
		PayerID:    payment.PayerID,
		Amount:     payment.Amount,
		Currency:   payment.Currency,
		OccurredAt: now,
	})

	return res, nil
}

// InitializeRedirect is Initialize for callers that only want the checkout URL.
func (s *PaymentService) InitializeRedirect(ctx context.Context, req models.PaymentRequest) (string, error) {
	res, err := s.Initialize(ctx, req)
	if err != nil {
		return "", err
	}
	return res.Data.AuthorizationURL, nil
}

// Verify asks the gateway for the state of reference and applies it locally.
// The gateway result is returned even when no local record matches.
func (s *PaymentService) Verify(ctx context.Context, reference string) (*models.VerifyResponse, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, newError(KindValidation, nil, "reference is required")
	}

	res, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		log.Printf("Failed to verify payment %s: %v", reference, err)
		return nil, err
	}

	occurredAt := s.now()
	if res.PaidAt != nil {
		occurredAt = res.PaidAt.UTC()
	}
	gatewayResponse := res.Data.GatewayResponse

	err = s.ApplySettlement(ctx, "verify", models.Settlement{
		Reference:       res.Data.Reference,
		Status:          normalizeStatus(res.Data.Status),
		GatewayResponse: &gatewayResponse,
		RawPayload:      res.Raw,
		OccurredAt:      occurredAt,
	})
	if err != nil {
		switch KindOf(err) {
		case KindReferenceNotFound, KindStaleSettlement:
			log.Printf("Warning: verified payment %s not applied locally: %v", res.Data.Reference, err)
		default:
			return nil, err
		}
	}

	log.Printf("Payment verified: reference=%s, status=%s, amount=%d", res.Data.Reference, res.Data.Status, res.Data.Amount)
	return &res.VerifyResponse, nil
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		Reference       string  `json:"reference"`
		Status          *string `json:"status"`
		GatewayResponse *string `json:"gateway_response"`
		PaidAt          string  `json:"paid_at"`
	} `json:"data"`
}

// HandleWebhook authenticates a raw delivery and applies the status it reports.
// rawBody must be exactly the bytes that were signed.
func (s *PaymentService) HandleWebhook(ctx context.Context, signature string, rawBody []byte) error {
	ok, err := s.verifier.Verify(signature, rawBody)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("error").Inc()
		return err
	}
	if !ok {
		metrics.WebhookDeliveries.WithLabelValues("forged").Inc()
		return newError(KindSignatureInvalid, nil, "webhook signature mismatch")
	}

	if s.replay != nil {
		seen, err := s.replay.Seen(ctx, signature)
		if err != nil {
			log.Printf("Replay guard lookup failed, processing delivery anyway: %v", err)
		} else if seen {
			metrics.WebhookDeliveries.WithLabelValues("duplicate").Inc()
			log.Printf("Duplicate webhook delivery skipped")
			return nil
		}
	}

	var payload webhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		metrics.WebhookDeliveries.WithLabelValues("invalid").Inc()
		return newError(KindValidation, err, "invalid webhook payload")
	}
	reference := strings.TrimSpace(payload.Data.Reference)
	if reference == "" {
		metrics.WebhookDeliveries.WithLabelValues("invalid").Inc()
		return newError(KindValidation, nil, "webhook payload missing reference")
	}

	occurredAt := s.now()
	if t := parseGatewayTime(payload.Data.PaidAt); t != nil {
		occurredAt = t.UTC()
	}
	status := webhookStatus(payload.Event, payload.Data.Status)
	log.Printf("Received webhook: event=%s, reference=%s, status=%s", payload.Event, reference, status)

	err = s.ApplySettlement(ctx, "webhook", models.Settlement{
		Reference:       reference,
		Status:          status,
		GatewayResponse: payload.Data.GatewayResponse,
		RawPayload:      json.RawMessage(rawBody),
		OccurredAt:      occurredAt,
	})
	switch {
	case err == nil:
		metrics.WebhookDeliveries.WithLabelValues("applied").Inc()
	case KindOf(err) == KindStaleSettlement:
		// Nothing to redeliver; the record already holds newer state.
		metrics.WebhookDeliveries.WithLabelValues("stale").Inc()
		log.Printf("Webhook for %s ignored: %v", reference, err)
	default:
		metrics.WebhookDeliveries.WithLabelValues("error").Inc()
		return err
	}

	if s.replay != nil {
		if err := s.replay.Remember(ctx, signature); err != nil {
			log.Printf("Failed to remember webhook delivery for %s: %v", reference, err)
		}
	}
	return nil
}

// ApplySettlement writes st to whichever partition holds its reference. Both
// partitions are always searched because settlements carry no payer kind.
func (s *PaymentService) ApplySettlement(ctx context.Context, source string, st models.Settlement) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	var (
		appliedTo models.PayerKind
		stale     bool
	)
	for _, kind := range models.PayerKinds {
		outcome, err := s.store.ApplySettlement(ctx, kind, st)
		if err != nil {
			metrics.Settlements.WithLabelValues(source, "error").Inc()
			log.Printf("Failed to update %s payment %s: %v", kind, st.Reference, err)
			return newError(KindPersistence, err, "failed to update %s payment", kind)
		}
		switch outcome {
		case models.OutcomeApplied:
			appliedTo = kind
		case models.OutcomeStale:
			stale = true
		}
	}

	switch {
	case appliedTo != "":
	case stale:
		metrics.Settlements.WithLabelValues(source, "stale").Inc()
		return newError(KindStaleSettlement, nil, "settlement for %s is older than recorded state", st.Reference)
	default:
		metrics.Settlements.WithLabelValues(source, "not_found").Inc()
		return newError(KindReferenceNotFound, nil, "no payment found for reference %s", st.Reference)
	}

	metrics.Settlements.WithLabelValues(source, "applied").Inc()
	log.Printf("Payment %s updated: reference=%s, status=%s, source=%s", appliedTo, st.Reference, st.Status, source)

	ev := models.PaymentEvent{
		Type:       models.EventPaymentSettled,
		Reference:  st.Reference,
		Status:     st.Status,
		PayerType:  appliedTo,
		OccurredAt: st.OccurredAt,
	}
	if st.GatewayResponse != nil {
		ev.GatewayResponse = *st.GatewayResponse
	}
	s.publish(ctx, ev)
	return nil
}

// ListPayments returns both partitions merged, newest first.
func (s *PaymentService) ListPayments(ctx context.Context) ([]models.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	payments := []models.Payment{}
	for _, kind := range models.PayerKinds {
		part, err := s.store.List(ctx, kind, "")
		if err != nil {
			log.Printf("Failed to fetch %s payments: %v", kind, err)
			return nil, newError(KindPersistence, err, "failed to fetch %s payments", kind)
		}
		payments = append(payments, part...)
	}
	sort.SliceStable(payments, func(i, j int) bool {
		return payments[i].CreatedAt.After(payments[j].CreatedAt)
	})
	return payments, nil
}

// ListPayerPayments returns the payments of one user or driver, newest first.
func (s *PaymentService) ListPayerPayments(ctx context.Context, kind models.PayerKind, payerID string) ([]models.Payment, error) {
	payerID = strings.TrimSpace(payerID)
	if payerID == "" {
		return nil, newError(KindValidation, nil, "%s id is required", kind)
	}

	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	payments, err := s.store.List(ctx, kind, payerID)
	if err != nil {
		log.Printf("Failed to fetch payments for %s %s: %v", kind, payerID, err)
		return nil, newError(KindPersistence, err, "failed to fetch %s payments", kind)
	}
	if payments == nil {
		payments = []models.Payment{}
	}
	return payments, nil
}

// prepare validates req before anything leaves the process. The returned
// currency is what the gateway is sent: empty when the caller gave none.
func (s *PaymentService) prepare(req models.PaymentRequest) (models.PayerKind, *models.Payment, string, error) {
	kind, payerID, err := resolvePayer(req)
	if err != nil {
		return "", nil, "", err
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		return "", nil, "", newError(KindValidation, nil, "email is required")
	}
	amount := strings.TrimSpace(req.Amount)
	if amount == "" {
		return "", nil, "", newError(KindValidation, nil, "amount is required")
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return "", nil, "", newError(KindValidation, err, "amount %q is not a decimal", amount)
	}
	if !d.IsPositive() {
		return "", nil, "", newError(KindValidation, nil, "amount must be positive")
	}

	var currency string
	if req.Currency != nil {
		currency = strings.ToUpper(strings.TrimSpace(*req.Currency))
	}
	recorded := currency
	if recorded == "" {
		recorded = models.DefaultCurrency
	}

	return kind, &models.Payment{
		PayerType: kind,
		PayerID:   payerID,
		Email:     email,
		Amount:    amount,
		Currency:  recorded,
	}, currency, nil
}

func resolvePayer(req models.PaymentRequest) (models.PayerKind, string, error) {
	userID := trimmed(req.UserID)
	driverID := trimmed(req.DriverID)
	switch {
	case userID != "" && driverID != "":
		return "", "", newError(KindValidation, nil, "provide only one of user_id or driver_id")
	case userID != "":
		return models.PayerUser, userID, nil
	case driverID != "":
		return models.PayerDriver, driverID, nil
	default:
		return "", "", newError(KindValidation, nil, "user_id or driver_id is required")
	}
}

func trimmed(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

// webhookStatus maps a webhook event to a record status. Charge events decide
// the status on their own; anything else falls back to data.status.
func webhookStatus(event string, dataStatus *string) models.PaymentStatus {
	switch event {
	case "charge.success":
		return models.StatusSuccess
	case "charge.failed":
		return models.StatusFailed
	}
	if dataStatus == nil {
		return models.StatusPending
	}
	return normalizeStatus(*dataStatus)
}

// normalizeStatus folds gateway transaction states into pending, success or failed.
func normalizeStatus(status string) models.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success":
		return models.StatusSuccess
	case "failed", "reversed":
		return models.StatusFailed
	default:
		return models.StatusPending
	}
}

func (s *PaymentService) publish(ctx context.Context, ev models.PaymentEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		log.Printf("Failed to publish %s for %s: %v", ev.Type, ev.Reference, err)
	}
}
