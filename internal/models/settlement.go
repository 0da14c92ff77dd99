package models

import (
	"encoding/json"
	"time"
)

// Settlement is a status report for a reference, from verify or a webhook.
type Settlement struct {
	Reference       string
	Status          PaymentStatus
	GatewayResponse *string
	RawPayload      json.RawMessage
	OccurredAt      time.Time
}

// SettlementOutcome is what one partition lookup did with a settlement.
type SettlementOutcome int

const (
	OutcomeMissing SettlementOutcome = iota
	OutcomeStale
	OutcomeApplied
)

func (o SettlementOutcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeStale:
		return "stale"
	default:
		return "missing"
	}
}

const (
	EventPaymentInitialized = "payment.initialized"
	EventPaymentSettled     = "payment.settled"
)

// PaymentEvent is published after a payment is created or settled.
type PaymentEvent struct {
	Type            string        `json:"type"`
	Reference       string        `json:"reference"`
	Status          PaymentStatus `json:"status"`
	PayerType       PayerKind     `json:"payer_type,omitempty"`
	PayerID         string        `json:"payer_id,omitempty"`
	Amount          string        `json:"amount,omitempty"`
	Currency        string        `json:"currency,omitempty"`
	GatewayResponse string        `json:"gateway_response,omitempty"`
	OccurredAt      time.Time     `json:"occurred_at"`
}
