package models

import (
	"time"
)

// PayerKind selects the partition a payment lives in.
type PayerKind string

const (
	PayerUser   PayerKind = "user"
	PayerDriver PayerKind = "driver"
)

// PayerKinds is the lookup order used when a settlement arrives without payer context.
var PayerKinds = []PayerKind{PayerUser, PayerDriver}

type PaymentStatus string

const (
	StatusPending PaymentStatus = "pending"
	StatusSuccess PaymentStatus = "success"
	StatusFailed  PaymentStatus = "failed"
)

const DefaultCurrency = "NGN"

// Payment is one row of user_payments or driver_payments.
type Payment struct {
	ID               string        `bson:"_id" json:"id"`
	PayerType        PayerKind     `bson:"-" json:"payer_type"`
	PayerID          string        `bson:"payer_id" json:"payer_id"`
	Email            string        `bson:"email" json:"email"`
	Amount           string        `bson:"amount" json:"amount"`
	Currency         string        `bson:"currency" json:"currency"`
	Status           PaymentStatus `bson:"status" json:"status"`
	Reference        string        `bson:"reference" json:"reference"`
	AuthorizationURL string        `bson:"authorization_url,omitempty" json:"authorization_url,omitempty"`
	AccessCode       string        `bson:"access_code,omitempty" json:"access_code,omitempty"`
	GatewayResponse  *string       `bson:"gateway_response,omitempty" json:"gateway_response,omitempty"`
	RawPayload       string        `bson:"raw_payload,omitempty" json:"-"`
	LastEventAt      *time.Time    `bson:"last_event_at,omitempty" json:"last_event_at,omitempty"`
	CreatedAt        time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `bson:"updated_at" json:"updated_at"`
}

// PaymentRequest is the body of POST /payments/initialize.
type PaymentRequest struct {
	Email    string  `json:"email"`
	Amount   string  `json:"amount"`
	Currency *string `json:"currency,omitempty"`
	UserID   *string `json:"user_id,omitempty"`
	DriverID *string `json:"driver_id,omitempty"`
}

type InitializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type InitializeResponse struct {
	Status  bool           `json:"status"`
	Message string         `json:"message"`
	Data    InitializeData `json:"data"`
}

type VerifyData struct {
	Status          string `json:"status"`
	Amount          int64  `json:"amount"`
	Reference       string `json:"reference"`
	GatewayResponse string `json:"gateway_response"`
}

type VerifyResponse struct {
	Status  bool       `json:"status"`
	Message string     `json:"message"`
	Data    VerifyData `json:"data"`
}
