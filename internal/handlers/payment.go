package handlers

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/ridenow/ridenow-gobackend/internal/models"
	"github.com/ridenow/ridenow-gobackend/internal/services"
)

const (
	maxBodyBytes    = 1 << 20
	signatureHeader = "x-paystack-signature"
	// hex-encoded HMAC-SHA512
	signatureLength = 128
)

type PaymentHandler struct {
	service *services.PaymentService
}

func NewPaymentHandler(service *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{service: service}
}

// Register mounts the payment routes on router. auth guards the listing
// endpoints only; the webhook authenticates itself by signature.
func (h *PaymentHandler) Register(router *mux.Router, auth mux.MiddlewareFunc) {
	router.HandleFunc("/payments/health", h.Health).Methods("GET", "HEAD")
	router.HandleFunc("/payments/initialize", h.Initialize).Methods("POST")
	router.HandleFunc("/payments/initialize/redirect", h.InitializeRedirect).Methods("POST")
	router.HandleFunc("/payments/verify/{reference}", h.Verify).Methods("GET")
	router.HandleFunc("/payments/webhook", h.Webhook).Methods("POST")

	router.Handle("/payments", auth(http.HandlerFunc(h.GetPayments))).Methods("GET")
	router.Handle("/payments/user/{id}", auth(http.HandlerFunc(h.GetUserPayments))).Methods("GET")
	router.Handle("/payments/driver/{id}", auth(http.HandlerFunc(h.GetDriverPayments))).Methods("GET")
}

func (h *PaymentHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (h *PaymentHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req models.PaymentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.service.Initialize(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *PaymentHandler) InitializeRedirect(w http.ResponseWriter, r *http.Request) {
	var req models.PaymentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	authorizationURL, err := h.service.InitializeRedirect(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	http.Redirect(w, r, authorizationURL, http.StatusSeeOther)
}

func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	reference := mux.Vars(r)["reference"]

	res, err := h.service.Verify(r.Context(), reference)
	if err != nil {
		log.Printf("Payment verification failed: reference=%s, error=%v", reference, err)
		writeJSON(w, http.StatusInternalServerError, models.VerifyResponse{
			Status:  false,
			Message: "Payment verification failed",
			Data:    models.VerifyData{Status: string(models.StatusFailed)},
		})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	signature := strings.TrimSpace(r.Header.Get(signatureHeader))
	if signature == "" {
		writeError(w, http.StatusBadRequest, "Missing webhook signature")
		return
	}
	if len(signature) != signatureLength {
		writeError(w, http.StatusBadRequest, "Malformed webhook signature")
		return
	}
	if _, err := hex.DecodeString(signature); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed webhook signature")
		return
	}

	// The signature covers the exact bytes received, so read them once and
	// hand them over untouched.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unable to read webhook body")
		return
	}

	if err := h.service.HandleWebhook(r.Context(), signature, body); err != nil {
		log.Printf("Webhook processing failed: %v", err)
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *PaymentHandler) GetPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.service.ListPayments(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, []models.Payment{})
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *PaymentHandler) GetUserPayments(w http.ResponseWriter, r *http.Request) {
	h.payerPayments(w, r, models.PayerUser)
}

func (h *PaymentHandler) GetDriverPayments(w http.ResponseWriter, r *http.Request) {
	h.payerPayments(w, r, models.PayerDriver)
}

func (h *PaymentHandler) payerPayments(w http.ResponseWriter, r *http.Request, kind models.PayerKind) {
	payerID := mux.Vars(r)["id"]

	payments, err := h.service.ListPayerPayments(r.Context(), kind, payerID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, []models.Payment{})
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

// writeServiceError maps a service error to a status. Only validation
// messages reach the caller; everything else gets a fixed message.
func writeServiceError(w http.ResponseWriter, err error) {
	switch services.KindOf(err) {
	case services.KindValidation:
		msg := "Invalid request"
		var e *services.Error
		if errors.As(err, &e) {
			msg = e.Msg
		}
		writeError(w, http.StatusBadRequest, msg)
	case services.KindSignatureInvalid:
		writeError(w, http.StatusUnauthorized, "Invalid webhook signature")
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
