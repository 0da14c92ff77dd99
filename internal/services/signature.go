package services

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
)

// SignatureVerifier checks the x-paystack-signature header of webhook deliveries.
type SignatureVerifier struct {
	secret []byte
}

func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret)}
}

// Sign returns the hex HMAC-SHA512 of body.
func (v *SignatureVerifier) Sign(body []byte) (string, error) {
	if len(v.secret) == 0 {
		return "", newError(KindConfiguration, nil, "webhook secret not configured")
	}
	mac := hmac.New(sha512.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether signature matches body. body must be the request
// bytes exactly as received.
func (v *SignatureVerifier) Verify(signature string, body []byte) (bool, error) {
	expected, err := v.Sign(body)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(signature)), nil
}
