package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Verification errors.
var (
	ErrMissingSecret    = errors.New("payment signing secret missing")
	ErrMissingReference = errors.New("order and payment references are required")
	ErrInvalidSignature = errors.New("invalid payment signature")
)

// Verifier confirms that a payment confirmation was issued by the gateway.
type Verifier interface {
	Verify(orderID, paymentID, signature string) error
}

// RazorpayVerifier checks the checkout signature Razorpay returns after a successful payment.
type RazorpayVerifier struct {
	secret []byte
}

// NewRazorpayVerifier constructs a verifier for the given key secret.
func NewRazorpayVerifier(secret string) *RazorpayVerifier {
	return &RazorpayVerifier{secret: []byte(secret)}
}

// Sign returns the hex HMAC-SHA256 of "orderID|paymentID".
func (v *RazorpayVerifier) Sign(orderID, paymentID string) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrMissingSecret
	}
	if orderID == "" || paymentID == "" {
		return "", ErrMissingReference
	}
	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify implements Verifier.
func (v *RazorpayVerifier) Verify(orderID, paymentID, signature string) error {
	expected, err := v.Sign(orderID, paymentID)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		return ErrInvalidSignature
	}
	return nil
}
