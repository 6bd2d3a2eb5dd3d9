// Package payment checks the signatures a payment gateway returns to the
// client after checkout.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/example/smartcart/pkg/apperr"
)

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign returns hex(HMAC-SHA256(secret, orderRef|paymentRef)).
func (v *Verifier) Sign(orderRef, paymentRef string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(orderRef + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *Verifier) Verify(orderRef, paymentRef, signature string) error {
	if orderRef == "" || paymentRef == "" || signature == "" {
		return apperr.Validation("order_id, payment_id and signature are required")
	}
	if len(v.secret) == 0 {
		return apperr.New(apperr.CodeTransactionFailure, "payment verification is not configured")
	}
	expected := v.Sign(orderRef, paymentRef)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return apperr.Validation("invalid payment signature")
	}
	return nil
}
