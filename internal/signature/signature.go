// Package signature verifies the processor's HMAC-SHA256 signatures.
//
// Two payload forms are in use: the synchronous checkout callback signs
// "orderId|paymentId", and the webhook signs the exact raw request body.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Compute returns the lowercase hex HMAC-SHA256 of payload keyed by secret.
func Compute(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether provided is exactly the lowercase hex digest
// Compute would produce. Case, padding or any other difference fails. An
// empty secret or signature fails too. The comparison is constant time.
func Verify(secret string, payload []byte, provided string) bool {
	if secret == "" || provided == "" {
		return false
	}
	expected := Compute(secret, payload)
	return hmac.Equal([]byte(expected), []byte(provided))
}

// PaymentPayload is the "orderId|paymentId" string the processor signs for
// the checkout callback.
func PaymentPayload(remoteOrderID, paymentID string) []byte {
	return []byte(remoteOrderID + "|" + paymentID)
}

// VerifyPayment checks the checkout callback signature.
func VerifyPayment(secret, remoteOrderID, paymentID, provided string) bool {
	if remoteOrderID == "" || paymentID == "" {
		return false
	}
	return Verify(secret, PaymentPayload(remoteOrderID, paymentID), provided)
}
