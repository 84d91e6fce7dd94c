package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/rs/zerolog/log"
)

// Sign returns the hex-encoded HMAC-SHA256 of context keyed by secret.
// It is the value the iframe host sends alongside the context.
func Sign(secret, context string) string {
	if secret == "" {
		return ""
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(context))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier checks iframe context signatures against the shared embed secret.
type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Verify reports whether signature is the HMAC of the exact context bytes.
// It never fails loudly: every problem is logged and reported as false.
func (v *Verifier) Verify(context, signature string) bool {
	if v == nil || v.secret == "" {
		log.Error().Msg("signature verifier: embed secret is not configured")
		return false
	}
	if signature == "" {
		log.Debug().Msg("signature verifier: empty signature")
		return false
	}

	expected := Sign(v.secret, context)
	return hmac.Equal([]byte(expected), []byte(signature))
}
