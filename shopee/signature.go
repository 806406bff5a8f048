package shopee

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
)

// Verifier checks webhook push signatures. The platform signs the raw
// request body with HMAC-SHA256 using the partner key; some accounts
// receive a dedicated webhook partner key, so both are tried.
type Verifier struct {
	keys   [][]byte
	debug  bool
	logger *slog.Logger
}

// NewVerifier builds a Verifier from the configured keys. Keys issued
// with the "shpk" prefix are normalized before use. When debug is set,
// invalid signatures are logged and accepted.
func NewVerifier(partnerKey, webhookPartnerKey string, debug bool, logger *slog.Logger) *Verifier {
	var keys [][]byte
	for _, k := range []string{partnerKey, webhookPartnerKey} {
		k = strings.TrimPrefix(k, "shpk")
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}
	return &Verifier{keys: keys, debug: debug, logger: logger}
}

// Verify reports whether the signature matches the raw body under any
// configured key. An empty body or missing signature never verifies.
func (v *Verifier) Verify(body []byte, signature string) bool {
	if len(body) == 0 || signature == "" {
		return v.debugAccept("empty body or missing signature")
	}

	provided := []byte(signature)
	for _, key := range v.keys {
		mac := hmac.New(sha256.New, key)
		mac.Write(body)
		expected := []byte(hex.EncodeToString(mac.Sum(nil)))
		if hmac.Equal(expected, provided) {
			return true
		}
	}

	return v.debugAccept("signature mismatch")
}

func (v *Verifier) debugAccept(reason string) bool {
	if v.debug {
		v.logger.Warn("accepting unverified webhook in debug mode",
			slog.String("reason", reason),
		)
		return true
	}
	return false
}
