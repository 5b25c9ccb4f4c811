package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mattjoyce/qiwigo/internal/event"
)

// ErrSignatureUnverified matches every signature verification failure.
var ErrSignatureUnverified = errors.New("webhook: signature unverified")

// SignatureError reports why a delivery failed verification. The reason is
// for logs only; senders get a fixed message.
type SignatureError struct {
	Kind   event.Kind
	Reason string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("webhook: %s signature unverified: %s", e.Kind, e.Reason)
}

func (e *SignatureError) Unwrap() error {
	return ErrSignatureUnverified
}

// VerifySignature checks the HMAC-SHA256 signature of ev against the
// base64-encoded secret. Experimental events pass without a check.
func VerifySignature(ev event.Signed, base64Secret string) error {
	if ev.Experimental() {
		return nil
	}

	fail := func(reason string) error {
		return &SignatureError{Kind: ev.Kind(), Reason: reason}
	}

	key, err := decodeSecret(base64Secret)
	if err != nil {
		return fail(err.Error())
	}

	supplied, err := parseSignature(ev.Signature())
	if err != nil {
		return fail("malformed signature")
	}

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare(computeMAC(key, ev.CanonicalString()), supplied) != 1 {
		return fail("signature mismatch")
	}
	return nil
}

// Sign returns the hex signature a sender would attach to ev.
func Sign(ev event.Signed, base64Secret string) (string, error) {
	key, err := decodeSecret(base64Secret)
	if err != nil {
		return "", fmt.Errorf("webhook: %s", err)
	}
	return hex.EncodeToString(computeMAC(key, ev.CanonicalString())), nil
}

func computeMAC(key []byte, canonical string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(canonical))
	return mac.Sum(nil)
}

// decodeSecret accepts padded and unpadded standard base64.
func decodeSecret(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("no secret configured")
	}
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		key, err = base64.RawStdEncoding.DecodeString(secret)
	}
	if err != nil || len(key) == 0 {
		return nil, errors.New("secret is not valid base64")
	}
	return key, nil
}

// parseSignature decodes a hex digest, tolerating a "sha256=" prefix.
func parseSignature(signature string) ([]byte, error) {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return nil, errors.New("empty signature")
	}
	return hex.DecodeString(signature)
}
