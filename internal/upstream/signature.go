package upstream

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderSignature      = "X-Signature"
	HeaderRequestID      = "X-Request-Id"
)

// ComputeSignature returns the hex HMAC-SHA256 of body. The body must be the
// exact bytes put on the wire.
func ComputeSignature(secret []byte, body []byte) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("signing secret is required")
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func VerifySignature(secret []byte, body []byte, signature string) error {
	expected, err := ComputeSignature(secret, body)
	if err != nil {
		return err
	}
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" {
		return errors.New("signature is required")
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errors.New("invalid signature")
	}
	return nil
}
