package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonical serializes a payload deterministically: object keys sorted at every
// depth, no insignificant whitespace, HTML characters left unescaped.
func Canonical(payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("canonical payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Fingerprint is the hex SHA-256 of "<eventType>:<canonical payload>". The
// event id is deliberately not part of it, so logically identical work
// submitted twice shares one cached result.
func Fingerprint(eventType string, payload any) (string, error) {
	canonical, err := Canonical(payload)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(eventType))
	h.Write([]byte{':'})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
