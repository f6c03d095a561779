// Package signature verifies gateway webhook authenticity. The gateway signs
// "<timestamp>.<payload>" with HMAC-SHA256 and sends the result in the
// Gateway-Signature header as "t=<unix>,v1=<hex>".
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const Header = "Gateway-Signature"

var ErrInvalid = errors.New("invalid_signature")

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(strings.TrimSpace(secret))}
}

func (v *Verifier) Verify(payload []byte, headers http.Header) error {
	if len(v.secret) == 0 {
		return ErrInvalid
	}

	sigHeader := strings.TrimSpace(headers.Get(Header))
	if sigHeader == "" {
		return ErrInvalid
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return ErrInvalid
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalid
}

// Sign produces the header value for a payload. Used by tests and local
// tooling that replays webhook deliveries.
func (v *Verifier) Sign(timestamp string, payload []byte) string {
	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}
