// Package monetico adapts the Monetico (CM-CIC) payment gateway: request
// signing, notification parsing and acknowledgement, and synchronous
// capture.
package monetico

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // HMAC-SHA1 is mandated by the gateway protocol.
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/go-faster/errors"
)

// Signer computes and checks gateway MACs. The key is the hex-encoded
// merchant secret issued by the gateway.
type Signer struct {
	key []byte
}

// NewSigner decodes the hex merchant key.
func NewSigner(hexKey string) (*Signer, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, errors.Wrap(err, "decode merchant key")
	}
	if len(key) == 0 {
		return nil, errors.New("empty merchant key")
	}
	return &Signer{key: key}, nil
}

// Sign returns the uppercase hex MAC over the fields joined with '*'.
func (s *Signer) Sign(fields ...string) string {
	mac := hmac.New(sha1.New, s.key)
	mac.Write([]byte(strings.Join(fields, "*")))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// Verify reports whether got is the MAC of fields. The comparison is
// case-insensitive and constant-time.
func (s *Signer) Verify(got string, fields ...string) bool {
	gotBytes, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(s.Sign(fields...))
	return subtle.ConstantTimeCompare(gotBytes, want) == 1
}
