// Package signing implements the HMAC tokens that protect direct download
// links: a link is bound to one note id and one expiry instant, so a leaked
// URL stops working and cannot be replayed against another note.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Signer generates and validates HMAC-SHA256 link signatures.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex signature binding a note id to an expiry time.
func (s *Signer) Sign(noteID string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", noteID, expiresUnix)
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate checks a presented signature against the expected one in constant
// time.
func (s *Signer) Validate(noteID, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	expected := s.Sign(noteID, exp)
	return hmac.Equal([]byte(expected), []byte(signature))
}
