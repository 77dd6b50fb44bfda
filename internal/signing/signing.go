// Package signing implements a minimal HMAC helper for issuing and checking
// admin session tokens.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidToken covers malformed tokens and bad signatures.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrExpiredToken is returned for well-formed tokens past their expiry.
	ErrExpiredToken = errors.New("session token expired")
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Sign returns the hex signature for inputs.
func (s *Signer) Sign(subject string, expiresUnix int64) string {
	// hmac.New accepts a hash constructor (sha256.New) plus the secret key.
	mac := hmac.New(sha256.New, s.secret)
	payload := fmt.Sprintf("%s:%d", subject, expiresUnix)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate compares the provided signature with the expected.
func (s *Signer) Validate(subject, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	expected := s.Sign(subject, exp)
	// hmac.Equal performs constant-time comparison to avoid timing attacks.
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Issue returns an opaque token for subject valid for ttl, and its expiry.
func (s *Signer) Issue(subject string, ttl time.Duration) (string, time.Time) {
	exp := s.now().Add(ttl).Unix()
	raw := strings.Join([]string{subject, strconv.FormatInt(exp, 10), s.Sign(subject, exp)}, "|")
	return base64.RawURLEncoding.EncodeToString([]byte(raw)), time.Unix(exp, 0).UTC()
}

// Parse checks a token produced by Issue and returns its subject.
func (s *Signer) Parse(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidToken
	}
	// The subject may itself contain "|", so split from the right.
	parts := strings.Split(string(raw), "|")
	if len(parts) < 3 {
		return "", ErrInvalidToken
	}
	sig := parts[len(parts)-1]
	expires := parts[len(parts)-2]
	subject := strings.Join(parts[:len(parts)-2], "|")
	if !s.Validate(subject, expires, sig) {
		return "", ErrInvalidToken
	}
	exp, _ := strconv.ParseInt(expires, 10, 64)
	if !s.now().Before(time.Unix(exp, 0)) {
		return "", ErrExpiredToken
	}
	return subject, nil
}
