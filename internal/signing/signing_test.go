package signing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner(t *testing.T) {
	secret := []byte("topsecret")
	s := NewSigner(secret)
	sig := s.Sign("admin@votaciones.com", 1700000000)
	require.NotEmpty(t, sig)
	// Positive case: Validate should succeed with matching inputs.
	assert.True(t, s.Validate("admin@votaciones.com", "1700000000", sig))
	// Negative cases ensure Validate is strict about every parameter.
	assert.False(t, s.Validate("wrong", "1700000000", sig))
	assert.False(t, s.Validate("admin@votaciones.com", "42", sig))
	assert.False(t, s.Validate("admin@votaciones.com", "soon", sig))
}

func TestIssueAndParse(t *testing.T) {
	s := NewSigner([]byte("k"))
	now := time.Date(2026, 4, 12, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	token, exp := s.Issue("a|b@c", time.Hour)
	assert.Equal(t, now.Add(time.Hour), exp)

	subject, err := s.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "a|b@c", subject)

	_, err = NewSigner([]byte("other")).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.Parse("%%%")
	assert.ErrorIs(t, err, ErrInvalidToken)

	now = now.Add(2 * time.Hour)
	_, err = s.Parse(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
