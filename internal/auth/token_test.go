package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	verifier := NewTokenVerifier("test-secret")

	token, err := verifier.Issue(Claims{UserID: "u1", HospitalID: "h1", Role: "doctor"}, time.Minute)
	require.NoError(t, err)

	claims, err := verifier.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.UserID)
	require.Equal(t, "h1", claims.HospitalID)
	require.Equal(t, "doctor", claims.Role)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewTokenVerifier("other-secret").Issue(Claims{UserID: "u1"}, time.Minute)
	require.NoError(t, err)

	_, err = NewTokenVerifier("test-secret").Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	verifier := NewTokenVerifier("test-secret")
	token, err := verifier.Issue(Claims{UserID: "u1"}, -time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, err := NewTokenVerifier("test-secret").Verify("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRequiresSubject(t *testing.T) {
	verifier := NewTokenVerifier("test-secret")
	token, err := verifier.Issue(Claims{HospitalID: "h1"}, time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}
