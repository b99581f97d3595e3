package services

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef-test-secret"

func newTestTokens(t *testing.T) *SessionTokens {
	t.Helper()
	tokens, err := NewSessionTokens(testSecret, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("NewSessionTokens: %v", err)
	}
	return tokens
}

func TestSessionTokenRoundTrip(t *testing.T) {
	tokens := newTestTokens(t)
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return issued }

	raw, exp, err := tokens.Issue("65f0c0ffee0123456789abcd")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if want := issued.Add(7 * 24 * time.Hour); !exp.Equal(want) {
		t.Errorf("exp = %v, want %v", exp, want)
	}

	userID, err := tokens.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if userID != "65f0c0ffee0123456789abcd" {
		t.Errorf("userID = %q", userID)
	}
}

func TestSessionTokenFailures(t *testing.T) {
	tokens := newTestTokens(t)
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return issued }
	valid, _, err := tokens.Issue("user-1")
	if err != nil {
		t.Fatal(err)
	}

	other, err := NewSessionTokens("another-secret-of-16+", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	other.now = tokens.now
	foreign, _, _ := other.Issue("user-1")

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"userId": "user-1",
		"iss":    sessionIssuer,
		"exp":    issued.Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": sessionIssuer,
		"exp": issued.Add(time.Hour).Unix(),
	}).SignedString(tokens.key)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		raw    string
		at     time.Time
		want   error
		reason string
	}{
		{"missing", "", issued, ErrTokenMissing, "missing"},
		{"malformed", "not.a.jwt", issued, ErrTokenMalformed, "malformed"},
		{"expired", valid, issued.Add(8 * 24 * time.Hour), ErrTokenExpired, "expired"},
		{"wrong key", foreign, issued, ErrTokenSignature, "signature"},
		{"alg none", unsigned, issued, ErrTokenSignature, "signature"},
		{"no user id", noUser, issued, ErrTokenClaims, "claims"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := tt.at
			tokens.now = func() time.Time { return at }
			_, err := tokens.Parse(tt.raw)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Parse error = %v, want %v", err, tt.want)
			}
			if got := TokenFailureReason(err); got != tt.reason {
				t.Errorf("reason = %q, want %q", got, tt.reason)
			}
		})
	}
}

func TestNewSessionTokensRejectsBadInput(t *testing.T) {
	if _, err := NewSessionTokens("", time.Hour); err == nil {
		t.Error("expected error for empty secret")
	}
	if _, err := NewSessionTokens(testSecret, 0); err == nil || !strings.Contains(err.Error(), "ttl") {
		t.Errorf("expected ttl error, got %v", err)
	}
}
