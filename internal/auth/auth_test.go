package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-assets/internal/shared"
)

var fixedNow = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func newVerifier(t *testing.T, issuer string) *Verifier {
	t.Helper()
	v, err := NewVerifier("test-secret", issuer)
	require.NoError(t, err)
	v.WithNow(func() time.Time { return fixedNow })
	return v
}

func TestVerifyRoundTrip(t *testing.T) {
	v := newVerifier(t, "odyssey")
	token, err := v.Issue(12, "auditor@example.com", []string{" Asset.Audit.Capture ", ""}, time.Hour)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, int64(12), p.UserID)
	require.Equal(t, "auditor@example.com", p.Email)
	require.Equal(t, []string{"asset.audit.capture"}, p.Permissions)
}

func TestVerifyRejects(t *testing.T) {
	v := newVerifier(t, "odyssey")

	expired, err := v.Issue(1, "", nil, -time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	other := newVerifier(t, "someone-else")
	foreign, err := other.Issue(1, "", nil, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(foreign)
	require.ErrorIs(t, err, ErrInvalidToken)

	wrongKey, err := NewVerifier("another-secret", "odyssey")
	require.NoError(t, err)
	wrongKey.WithNow(func() time.Time { return fixedNow })
	forged, err := wrongKey.Issue(1, "", nil, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(forged)
	require.ErrorIs(t, err, ErrInvalidToken)

	badSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "abc",
		Issuer:    "odyssey",
		ExpiresAt: jwt.NewNumericDate(fixedNow.Add(time.Hour)),
	}})
	signed, err := badSubject.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = v.Verify(signed)
	require.ErrorIs(t, err, ErrInvalidToken)

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "1", Issuer: "odyssey"}})
	signed, err = noExpiry.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = v.Verify(signed)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier("  ", "")
	require.Error(t, err)
}

func TestMiddlewareAuthenticate(t *testing.T) {
	v := newVerifier(t, "")
	mw := NewMiddleware(v, nil)

	var seen *shared.Principal
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	token, err := v.Issue(5, "", []string{shared.PermAuditView}, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.NotNil(t, seen)
	require.Equal(t, int64(5), seen.UserID)
}
