package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestServiceJWTMissingSecret(t *testing.T) {
	mw := ServiceJWT("")
	req := httptest.NewRequest(http.MethodPost, "/v1/turns", nil)
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestServiceJWTMissingHeader(t *testing.T) {
	mw := ServiceJWT("secret")
	req := httptest.NewRequest(http.MethodPost, "/v1/turns", nil)
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestServiceJWTInvalidToken(t *testing.T) {
	mw := ServiceJWT("secret")
	req := httptest.NewRequest(http.MethodPost, "/v1/turns", nil)
	req.Header.Set("Authorization", "Bearer "+signedServiceToken(t, "wrong", ""))
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestServiceJWTExpiredToken(t *testing.T) {
	mw := ServiceJWT("secret")
	token, err := SignServiceToken("secret", "svc", "", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/turns", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestServiceJWTValidTokenCarriesTenant(t *testing.T) {
	mw := ServiceJWT("secret")
	req := httptest.NewRequest(http.MethodPost, "/v1/turns", nil)
	req.Header.Set("Authorization", "Bearer "+signedServiceToken(t, "secret", "tenant-a"))
	rec := httptest.NewRecorder()

	called := false
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		claims, ok := ServiceClaimsFromContext(r.Context())
		if !ok {
			t.Fatalf("expected service claims in context")
		}
		if !claims.Allows("tenant-a") || claims.Allows("tenant-b") {
			t.Fatalf("unexpected tenant scope %q", claims.TenantID)
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to be called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestPlatformClaimsAllowAnyTenant(t *testing.T) {
	if !(ServiceClaims{}).Allows("tenant-z") {
		t.Fatalf("platform caller should reach any tenant")
	}
}

func signedServiceToken(t *testing.T, secret, tenantID string) string {
	t.Helper()
	signed, err := SignServiceToken(secret, "channel-gateway", tenantID, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
