package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const serviceClaimsKey contextKey = "serviceClaims"

// ServiceClaims identify a calling service. TenantID restricts the caller to
// one tenant; an empty TenantID is a platform caller allowed to act for any.
type ServiceClaims struct {
	TenantID string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// Allows reports whether the caller may act for tenantID.
func (c ServiceClaims) Allows(tenantID string) bool {
	return c.TenantID == "" || c.TenantID == tenantID
}

// ServiceJWT enforces an HMAC-signed bearer token on service endpoints.
func ServiceJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "service auth disabled", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")
			claims := ServiceClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := WithServiceClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithServiceClaims stores claims on ctx.
func WithServiceClaims(ctx context.Context, claims ServiceClaims) context.Context {
	return context.WithValue(ctx, serviceClaimsKey, claims)
}

// ServiceClaimsFromContext returns service JWT claims if present.
func ServiceClaimsFromContext(ctx context.Context) (ServiceClaims, bool) {
	claims, ok := ctx.Value(serviceClaimsKey).(ServiceClaims)
	return claims, ok
}

// SignServiceToken issues a token for a caller. Operator tooling and tests use it.
func SignServiceToken(secret, subject, tenantID string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = subject
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ServiceClaims{TenantID: tenantID, RegisteredClaims: claims})
	return token.SignedString([]byte(secret))
}
