package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/commerce-concierge/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/commerce-concierge/internal/http/middleware"
	"github.com/wolfman30/commerce-concierge/internal/orchestrator"
	"github.com/wolfman30/commerce-concierge/internal/state"
)

const (
	secret   = "test-secret"
	tenantID = "0d7c1f3a-2b4e-4c6d-8e9f-a1b2c3d4e5f6"
	convID   = "7e6d5c4b-3a29-4181-9f0e-d1c2b3a49586"
)

type echoSubmitter struct{}

func (echoSubmitter) Submit(_ context.Context, in orchestrator.Inbound) (orchestrator.Outbound, error) {
	return orchestrator.Outbound{ConversationID: in.ConversationID, ResponseText: "echo: " + in.MessageText}, nil
}

func newTestRouter(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	if cfg.Turns == nil {
		cfg.Turns = handlers.NewTurnsHandler(echoSubmitter{}, state.NewMemoryStore(), nil)
	}
	return New(&cfg)
}

func token(t *testing.T, tenant string) string {
	t.Helper()
	signed, err := httpmiddleware.SignServiceToken(secret, "channel-gateway", tenant, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	require.NoError(t, err)
	return signed
}

func turnRequest(t *testing.T, bearer string) *http.Request {
	t.Helper()
	body, err := json.Marshal(orchestrator.Inbound{TenantID: tenantID, ConversationID: convID, MessageText: "hi"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/turns", bytes.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, Config{ServiceAuthSecret: secret})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestRouterMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "concierge_test_total", Help: "test"}))
	router := newTestRouter(t, Config{ServiceAuthSecret: secret, MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "concierge_test_total")
}

func TestTurnRequiresServiceToken(t *testing.T) {
	router := newTestRouter(t, Config{ServiceAuthSecret: secret})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, turnRequest(t, ""))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, turnRequest(t, token(t, tenantID)))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "echo: hi")
}

func TestTurnRejectsForeignTenantToken(t *testing.T) {
	router := newTestRouter(t, Config{ServiceAuthSecret: secret})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, turnRequest(t, token(t, "9a8b7c6d-5e4f-4a3b-9c2d-1e0f9a8b7c6d")))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestTurnAPINotMountedWithoutSecret(t *testing.T) {
	router := newTestRouter(t, Config{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, turnRequest(t, ""))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	dev := newTestRouter(t, Config{AllowUnauthenticated: true})
	rr = httptest.NewRecorder()
	dev.ServeHTTP(rr, turnRequest(t, ""))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestTurnRateLimitPerTenant(t *testing.T) {
	router := newTestRouter(t, Config{ServiceAuthSecret: secret, RateLimiter: httpmiddleware.NewRateLimiter(0.001, 1)})
	bearer := token(t, tenantID)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, turnRequest(t, bearer))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, turnRequest(t, bearer))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}
