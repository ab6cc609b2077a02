package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPBackendSendsFlatEnvelope(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	var gotSubject string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims := jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return []byte("s3cret"), nil })
		require.NoError(t, err)
		gotSubject = claims.Subject

		_, _ = w.Write([]byte(`{"success":true,"data":{"items":[],"total_matches_estimate":0},"error_code":null,"error_message":null}`))
	}))
	defer srv.Close()

	backend := NewHTTPBackend(srv.URL+"/", "s3cret", srv.Client())
	res, err := backend.Execute(context.Background(), Request{
		Tool: CatalogSearch, TenantID: tenantA, RequestID: reqID, ConversationID: convID,
		Params: map[string]any{"query": "iphone"},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.ErrorCode)

	assert.Equal(t, "/tools/catalog_search", gotPath)
	assert.Equal(t, tenantA, gotBody["tenant_id"])
	assert.Equal(t, reqID, gotBody["request_id"])
	assert.Equal(t, convID, gotBody["conversation_id"])
	assert.Equal(t, "iphone", gotBody["query"])
	assert.Equal(t, tenantA, gotSubject)
}

func TestHTTPBackendServerErrorIsExecutionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	backend := NewHTTPBackend(srv.URL, "", srv.Client())
	_, err := backend.Execute(context.Background(), Request{Tool: KBRetrieve, TenantID: tenantA})
	require.Error(t, err)
}

func TestHTTPBackendBusinessFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"data":null,"error_code":"ORDER_NOT_FOUND","error_message":"no such order"}`))
	}))
	defer srv.Close()

	backend := NewHTTPBackend(srv.URL, "", srv.Client())
	res, err := backend.Execute(context.Background(), Request{Tool: OrderGetStatus, TenantID: tenantA})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, CodeOrderNotFound, res.ErrorCode)
}

func TestResultJSONUsesNulls(t *testing.T) {
	data, err := json.Marshal(Success(map[string]any{"ok": true}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"data":{"ok":true},"error_code":null,"error_message":null}`, string(data))

	var req Request
	require.NoError(t, json.Unmarshal([]byte(`{"tenant_id":"t","request_id":"r","conversation_id":"c","query":"x"}`), &req))
	assert.Equal(t, "t", req.TenantID)
	assert.Equal(t, map[string]any{"query": "x"}, req.Params)
}
