package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpmiddleware "github.com/wolfman30/commerce-concierge/internal/http/middleware"
	"github.com/wolfman30/commerce-concierge/internal/orchestrator"
	"github.com/wolfman30/commerce-concierge/internal/state"
	"github.com/wolfman30/commerce-concierge/internal/tenant"
)

const (
	tenantID = "0d7c1f3a-2b4e-4c6d-8e9f-a1b2c3d4e5f6"
	convID   = "7e6d5c4b-3a29-4181-9f0e-d1c2b3a49586"
)

type stubSubmitter struct {
	got orchestrator.Inbound
	out orchestrator.Outbound
	err error
}

func (s *stubSubmitter) Submit(_ context.Context, in orchestrator.Inbound) (orchestrator.Outbound, error) {
	s.got = in
	return s.out, s.err
}

func postTurn(t *testing.T, h *TurnsHandler, body string, claims *httpmiddleware.ServiceClaims) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/turns", bytes.NewBufferString(body))
	if claims != nil {
		req = req.WithContext(httpmiddleware.WithServiceClaims(req.Context(), *claims))
	}
	rec := httptest.NewRecorder()
	h.PostTurn(rec, req)
	return rec
}

const turnBody = `{"tenant_id":"` + tenantID + `","conversation_id":"` + convID + `","message_text":"price of iphone"}`

func TestPostTurnReturnsReply(t *testing.T) {
	sub := &stubSubmitter{out: orchestrator.Outbound{ConversationID: convID, ResponseText: "Here's what I found", Journey: "sales"}}
	h := NewTurnsHandler(sub, nil, nil)

	rec := postTurn(t, h, turnBody, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out orchestrator.Outbound
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "Here's what I found", out.ResponseText)
	assert.Equal(t, "price of iphone", sub.got.MessageText)
	assert.False(t, sub.got.ReceivedAt.IsZero())
}

func TestPostTurnErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		out    orchestrator.Outbound
		err    error
		status int
	}{
		{"invalid", orchestrator.Outbound{}, orchestrator.ErrInvalidInbound, http.StatusBadRequest},
		{"unknown tenant", orchestrator.Outbound{ResponseText: "Sorry"}, tenant.ErrTenantNotFound, http.StatusNotFound},
		{"closed", orchestrator.Outbound{}, orchestrator.ErrDispatcherClosed, http.StatusServiceUnavailable},
		{"caller gone", orchestrator.Outbound{}, context.Canceled, http.StatusGatewayTimeout},
		{"fallback reply", orchestrator.Outbound{ResponseText: "Sorry, something went wrong"}, state.ErrStateConflict, http.StatusOK},
		{"no reply", orchestrator.Outbound{}, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewTurnsHandler(&stubSubmitter{out: tc.out, err: tc.err}, nil, nil)
			rec := postTurn(t, h, turnBody, nil)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestPostTurnRejectsBadBody(t *testing.T) {
	h := NewTurnsHandler(&stubSubmitter{}, nil, nil)
	assert.Equal(t, http.StatusBadRequest, postTurn(t, h, `{"tenant_id":`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, postTurn(t, h, `{"surprise":true}`, nil).Code)
}

func TestPostTurnEnforcesTenantClaim(t *testing.T) {
	sub := &stubSubmitter{}
	h := NewTurnsHandler(sub, nil, nil)

	rec := postTurn(t, h, turnBody, &httpmiddleware.ServiceClaims{TenantID: "someone-else"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, sub.got.TenantID)
}

func getConversation(h *TurnsHandler, tenant, conv string, claims *httpmiddleware.ServiceClaims) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get("/v1/tenants/{tenantID}/conversations/{conversationID}", h.GetConversation)
	req := httptest.NewRequest(http.MethodGet, "/v1/tenants/"+tenant+"/conversations/"+conv, nil)
	if claims != nil {
		req = req.WithContext(httpmiddleware.WithServiceClaims(req.Context(), *claims))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestGetConversation(t *testing.T) {
	store := state.NewMemoryStore()
	st := state.New(tenantID, convID)
	st.PhoneE164 = "+254700000001"
	st.SalesStep = "confirm"
	st.CasualTurns = 1
	require.NoError(t, store.Save(context.Background(), st, 0))
	h := NewTurnsHandler(&stubSubmitter{}, store, nil)

	rec := getConversation(h, tenantID, convID, &httpmiddleware.ServiceClaims{TenantID: tenantID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "+254700000001")

	var view conversationView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "confirm", view.SalesStep)
	assert.Equal(t, 1, view.CasualTurns)

	assert.Equal(t, http.StatusNotFound, getConversation(h, tenantID, "missing", nil).Code)
	assert.Equal(t, http.StatusForbidden, getConversation(h, tenantID, convID, &httpmiddleware.ServiceClaims{TenantID: "other"}).Code)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestJSONError(t *testing.T) {
	rec := httptest.NewRecorder()
	jsonError(rec, "oops", http.StatusTeapot)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"oops"}`, rec.Body.String())
}
