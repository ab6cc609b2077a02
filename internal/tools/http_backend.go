package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HTTPBackend posts each request to {baseURL}/tools/{name}. Requests carry a
// short-lived HS256 service token whose subject is the tenant id.
type HTTPBackend struct {
	baseURL string
	secret  []byte
	client  *http.Client
}

var _ Backend = (*HTTPBackend)(nil)

// NewHTTPBackend builds a backend for the commerce tool service.
func NewHTTPBackend(baseURL, secret string, client *http.Client) *HTTPBackend {
	if strings.TrimSpace(baseURL) == "" {
		panic("tools: backend base url cannot be empty")
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		client:  client,
	}
}

func (b *HTTPBackend) token(tenantID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   tenantID,
		Issuer:    "commerce-concierge",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
}

// Execute sends req and decodes the uniform result envelope.
func (b *HTTPBackend) Execute(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("tools: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/tools/"+string(req.Tool), bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("tools: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", req.RequestID)
	if len(b.secret) > 0 {
		tok, err := b.token(req.TenantID)
		if err != nil {
			return Result{}, fmt.Errorf("tools: sign service token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("tools: call %s: %w", req.Tool, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("tools: read %s response: %w", req.Tool, err)
	}
	if resp.StatusCode >= 500 {
		return Result{}, fmt.Errorf("tools: %s returned status %d", req.Tool, resp.StatusCode)
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Result{}, fmt.Errorf("tools: decode %s response (status %d): %w", req.Tool, resp.StatusCode, err)
	}
	return res, nil
}
