package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

// GatewayResult is the provider's answer to an initiate/verify call.
type GatewayResult struct {
	OK         bool   `json:"success"`
	Reference  string `json:"reference"`
	ProviderID string `json:"provider_id,omitempty"`
	Status     string `json:"status"` // pending | processing | completed | failed
	Message    string `json:"message,omitempty"`
}

// Gateway is the narrow contract to the external mobile-money provider.
// The provider owns the money movement; we only track references.
type Gateway interface {
	InitiateDeposit(ctx context.Context, amount float64, phoneNumber, reference string) (*GatewayResult, error)
	VerifyDeposit(ctx context.Context, reference string) (*GatewayResult, error)
	InitiateWithdrawal(ctx context.Context, amount float64, phoneNumber, reference string) (*GatewayResult, error)
}

// HTTPGateway talks JSON to the provider's REST API.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	http    *fasthttp.Client
	timeout time.Duration
}

func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		timeout: 10 * time.Second,
	}
}

type gatewayRequest struct {
	Amount      float64 `json:"amount,omitempty"`
	PhoneNumber string  `json:"phone_number,omitempty"`
	Reference   string  `json:"reference"`
}

func (g *HTTPGateway) InitiateDeposit(ctx context.Context, amount float64, phoneNumber, reference string) (*GatewayResult, error) {
	return g.doJSON(ctx, "/deposits", gatewayRequest{Amount: amount, PhoneNumber: phoneNumber, Reference: reference})
}

func (g *HTTPGateway) VerifyDeposit(ctx context.Context, reference string) (*GatewayResult, error) {
	return g.doJSON(ctx, "/deposits/verify", gatewayRequest{Reference: reference})
}

func (g *HTTPGateway) InitiateWithdrawal(ctx context.Context, amount float64, phoneNumber, reference string) (*GatewayResult, error) {
	return g.doJSON(ctx, "/withdrawals", gatewayRequest{Amount: amount, PhoneNumber: phoneNumber, Reference: reference})
}

func (g *HTTPGateway) doJSON(ctx context.Context, path string, in gatewayRequest) (*GatewayResult, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(g.baseURL + path)
	req.Header.SetContentType("application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req.SetBody(payload)

	deadline := time.Now().Add(g.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := g.http.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return nil, fmt.Errorf("gateway error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
	}

	var out GatewayResult
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// SimulatedGateway approves everything after one verify round-trip. Used for
// development and tests when no provider is configured.
type SimulatedGateway struct {
	mu      sync.Mutex
	pending map[string]float64
}

func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{pending: make(map[string]float64)}
}

func (g *SimulatedGateway) InitiateDeposit(ctx context.Context, amount float64, phoneNumber, reference string) (*GatewayResult, error) {
	g.mu.Lock()
	g.pending[reference] = amount
	g.mu.Unlock()
	return &GatewayResult{OK: true, Reference: reference, ProviderID: "SIM-" + reference, Status: "pending"}, nil
}

func (g *SimulatedGateway) VerifyDeposit(ctx context.Context, reference string) (*GatewayResult, error) {
	g.mu.Lock()
	_, known := g.pending[reference]
	delete(g.pending, reference)
	g.mu.Unlock()
	if !known {
		return &GatewayResult{OK: false, Reference: reference, Status: "failed", Message: "unknown reference"}, nil
	}
	return &GatewayResult{OK: true, Reference: reference, Status: "completed"}, nil
}

func (g *SimulatedGateway) InitiateWithdrawal(ctx context.Context, amount float64, phoneNumber, reference string) (*GatewayResult, error) {
	return &GatewayResult{OK: true, Reference: reference, ProviderID: "SIM-" + reference, Status: "processing"}, nil
}
