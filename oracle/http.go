package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rustyeddy/tradesim/ledger"
	"github.com/shopspring/decimal"
)

const DefaultHTTPTimeout = 30 * time.Second

// HTTP posts the decision context as JSON to an external service and reads
// a decision back:
//
//	{"action": "BUY", "quantity": "1.5", "confidence": 0.7, "reasoning": "..."}
type HTTP struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewHTTP creates a client for url. token, when set, is sent as a bearer
// token.
func NewHTTP(url, token string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTP{
		url:   url,
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type httpDecision struct {
	Action     string          `json:"action"`
	Quantity   decimal.Decimal `json:"quantity"`
	Confidence float64         `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
}

func (h *HTTP) Decide(ctx context.Context, in Context) (*Decision, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("oracle error (status %d): %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var raw httpDecision
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrInvalidDecision, err)
	}

	act, err := ledger.ParseAction(raw.Action)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}
	d := &Decision{
		Action:     act,
		Quantity:   raw.Quantity,
		Confidence: raw.Confidence,
		Reasoning:  raw.Reasoning,
	}
	if err := Validate(d); err != nil {
		return nil, err
	}
	return d, nil
}
