package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient is a Gateway backed by a JSON HTTP payment provider.
type HTTPClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewHTTPClient creates a client with sane defaults.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *HTTPClient) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	var resp Result
	err := c.do(ctx, http.MethodPost, "v1/charges", req.Reference, req, &resp)
	return normalize(resp, req.Reference), err
}

func (c *HTTPClient) ConfirmCharge(ctx context.Context, reference string) (Result, error) {
	var resp Result
	endpoint := fmt.Sprintf("v1/charges/%s/confirm", url.PathEscape(reference))
	err := c.do(ctx, http.MethodPost, endpoint, reference+":confirm", nil, &resp)
	return normalize(resp, reference), err
}

func (c *HTTPClient) Transfer(ctx context.Context, req TransferRequest) (Result, error) {
	var resp Result
	err := c.do(ctx, http.MethodPost, "v1/transfers", req.Reference, req, &resp)
	return normalize(resp, req.Reference), err
}

func normalize(r Result, reference string) Result {
	if r.Reference == "" {
		r.Reference = reference
	}
	switch r.Status {
	case StatusSucceeded, StatusPending, StatusFailed:
	default:
		r.Status = StatusFailed
	}
	return r
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint, idempotencyKey string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return Transient(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return Transient(apiErr)
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
