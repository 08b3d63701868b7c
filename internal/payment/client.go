package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// apiClient is the shared HTTP plumbing for both provider
// integrations: JSON in, JSON out, Basic auth, and bounded retries
// with backoff on transport failures and 5xx responses.  Provider
// declines (4xx) are never retried.
type apiClient struct {
	baseURL    string
	authHeader string
	hc         *http.Client
	maxRetries int
}

func newAPIClient(baseURL, secretKey string, timeout time.Duration, maxRetries int) *apiClient {
	return &apiClient{
		baseURL:    baseURL,
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(secretKey+":")),
		hc:         &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}
}

// doJSON performs one provider call.  It returns the HTTP status and
// the raw response body; the caller decodes and maps provider codes.
// Transport errors and 5xx responses are retried up to maxRetries
// with doubling backoff; a retry budget exhausted on timeouts maps to
// ErrProviderTimeout.
func (c *apiClient) doJSON(ctx context.Context, method, path string, payload interface{}) (int, []byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
	}
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Authorization", c.authHeader)
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.hc.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("provider returned %d: %s", resp.StatusCode, raw)
			continue
		}
		return resp.StatusCode, raw, nil
	}
	if isTimeout(lastErr) {
		return 0, nil, fmt.Errorf("%w: %v", ErrProviderTimeout, lastErr)
	}
	return 0, nil, fmt.Errorf("provider unreachable after %d attempts: %w", c.maxRetries+1, lastErr)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// providerFailure decodes the provider's error envelope and wraps it
// with the mapped sentinel.  Unknown shapes fall back to the raw body
// as the message – provider payloads are never trusted to be fully
// typed.
func providerFailure(status int, raw []byte, sentinel error) error {
	var env struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || env.Code == "" {
		env.Code = "UNKNOWN"
		env.Message = string(raw)
	}
	return &ProviderError{Code: env.Code, Message: env.Message, Status: status, Err: sentinel}
}
