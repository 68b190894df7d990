package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/validly/dispatchd/internal/core/config"
	"github.com/validly/dispatchd/internal/core/domain"
	"github.com/validly/dispatchd/internal/infra/identity"
)

// HTTPAdapter talks to a validation provider over HTTP. Each attempt
// posts the work item payload with the rotated fingerprint and routes
// through the identity's proxy.
type HTTPAdapter struct {
	name     string
	endpoint string
	timeout  time.Duration

	mu      sync.Mutex
	clients map[string]*http.Client // keyed by proxy URL
}

// NewHTTPAdapter creates an adapter for one configured provider.
func NewHTTPAdapter(cfg config.ProviderConfig) *HTTPAdapter {
	return &HTTPAdapter{
		name:     cfg.Name,
		endpoint: cfg.URL,
		timeout:  cfg.Timeout.Std(),
		clients:  make(map[string]*http.Client),
	}
}

// Name implements Adapter.
func (a *HTTPAdapter) Name() string {
	return a.name
}

// client returns a cached HTTP client routed through the given proxy.
func (a *HTTPAdapter) client(proxy string) (*http.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if c, ok := a.clients[proxy]; ok {
		return c, nil
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	c := &http.Client{Timeout: a.timeout, Transport: transport}
	a.clients[proxy] = c
	return c, nil
}

// request is the JSON body posted to the provider.
type request struct {
	Payload     string `json:"payload"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// response mirrors the provider's raw answer.
type response struct {
	Code           string `json:"code"`
	SecondaryCheck string `json:"secondary_check"`
	Message        string `json:"message"`
	NetworkStatus  string `json:"network_status"`
	StopBatch      bool   `json:"stop_batch"`
}

// Process implements Adapter.
func (a *HTTPAdapter) Process(ctx context.Context, item domain.WorkItem, ident identity.Identity) (domain.RawOutcome, error) {
	if strings.TrimSpace(item.Payload) == "" {
		return domain.RawOutcome{}, ErrInvalidInput
	}

	client, err := a.client(ident.Proxy)
	if err != nil {
		return domain.RawOutcome{}, err
	}

	body, err := json.Marshal(request{Payload: item.Payload, Fingerprint: ident.Fingerprint})
	if err != nil {
		return domain.RawOutcome{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.RawOutcome{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return domain.RawOutcome{}, fmt.Errorf("provider call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.RawOutcome{}, fmt.Errorf("provider rate limited (429), retry after: %s", resp.Header.Get("Retry-After"))
	}
	if resp.StatusCode == http.StatusForbidden {
		return domain.RawOutcome{}, fmt.Errorf("provider blocked this client (403)")
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.RawOutcome{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.RawOutcome{}, fmt.Errorf("http %d: %s", resp.StatusCode, string(raw))
	}

	var parsed response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return domain.RawOutcome{}, fmt.Errorf("parse response: %w", err)
	}

	return domain.RawOutcome{
		Code:           parsed.Code,
		SecondaryCheck: parsed.SecondaryCheck,
		Message:        parsed.Message,
		NetworkStatus:  parsed.NetworkStatus,
		StopBatch:      parsed.StopBatch,
	}, nil
}
