package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// Registry constructs price sources based on configuration.
type Registry struct {
	HTTPClient *http.Client
}

// NewRegistry builds a registry with sane defaults.
func NewRegistry() *Registry {
	return &Registry{HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

// Build creates a source from the supplied configuration. Static sources read
// their fixed price from price; http sources poll endpoint.
func (r *Registry) Build(name, typ, endpoint, apiKey, price string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "static":
		value, ok := new(big.Int).SetString(strings.TrimSpace(price), 10)
		if !ok || value.Sign() <= 0 {
			return nil, fmt.Errorf("static source %q requires a positive integer price", name)
		}
		return NewStatic(label(name, "static"), value), nil
	case "http":
		if strings.TrimSpace(endpoint) == "" {
			return nil, fmt.Errorf("http source %q requires an endpoint", name)
		}
		return &httpSource{name: label(name, "http"), client: r.client(), endpoint: endpoint, apiKey: apiKey}, nil
	default:
		return nil, fmt.Errorf("unknown price source type %q", typ)
	}
}

func (r *Registry) client() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

type staticSource struct {
	name  string
	price *big.Int
}

// NewStatic returns a source that always reports price at the current time.
func NewStatic(name string, price *big.Int) Source {
	return &staticSource{name: name, price: new(big.Int).Set(price)}
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Fetch(context.Context) (Quote, error) {
	return Quote{Price: new(big.Int).Set(s.price), Timestamp: time.Now()}, nil
}

// httpSource polls a JSON endpoint returning {"price": "<int>", "timestamp": <unix>}.
type httpSource struct {
	name     string
	client   *http.Client
	endpoint string
	apiKey   string
}

type priceResponse struct {
	Price     json.Number `json:"price"`
	Timestamp int64       `json:"timestamp"`
}

func (s *httpSource) Name() string { return s.name }

func (s *httpSource) Fetch(ctx context.Context) (Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("price endpoint status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload priceResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("decode price: %w", err)
	}
	price, ok := new(big.Int).SetString(payload.Price.String(), 10)
	if !ok {
		return Quote{}, fmt.Errorf("price %q is not an integer", payload.Price.String())
	}
	quote := Quote{Price: price}
	if payload.Timestamp > 0 {
		quote.Timestamp = time.Unix(payload.Timestamp, 0).UTC()
	}
	return quote, nil
}

func label(name, fallback string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return fallback
}
