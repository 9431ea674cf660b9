package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"randhub/native/vrfhub"
)

// HTTP forwards requests to an external randomness service. The service
// answers with a request id and later posts the words to the hub's provider
// callback route.
type HTTP struct {
	endpoint    string
	apiKey      string
	callbackURL string
	words       int
	client      *http.Client
}

type httpRequest struct {
	NumWords    int    `json:"numWords"`
	CallbackURL string `json:"callbackUrl"`
}

type httpResponse struct {
	RequestID string `json:"requestId"`
}

// NewHTTP constructs an HTTP provider.
func NewHTTP(endpoint, apiKey, callbackURL string, words int, client *http.Client) (*HTTP, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("provider: http endpoint required")
	}
	if words <= 0 {
		words = 1
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTP{endpoint: endpoint, apiKey: apiKey, callbackURL: callbackURL, words: words, client: client}, nil
}

// Request implements vrfhub.Provider.
func (p *HTTP) Request(ctx context.Context) (vrfhub.RequestID, error) {
	body, err := json.Marshal(httpRequest{NumWords: p.words, CallbackURL: p.callbackURL})
	if err != nil {
		return vrfhub.RequestID{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/requests", bytes.NewReader(body))
	if err != nil {
		return vrfhub.RequestID{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return vrfhub.RequestID{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return vrfhub.RequestID{}, fmt.Errorf("provider: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out httpResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return vrfhub.RequestID{}, fmt.Errorf("provider: decode response: %w", err)
	}
	raw := strings.TrimSpace(out.RequestID)
	if !strings.HasPrefix(raw, "0x") || len(raw) != 66 {
		return vrfhub.RequestID{}, fmt.Errorf("provider: malformed request id %q", out.RequestID)
	}
	return common.HexToHash(raw), nil
}
