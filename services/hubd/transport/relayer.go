package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"golang.org/x/time/rate"

	"randhub/native/vrfhub"
)

// Relayer talks to an external messaging relayer over HTTP JSON. Outbound
// calls share a token bucket so a burst of fulfillments cannot flood it.
type Relayer struct {
	endpoint string
	token    string
	client   *http.Client
	limiter  *rate.Limiter
}

// RelayerConfig configures a Relayer.
type RelayerConfig struct {
	Endpoint string
	Token    string
	RPS      float64
	Burst    int
	Timeout  time.Duration
}

type quoteRequest struct {
	Dest      uint32        `json:"dstEid"`
	Payload   hexutil.Bytes `json:"payload"`
	GasBudget uint64        `json:"gasBudget"`
}

type quoteResponse struct {
	Fee string `json:"fee"`
}

type sendRequest struct {
	Dest     uint32         `json:"dstEid"`
	Payload  hexutil.Bytes  `json:"payload"`
	Fee      string         `json:"fee"`
	RefundTo common.Address `json:"refundTo"`
}

type sendResponse struct {
	MessageID common.Hash `json:"messageId"`
	Fee       string      `json:"fee"`
}

type relayerError struct {
	Status int
	Body   string
}

func (e *relayerError) Error() string {
	return "relayer: status " + strconv.Itoa(e.Status) + ": " + e.Body
}

// NewRelayer constructs a relayer transport.
func NewRelayer(cfg RelayerConfig) (*Relayer, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("transport: relayer endpoint required")
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Relayer{
		endpoint: endpoint,
		token:    cfg.Token,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
	}, nil
}

// QuoteFee implements vrfhub.Transport.
func (r *Relayer) QuoteFee(ctx context.Context, dest vrfhub.ChainID, payload []byte, gasBudget uint64) (*uint256.Int, error) {
	var out quoteResponse
	if err := r.call(ctx, "/quote", quoteRequest{Dest: uint32(dest), Payload: payload, GasBudget: gasBudget}, &out); err != nil {
		return nil, err
	}
	fee, err := uint256.FromDecimal(strings.TrimSpace(out.Fee))
	if err != nil {
		return nil, fmt.Errorf("transport: relayer fee %q: %w", out.Fee, err)
	}
	return fee, nil
}

// Send implements vrfhub.Transport.
func (r *Relayer) Send(ctx context.Context, dest vrfhub.ChainID, payload []byte, fee *uint256.Int, refundTo common.Address) (vrfhub.Receipt, error) {
	if fee == nil {
		return vrfhub.Receipt{}, errors.New("transport: fee required")
	}
	var out sendResponse
	if err := r.call(ctx, "/send", sendRequest{Dest: uint32(dest), Payload: payload, Fee: fee.Dec(), RefundTo: refundTo}, &out); err != nil {
		return vrfhub.Receipt{}, err
	}
	receipt := vrfhub.Receipt{MessageID: out.MessageID, Fee: fee.Clone()}
	if strings.TrimSpace(out.Fee) != "" {
		if charged, err := uint256.FromDecimal(out.Fee); err == nil {
			receipt.Fee = charged
		}
	}
	return receipt, nil
}

func (r *Relayer) call(ctx context.Context, path string, in, out interface{}) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("transport: rate limit: %w", err)
	}
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &relayerError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}
