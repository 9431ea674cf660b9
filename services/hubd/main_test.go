package hubd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"randhub/native/vrfhub"
	"randhub/services/hubd/journal"
	"randhub/storage"
)

func testConfig() Config {
	cfg := Config{
		ListenAddress: "127.0.0.1:0",
		Hub: HubConfig{
			Address:        "0x9999999999999999999999999999999999999999",
			InitialFunding: "10000",
		},
		Storage:   StorageConfig{Driver: "memory"},
		Journal:   JournalConfig{Driver: "sqlite", DSN: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())},
		Provider:  ProviderConfig{Type: "beacon", Seed: "test-seed", Delay: Duration{time.Millisecond}},
		Transport: TransportConfig{Type: "loopback", BaseFee: "100"},
		Sources:   []SourceConfig{{Name: "fixed", Type: "static", Price: "1500"}},
		Chains:    []ChainConfig{{ID: 30101, Name: "ethereum", Peer: "0xaa01"}},
		Auth:      AuthConfig{AdminToken: "admin", RelayerToken: "relay"},
	}
	applyDefaults(&cfg)
	return cfg
}

func TestBuildWiresEndToEnd(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, validate(cfg))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := build(cfg, logger)
	require.NoError(t, err)
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.beacon.Run(ctx) }()

	require.True(t, a.hub.RefreshLocalPrice(ctx))
	local, ok, err := a.hub.LocalPrice()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1500), local.Price.Int64())

	ts := httptest.NewServer(a.server.Handler())
	defer ts.Close()

	payload, err := vrfhub.EncodeRequest(vrfhub.InboundRequest{Sequence: 1})
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"originChain": 30101,
		"originPeer":  common.HexToHash("0xaa01").Hex(),
		"payload":     hexutil.Encode(payload),
	})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/inbound", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer relay")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var admitted struct {
		RequestID common.Hash `json:"requestId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&admitted))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		r, err := a.hub.Request(admitted.RequestID)
		return err == nil && r.ResponseSent()
	}, 5*time.Second, 10*time.Millisecond)

	entries, err := a.journal.Recent(ctx, journal.Query{RequestID: admitted.RequestID.Hex()})
	require.NoError(t, err)
	types := make([]string, 0, len(entries))
	for _, e := range entries {
		types = append(types, e.Type)
	}
	require.Contains(t, types, vrfhub.EventTypeRequested)
	require.Contains(t, types, vrfhub.EventTypeFulfilled)
	require.Contains(t, types, vrfhub.EventTypeResponseSent)

	a.publishGauges()
}

func TestSeedFundsOnlyEmptyBalance(t *testing.T) {
	cfg := testConfig()
	cfg.Journal.DSN = ""
	cfg.Sources = nil
	a, err := build(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer a.close()

	solvency, err := a.hub.Solvency()
	require.NoError(t, err)
	require.Equal(t, uint64(10_000), solvency.Balance.Uint64())

	require.NoError(t, a.seed())
	solvency, err = a.hub.Solvency()
	require.NoError(t, err)
	require.Equal(t, uint64(10_000), solvency.Balance.Uint64())
	require.Nil(t, a.oracle)
	require.Nil(t, a.journal)
	require.True(t, a.hub.IsSupported(30101))
}

func TestBuildTransportRejectsBadFees(t *testing.T) {
	_, err := buildTransport(TransportConfig{Type: "loopback", BaseFee: "-1"})
	require.Error(t, err)
	_, err = buildTransport(TransportConfig{Type: "smoke-signal"})
	require.Error(t, err)
	tr, err := buildTransport(TransportConfig{Type: "relayer", Endpoint: "http://relayer.invalid"})
	require.NoError(t, err)
	require.NotNil(t, tr)
}

func TestRestartKeepsRuntimeRegistryChanges(t *testing.T) {
	cfg := testConfig()
	cfg.Journal.DSN = ""
	cfg.Sources = nil
	cfg.Storage = StorageConfig{Driver: storage.DriverBolt, Path: filepath.Join(t.TempDir(), "hub.bolt")}
	cfg.Callers = []CallerConfig{{Address: "0x1111111111111111111111111111111111111111"}}
	cfg.Auth.CallerSecret = "caller-secret"
	require.NoError(t, validate(cfg))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	caller := common.HexToAddress(cfg.Callers[0].Address)

	first, err := build(cfg, logger)
	require.NoError(t, err)
	seeded, err := first.hub.Seeded()
	require.NoError(t, err)
	require.True(t, seeded)
	require.True(t, first.hub.IsSupported(30101))
	require.NoError(t, first.hub.RevokeCaller(caller))
	require.NoError(t, first.hub.SetPeerEnabled(30101, false))
	first.close()

	second, err := build(cfg, logger)
	require.NoError(t, err)
	defer second.close()

	callers, err := second.hub.AuthorizedCallers()
	require.NoError(t, err)
	require.Empty(t, callers)
	require.False(t, second.hub.IsSupported(30101))
	chain, ok, err := second.hub.Chain(30101)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, chain.Enabled)
	solvency, err := second.hub.Solvency()
	require.NoError(t, err)
	require.Equal(t, uint64(10_000), solvency.Balance.Uint64())
}
