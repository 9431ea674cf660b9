package hubd

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const yamlConfig = `
listen: ":9000"
hub:
  address: "0x9999999999999999999999999999999999999999"
  staleness_window: 30m
storage:
  driver: memory
provider:
  type: beacon
  seed_env: HUBD_TEST_SEED
transport:
  type: loopback
  base_fee: "1000"
chains:
  - id: 30101
    name: ethereum
    peer: "0xaa01"
callers:
  - address: "0x1111111111111111111111111111111111111111"
auth:
  admin_token: admin
  relayer_token_file: %s
  caller_jwt_secret: caller-secret
`

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAMLResolvesSecretsAndDefaults(t *testing.T) {
	t.Setenv("HUBD_TEST_SEED", "beacon-seed")
	tokenPath := writeFile(t, "relayer.token", "relayer-token\n")
	path := writeFile(t, "hubd.yaml", fmt.Sprintf(yamlConfig, tokenPath))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, 30*time.Minute, cfg.Hub.StalenessWindow.Duration)
	require.Equal(t, uint64(500), cfg.Hub.FeeBufferBps)
	require.Equal(t, 10*time.Second, cfg.Hub.CallbackTimeout.Duration)
	require.Equal(t, "beacon-seed", cfg.Provider.Seed)
	require.Equal(t, "relayer-token", cfg.Auth.RelayerToken)
	require.Equal(t, 1, cfg.Provider.Words)
	require.Len(t, cfg.Chains, 1)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "hubd.toml", `
listen = ":9100"

[hub]
address = "0x9999999999999999999999999999999999999999"
callback_timeout = "3s"

[provider]
type = "beacon"
seed = "inline"

[auth]
admin_token = "admin"

[oracle]
interval = "45s"

[[sources]]
name = "fixed"
type = "static"
price = "1500"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9100", cfg.ListenAddress)
	require.Equal(t, 3*time.Second, cfg.Hub.CallbackTimeout.Duration)
	require.Equal(t, 45*time.Second, cfg.Oracle.Interval.Duration)
	require.Len(t, cfg.Sources, 1)
	require.Equal(t, "static", cfg.Sources[0].Type)
}

func TestValidateRejectsIncompleteConfigs(t *testing.T) {
	base := func() Config {
		cfg := Config{
			Hub:      HubConfig{Address: "0x9999999999999999999999999999999999999999"},
			Provider: ProviderConfig{Seed: "seed"},
			Auth:     AuthConfig{AdminToken: "admin", RelayerToken: "relay", CallerSecret: "caller"},
		}
		applyDefaults(&cfg)
		return cfg
	}
	require.NoError(t, validate(base()))

	cases := map[string]func(*Config){
		"hub address":      func(c *Config) { c.Hub.Address = "nope" },
		"admin token":      func(c *Config) { c.Auth.AdminToken = "" },
		"beacon seed":      func(c *Config) { c.Provider.Seed = "" },
		"provider type":    func(c *Config) { c.Provider.Type = "magic" },
		"http provider":    func(c *Config) { c.Provider.Type = "http" },
		"transport type":   func(c *Config) { c.Transport.Type = "carrier-pigeon" },
		"relayer endpoint": func(c *Config) { c.Transport.Type = "relayer" },
		"zero chain":       func(c *Config) { c.Chains = []ChainConfig{{ID: 0, Peer: "0x01"}} },
		"bad peer":         func(c *Config) { c.Chains = []ChainConfig{{ID: 1, Peer: "0xzz"}} },
		"duplicate chain": func(c *Config) {
			c.Chains = []ChainConfig{{ID: 1, Peer: "0x01"}, {ID: 1, Peer: "0x02"}}
		},
		"bad caller": func(c *Config) { c.Callers = []CallerConfig{{Address: "0x12"}} },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestResolveSecretEnvMustBeSet(t *testing.T) {
	_, err := resolveSecret("auth.admin_token", "", "", "HUBD_TEST_UNSET_VARIABLE")
	require.Error(t, err)
	_, err = resolveSecret("auth.admin_token", "", filepath.Join(t.TempDir(), "missing"), "")
	require.Error(t, err)
	value, err := resolveSecret("auth.admin_token", "  inline ", "", "")
	require.NoError(t, err)
	require.Equal(t, "inline", value)
}
