package hubd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML and TOML files can use strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for hubd.
type Config struct {
	ListenAddress string          `yaml:"listen" toml:"listen"`
	Hub           HubConfig       `yaml:"hub" toml:"hub"`
	Storage       StorageConfig   `yaml:"storage" toml:"storage"`
	Journal       JournalConfig   `yaml:"journal" toml:"journal"`
	Provider      ProviderConfig  `yaml:"provider" toml:"provider"`
	Transport     TransportConfig `yaml:"transport" toml:"transport"`
	Oracle        OracleConfig    `yaml:"oracle" toml:"oracle"`
	Sources       []SourceConfig  `yaml:"sources" toml:"sources"`
	Chains        []ChainConfig   `yaml:"chains" toml:"chains"`
	Callers       []CallerConfig  `yaml:"callers" toml:"callers"`
	Auth          AuthConfig      `yaml:"auth" toml:"auth"`
	Callbacks     CallbackConfig  `yaml:"callbacks" toml:"callbacks"`
	Alerts        AlertConfig     `yaml:"alerts" toml:"alerts"`
	Logging       LoggingConfig   `yaml:"logging" toml:"logging"`
}

// HubConfig tunes the engine.
type HubConfig struct {
	Address          string   `yaml:"address" toml:"address"`
	StalenessWindow  Duration `yaml:"staleness_window" toml:"staleness_window"`
	FeeBufferBps     uint64   `yaml:"fee_buffer_bps" toml:"fee_buffer_bps"`
	DefaultGasBudget uint64   `yaml:"default_gas_budget" toml:"default_gas_budget"`
	CallbackTimeout  Duration `yaml:"callback_timeout" toml:"callback_timeout"`
	MinBalance       string   `yaml:"min_balance" toml:"min_balance"`
	InitialFunding   string   `yaml:"initial_funding" toml:"initial_funding"`
	MetricsInterval  Duration `yaml:"metrics_interval" toml:"metrics_interval"`
}

// StorageConfig selects the KV backend.
type StorageConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
}

// JournalConfig selects the SQL event journal. An empty DSN disables it.
type JournalConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// ProviderConfig selects the randomness provider adapter.
type ProviderConfig struct {
	Type        string   `yaml:"type" toml:"type"`
	Seed        string   `yaml:"seed" toml:"seed"`
	SeedFile    string   `yaml:"seed_file" toml:"seed_file"`
	SeedEnv     string   `yaml:"seed_env" toml:"seed_env"`
	Delay       Duration `yaml:"delay" toml:"delay"`
	Words       int      `yaml:"words" toml:"words"`
	QueueSize   int      `yaml:"queue_size" toml:"queue_size"`
	Endpoint    string   `yaml:"endpoint" toml:"endpoint"`
	APIKey      string   `yaml:"api_key" toml:"api_key"`
	CallbackURL string   `yaml:"callback_url" toml:"callback_url"`
}

// TransportConfig selects the cross-chain messaging adapter.
type TransportConfig struct {
	Type      string   `yaml:"type" toml:"type"`
	Endpoint  string   `yaml:"endpoint" toml:"endpoint"`
	Token     string   `yaml:"token" toml:"token"`
	TokenFile string   `yaml:"token_file" toml:"token_file"`
	TokenEnv  string   `yaml:"token_env" toml:"token_env"`
	RPS       float64  `yaml:"rps" toml:"rps"`
	Burst     int      `yaml:"burst" toml:"burst"`
	Timeout   Duration `yaml:"timeout" toml:"timeout"`
	BaseFee   string   `yaml:"base_fee" toml:"base_fee"`
	PerByte   string   `yaml:"per_byte_fee" toml:"per_byte_fee"`
	GasPrice  string   `yaml:"gas_price" toml:"gas_price"`
}

// OracleConfig tunes the local price refresh loop.
type OracleConfig struct {
	Interval Duration `yaml:"interval" toml:"interval"`
	MaxAge   Duration `yaml:"max_age" toml:"max_age"`
	MinFeeds int      `yaml:"min_feeds" toml:"min_feeds"`
}

// SourceConfig describes an upstream price feed.
type SourceConfig struct {
	Name     string `yaml:"name" toml:"name"`
	Type     string `yaml:"type" toml:"type"`
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	APIKey   string `yaml:"api_key" toml:"api_key"`
	Price    string `yaml:"price" toml:"price"`
}

// ChainConfig seeds a supported remote chain.
type ChainConfig struct {
	ID        uint32 `yaml:"id" toml:"id"`
	Name      string `yaml:"name" toml:"name"`
	Peer      string `yaml:"peer" toml:"peer"`
	GasBudget uint64 `yaml:"gas_budget" toml:"gas_budget"`
	Disabled  bool   `yaml:"disabled" toml:"disabled"`
}

// CallerConfig seeds an authorized local caller.
type CallerConfig struct {
	Address     string `yaml:"address" toml:"address"`
	CallbackURL string `yaml:"callback_url" toml:"callback_url"`
}

// AuthConfig carries the API credentials. Every secret may be given inline or
// through a *_file or *_env indirection.
type AuthConfig struct {
	AdminToken         string  `yaml:"admin_token" toml:"admin_token"`
	AdminTokenFile     string  `yaml:"admin_token_file" toml:"admin_token_file"`
	AdminTokenEnv      string  `yaml:"admin_token_env" toml:"admin_token_env"`
	RelayerToken       string  `yaml:"relayer_token" toml:"relayer_token"`
	RelayerTokenFile   string  `yaml:"relayer_token_file" toml:"relayer_token_file"`
	RelayerTokenEnv    string  `yaml:"relayer_token_env" toml:"relayer_token_env"`
	ProviderSecret     string  `yaml:"provider_jwt_secret" toml:"provider_jwt_secret"`
	ProviderSecretFile string  `yaml:"provider_jwt_secret_file" toml:"provider_jwt_secret_file"`
	ProviderSecretEnv  string  `yaml:"provider_jwt_secret_env" toml:"provider_jwt_secret_env"`
	CallerSecret       string  `yaml:"caller_jwt_secret" toml:"caller_jwt_secret"`
	CallerSecretFile   string  `yaml:"caller_jwt_secret_file" toml:"caller_jwt_secret_file"`
	CallerSecretEnv    string  `yaml:"caller_jwt_secret_env" toml:"caller_jwt_secret_env"`
	Issuer             string  `yaml:"issuer" toml:"issuer"`
	RequestsPerMinute  float64 `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst              int     `yaml:"burst" toml:"burst"`
}

// CallbackConfig configures local callback webhooks.
type CallbackConfig struct {
	Secret     string   `yaml:"secret" toml:"secret"`
	SecretFile string   `yaml:"secret_file" toml:"secret_file"`
	SecretEnv  string   `yaml:"secret_env" toml:"secret_env"`
	Attempts   int      `yaml:"attempts" toml:"attempts"`
	Backoff    Duration `yaml:"backoff" toml:"backoff"`
}

// AlertConfig configures the operator alert webhook. An empty endpoint
// disables it.
type AlertConfig struct {
	Endpoint   string   `yaml:"endpoint" toml:"endpoint"`
	Secret     string   `yaml:"secret" toml:"secret"`
	SecretFile string   `yaml:"secret_file" toml:"secret_file"`
	SecretEnv  string   `yaml:"secret_env" toml:"secret_env"`
	Events     []string `yaml:"events" toml:"events"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// Load reads configuration from the supplied path. Files ending in .toml are
// decoded as TOML, everything else as YAML.
func Load(path string) (Config, error) {
	cfg := Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	} else {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := cfg.resolveSecrets(); err != nil {
		return cfg, err
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.Hub.StalenessWindow.Duration == 0 {
		cfg.Hub.StalenessWindow.Duration = 2 * time.Hour
	}
	if cfg.Hub.FeeBufferBps == 0 {
		cfg.Hub.FeeBufferBps = 500
	}
	if cfg.Hub.DefaultGasBudget == 0 {
		cfg.Hub.DefaultGasBudget = 200_000
	}
	if cfg.Hub.CallbackTimeout.Duration == 0 {
		cfg.Hub.CallbackTimeout.Duration = 10 * time.Second
	}
	if cfg.Hub.MetricsInterval.Duration == 0 {
		cfg.Hub.MetricsInterval.Duration = 15 * time.Second
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "leveldb"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "/var/data/hubd"
	}
	if cfg.Journal.Driver == "" {
		cfg.Journal.Driver = "sqlite"
	}
	if cfg.Provider.Type == "" {
		cfg.Provider.Type = "beacon"
	}
	if cfg.Provider.Delay.Duration == 0 {
		cfg.Provider.Delay.Duration = 2 * time.Second
	}
	if cfg.Provider.Words <= 0 {
		cfg.Provider.Words = 1
	}
	if cfg.Transport.Type == "" {
		cfg.Transport.Type = "loopback"
	}
	if cfg.Transport.Timeout.Duration == 0 {
		cfg.Transport.Timeout.Duration = 10 * time.Second
	}
	if cfg.Oracle.Interval.Duration == 0 {
		cfg.Oracle.Interval.Duration = time.Minute
	}
	if cfg.Oracle.MaxAge.Duration == 0 {
		cfg.Oracle.MaxAge.Duration = 5 * time.Minute
	}
	if cfg.Oracle.MinFeeds <= 0 {
		cfg.Oracle.MinFeeds = 1
	}
	if cfg.Auth.RequestsPerMinute <= 0 {
		cfg.Auth.RequestsPerMinute = 600
	}
	if cfg.Auth.Burst <= 0 {
		cfg.Auth.Burst = 60
	}
	if cfg.Callbacks.Attempts <= 0 {
		cfg.Callbacks.Attempts = 3
	}
	if cfg.Callbacks.Backoff.Duration == 0 {
		cfg.Callbacks.Backoff.Duration = 250 * time.Millisecond
	}
}

func (cfg *Config) resolveSecrets() error {
	secrets := []struct {
		name      string
		value     *string
		file, env string
	}{
		{name: "auth.admin_token", value: &cfg.Auth.AdminToken, file: cfg.Auth.AdminTokenFile, env: cfg.Auth.AdminTokenEnv},
		{name: "auth.relayer_token", value: &cfg.Auth.RelayerToken, file: cfg.Auth.RelayerTokenFile, env: cfg.Auth.RelayerTokenEnv},
		{name: "auth.provider_jwt_secret", value: &cfg.Auth.ProviderSecret, file: cfg.Auth.ProviderSecretFile, env: cfg.Auth.ProviderSecretEnv},
		{name: "auth.caller_jwt_secret", value: &cfg.Auth.CallerSecret, file: cfg.Auth.CallerSecretFile, env: cfg.Auth.CallerSecretEnv},
		{name: "callbacks.secret", value: &cfg.Callbacks.Secret, file: cfg.Callbacks.SecretFile, env: cfg.Callbacks.SecretEnv},
		{name: "alerts.secret", value: &cfg.Alerts.Secret, file: cfg.Alerts.SecretFile, env: cfg.Alerts.SecretEnv},
		{name: "transport.token", value: &cfg.Transport.Token, file: cfg.Transport.TokenFile, env: cfg.Transport.TokenEnv},
		{name: "provider.seed", value: &cfg.Provider.Seed, file: cfg.Provider.SeedFile, env: cfg.Provider.SeedEnv},
	}
	for _, s := range secrets {
		resolved, err := resolveSecret(s.name, *s.value, s.file, s.env)
		if err != nil {
			return err
		}
		*s.value = resolved
	}
	return nil
}

// resolveSecret prefers the inline value, then the environment variable, then
// the file contents.
func resolveSecret(name, value, file, env string) (string, error) {
	if value = strings.TrimSpace(value); value != "" {
		return value, nil
	}
	if env = strings.TrimSpace(env); env != "" {
		resolved := strings.TrimSpace(os.Getenv(env))
		if resolved == "" {
			return "", fmt.Errorf("%s_env %s is empty", name, env)
		}
		return resolved, nil
	}
	if file = strings.TrimSpace(file); file != "" {
		contents, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s_file: %w", name, err)
		}
		return strings.TrimSpace(string(contents)), nil
	}
	return "", nil
}

func validate(cfg Config) error {
	if !common.IsHexAddress(strings.TrimSpace(cfg.Hub.Address)) {
		return fmt.Errorf("hub.address must be a hex address")
	}
	if cfg.Auth.AdminToken == "" {
		return fmt.Errorf("auth.admin_token must be configured")
	}
	switch strings.ToLower(cfg.Provider.Type) {
	case "beacon":
		if cfg.Provider.Seed == "" {
			return fmt.Errorf("provider.seed is required for the beacon provider")
		}
	case "http":
		if strings.TrimSpace(cfg.Provider.Endpoint) == "" {
			return fmt.Errorf("provider.endpoint is required for the http provider")
		}
		if cfg.Auth.ProviderSecret == "" {
			return fmt.Errorf("auth.provider_jwt_secret is required for the http provider")
		}
	default:
		return fmt.Errorf("unsupported provider type %q", cfg.Provider.Type)
	}
	switch strings.ToLower(cfg.Transport.Type) {
	case "loopback":
	case "relayer":
		if strings.TrimSpace(cfg.Transport.Endpoint) == "" {
			return fmt.Errorf("transport.endpoint is required for the relayer transport")
		}
	default:
		return fmt.Errorf("unsupported transport type %q", cfg.Transport.Type)
	}
	seen := make(map[uint32]struct{}, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		if chain.ID == 0 {
			return fmt.Errorf("chain id must be non-zero")
		}
		if _, dup := seen[chain.ID]; dup {
			return fmt.Errorf("chain %d configured twice", chain.ID)
		}
		seen[chain.ID] = struct{}{}
		if !isHexHash(chain.Peer) {
			return fmt.Errorf("chain %d: peer must be a 32-byte hex value", chain.ID)
		}
	}
	if len(cfg.Chains) > 0 && cfg.Auth.RelayerToken == "" {
		return fmt.Errorf("auth.relayer_token is required when chains are configured")
	}
	for _, caller := range cfg.Callers {
		if !common.IsHexAddress(strings.TrimSpace(caller.Address)) {
			return fmt.Errorf("caller %q is not a hex address", caller.Address)
		}
	}
	if len(cfg.Callers) > 0 && cfg.Auth.CallerSecret == "" {
		return fmt.Errorf("auth.caller_jwt_secret is required when callers are configured")
	}
	return nil
}

func isHexHash(raw string) bool {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if len(raw) == 0 || len(raw) > 64 {
		return false
	}
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
