package config

import "time"

// Config represents the complete qiwigw configuration.
type Config struct {
	Service  ServiceConfig   `yaml:"service"`
	Wallet   WalletConfig    `yaml:"wallet"`
	P2P      P2PConfig       `yaml:"p2p"`
	Client   ClientConfig    `yaml:"client"`
	Webhooks WebhooksConfig  `yaml:"webhooks"`
	Delivery DeliveryConfig  `yaml:"delivery"`
	Polling  PollingConfig   `yaml:"polling"`
	Handlers []HandlerConfig `yaml:"handlers,omitempty"`

	// SourcePath is the absolute path of the loaded file (not from YAML).
	SourcePath string `yaml:"-"`
}

// ServiceConfig contains process-level settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// WalletConfig holds wallet API credentials.
type WalletConfig struct {
	Token       string `yaml:"token"`
	PhoneNumber string `yaml:"phone_number"`
	BaseURL     string `yaml:"base_url"`
}

// P2PConfig holds P2P bills API keys. SecretKey also signs bill webhooks.
type P2PConfig struct {
	SecretKey string `yaml:"secret_key"`
	PublicKey string `yaml:"public_key"`
	BaseURL   string `yaml:"base_url"`
}

// ClientConfig tunes outbound API calls.
type ClientConfig struct {
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	Timeout           time.Duration `yaml:"timeout"`
	PersistentSession *bool         `yaml:"persistent_session,omitempty"`
}

// Persistent reports whether the HTTP session is reused across calls.
func (c ClientConfig) Persistent() bool {
	return c.PersistentSession == nil || *c.PersistentSession
}

// WebhooksConfig configures the inbound webhook listener.
type WebhooksConfig struct {
	Listen          string `yaml:"listen"`
	TransactionPath string `yaml:"transaction_path"`
	BillPath        string `yaml:"bill_path"`

	// AllowedIPs lists CIDRs or addresses. Unset means QIWI's networks;
	// ["*"] allows any sender.
	AllowedIPs []string `yaml:"allowed_ips,omitempty"`

	TrustProxy     bool   `yaml:"trust_proxy"`
	MaxBodySize    string `yaml:"max_body_size,omitempty"`
	TransactionKey string `yaml:"transaction_key,omitempty"`
	MetricsToken   string `yaml:"metrics_token,omitempty"`
}

// DeliveryConfig selects the de-duplication store.
type DeliveryConfig struct {
	Backend   string        `yaml:"backend"`
	Retention time.Duration `yaml:"retention"`
	Path      string        `yaml:"path,omitempty"`
	Redis     RedisConfig   `yaml:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// PollingConfig schedules wallet history polling, which dispatches
// transactions whose webhook was lost.
type PollingConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Every            time.Duration `yaml:"every"`
	Jitter           time.Duration `yaml:"jitter,omitempty"`
	Lookback         time.Duration `yaml:"lookback"`
	Rows             int           `yaml:"rows"`
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetAfter       time.Duration `yaml:"reset_after"`
}

// HandlerConfig declares a webhook handler in configuration.
type HandlerConfig struct {
	Name   string `yaml:"name"`
	Event  string `yaml:"event"`  // transaction, bill or any
	Filter string `yaml:"filter"` // expr-lang boolean expression, optional
	Action string `yaml:"action"` // log
	Level  string `yaml:"level,omitempty"`
}

// ChecksumManifest is the .checksums file written by `config lock`.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Defaults returns a config with every default applied.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "qiwigw",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Wallet: WalletConfig{
			BaseURL: "https://edge.qiwi.com",
		},
		P2P: P2PConfig{
			BaseURL: "https://api.qiwi.com",
		},
		Client: ClientConfig{
			Timeout: 30 * time.Second,
		},
		Webhooks: WebhooksConfig{
			Listen:          "0.0.0.0:8080",
			TransactionPath: "/webhooks/qiwi/transactions/",
			BillPath:        "/webhooks/qiwi/bills/",
			MaxBodySize:     "1MB",
		},
		Delivery: DeliveryConfig{
			Backend:   "memory",
			Retention: 24 * time.Hour,
		},
		Polling: PollingConfig{
			Every:            time.Minute,
			Lookback:         time.Hour,
			Rows:             50,
			FailureThreshold: 3,
			ResetAfter:       5 * time.Minute,
		},
	}
}
