package config

// Registry seeds the factory record on first start. Changes after bootstrap
// go through the owner operations, not through this file.
type Registry struct {
	Owner          string `toml:"Owner"`
	FeeRecipient   string `toml:"FeeRecipient"`
	Arbiter        string `toml:"Arbiter"`
	ShippingOracle string `toml:"ShippingOracle,omitempty"`
	MinOrderAmount string `toml:"MinOrderAmount"`
	PremiumBps     uint32 `toml:"PremiumBps"`
	FeeBps         uint32 `toml:"FeeBps"`
}

// Allocation credits an account once, when the ledger is first created.
type Allocation struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

// Ledger configures the hosting ledger.
type Ledger struct {
	// DefaultTxCost is charged when a call does not declare its own cost.
	DefaultTxCost string `toml:"DefaultTxCost"`
	// MaxTxCost bounds a declared cost. Empty leaves declared costs unbounded.
	MaxTxCost string       `toml:"MaxTxCost,omitempty"`
	Genesis   []Allocation `toml:"Genesis"`
}

// RPC configures the HTTP surface.
type RPC struct {
	JWTSecret        string  `toml:"JWTSecret,omitempty"`
	JWTSecretEnv     string  `toml:"JWTSecretEnv,omitempty"`
	JWTIssuer        string  `toml:"JWTIssuer"`
	RateLimitPerSec  float64 `toml:"RateLimitPerSec"`
	RateLimitBurst   int     `toml:"RateLimitBurst"`
	ReadTimeoutSecs  int     `toml:"ReadTimeoutSecs"`
	WriteTimeoutSecs int     `toml:"WriteTimeoutSecs"`
	// AllowedOrigins are Origin host patterns admitted to the event stream
	// besides the node's own host.
	AllowedOrigins []string `toml:"AllowedOrigins,omitempty"`
}

// Indexer selects the event indexer database.
type Indexer struct {
	Enabled bool   `toml:"Enabled"`
	Driver  string `toml:"Driver"`
	DSN     string `toml:"DSN"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint,omitempty"`
	Insecure bool   `toml:"Insecure"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
	Headers  string `toml:"Headers,omitempty"`
	// SampleRatio of root spans to keep; 0 keeps all.
	SampleRatio float64 `toml:"SampleRatio,omitempty"`
}

// Logging configures the structured logger and optional file rotation.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File,omitempty"`
	MaxSizeMB  int    `toml:"MaxSizeMB,omitempty"`
	MaxBackups int    `toml:"MaxBackups,omitempty"`
	MaxAgeDays int    `toml:"MaxAgeDays,omitempty"`
}
