package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"filamint/crypto"

	"github.com/BurntSushi/toml"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

type Config struct {
	Environment string `toml:"Environment"`
	DataDir     string `toml:"DataDir"`
	RPCAddress  string `toml:"RPCAddress"`

	Registry  Registry  `toml:"Registry"`
	Ledger    Ledger    `toml:"Ledger"`
	RPC       RPC       `toml:"RPC"`
	Indexer   Indexer   `toml:"Indexer"`
	Telemetry Telemetry `toml:"Telemetry"`
	Logging   Logging   `toml:"Logging"`
}

// Load loads the configuration from the given path, writing a development
// default when the file does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
	}

	cfg.applyDefaults(meta)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills unset keys. Registry basis points are only defaulted
// when the key is absent so an explicit zero survives.
func (c *Config) applyDefaults(meta toml.MetaData) {
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "dev"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./filamint-data"
	}
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8080"
	}
	if !meta.IsDefined("Registry", "PremiumBps") {
		c.Registry.PremiumBps = 250
	}
	if !meta.IsDefined("Registry", "FeeBps") {
		c.Registry.FeeBps = 50
	}
	if strings.TrimSpace(c.Registry.MinOrderAmount) == "" {
		c.Registry.MinOrderAmount = "0"
	}
	if strings.TrimSpace(c.Ledger.DefaultTxCost) == "" {
		c.Ledger.DefaultTxCost = "0"
	}
	if strings.TrimSpace(c.RPC.JWTIssuer) == "" {
		c.RPC.JWTIssuer = "filamint"
	}
	if c.RPC.ReadTimeoutSecs <= 0 {
		c.RPC.ReadTimeoutSecs = 15
	}
	if c.RPC.WriteTimeoutSecs <= 0 {
		c.RPC.WriteTimeoutSecs = 15
	}
	if strings.TrimSpace(c.Indexer.Driver) == "" {
		c.Indexer.Driver = "sqlite"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
}

// createDefault creates and saves a development configuration with freshly
// generated privileged identities and a random JWT secret.
func createDefault(path string) (*Config, error) {
	owner, err := generateIdentity()
	if err != nil {
		return nil, err
	}
	feeRecipient, err := generateIdentity()
	if err != nil {
		return nil, err
	}
	arbiter, err := generateIdentity()
	if err != nil {
		return nil, err
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate jwt secret: %w", err)
	}

	cfg := &Config{
		Environment: "dev",
		DataDir:     "./filamint-data",
		RPCAddress:  ":8080",
		Registry: Registry{
			Owner:          owner,
			FeeRecipient:   feeRecipient,
			Arbiter:        arbiter,
			MinOrderAmount: "0",
			PremiumBps:     250,
			FeeBps:         50,
		},
		Ledger: Ledger{
			DefaultTxCost: "0",
			MaxTxCost:     "1000000000000000",
			Genesis: []Allocation{
				{Address: owner, Balance: "1000000000000000000000"},
			},
		},
		RPC: RPC{
			JWTSecret:       hex.EncodeToString(secret),
			JWTIssuer:       "filamint",
			RateLimitPerSec: 20,
			RateLimitBurst:  40,
		},
		Indexer: Indexer{
			Enabled: true,
			Driver:  "sqlite",
			DSN:     filepath.Join("./filamint-data", "indexer.db"),
		},
		Logging: Logging{Level: "info"},
	}
	cfg.applyDefaults(toml.MetaData{})

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func generateIdentity() (string, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("generate identity: %w", err)
	}
	addr := ethcrypto.PubkeyToAddress(key.PublicKey)
	return crypto.Format(addr), nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
