package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/holiman/uint256"

	"filamint/crypto"
	"filamint/native/registry"
)

// Validate checks the decoded configuration. It rejects anything the node
// could only discover to be wrong after writing state.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("nil config")
	}
	if _, err := c.RegistryRecord(); err != nil {
		return err
	}
	defaultCost, err := c.DefaultTxCost()
	if err != nil {
		return err
	}
	maxCost, err := c.MaxTxCost()
	if err != nil {
		return err
	}
	if maxCost != nil && maxCost.Cmp(defaultCost) < 0 {
		return fmt.Errorf("ledger: max tx cost %s is below the default %s", maxCost, defaultCost)
	}
	if _, err := c.GenesisAllocations(); err != nil {
		return err
	}
	if c.RPC.RateLimitPerSec < 0 {
		return fmt.Errorf("rpc: rate limit must not be negative")
	}
	if c.RPC.RateLimitPerSec > 0 && c.RPC.RateLimitBurst <= 0 {
		return fmt.Errorf("rpc: rate limit burst must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.Indexer.Driver)) {
	case "sqlite":
	case "postgres":
		if c.Indexer.Enabled && strings.TrimSpace(c.Indexer.DSN) == "" {
			return fmt.Errorf("indexer: postgres driver requires a DSN")
		}
	default:
		return fmt.Errorf("indexer: unsupported driver %q", c.Indexer.Driver)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample ratio must be within [0,1]")
	}
	return nil
}

// RegistryRecord converts the [Registry] section into the record used to
// bootstrap the factory.
func (c *Config) RegistryRecord() (*registry.Registry, error) {
	owner, err := crypto.ParseAddress(c.Registry.Owner)
	if err != nil {
		return nil, fmt.Errorf("registry: owner: %w", err)
	}
	feeRecipient, err := crypto.ParseAddress(c.Registry.FeeRecipient)
	if err != nil {
		return nil, fmt.Errorf("registry: fee recipient: %w", err)
	}
	arbiter, err := crypto.ParseAddress(c.Registry.Arbiter)
	if err != nil {
		return nil, fmt.Errorf("registry: arbiter: %w", err)
	}
	var oracle [20]byte
	if strings.TrimSpace(c.Registry.ShippingOracle) != "" {
		if oracle, err = crypto.ParseAddress(c.Registry.ShippingOracle); err != nil {
			return nil, fmt.Errorf("registry: shipping oracle: %w", err)
		}
	}
	minOrder, err := ParseAmount(c.Registry.MinOrderAmount)
	if err != nil {
		return nil, fmt.Errorf("registry: min order amount: %w", err)
	}
	rec := &registry.Registry{
		Address:        registry.DeriveRegistryAddress(owner),
		Owner:          owner,
		FeeRecipient:   feeRecipient,
		Arbiter:        arbiter,
		ShippingOracle: oracle,
		MinOrderAmount: minOrder,
		PremiumBps:     c.Registry.PremiumBps,
		FeeBps:         c.Registry.FeeBps,
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	return rec, nil
}

// DefaultTxCost returns the parsed [Ledger] DefaultTxCost.
func (c *Config) DefaultTxCost() (*big.Int, error) {
	cost, err := ParseAmount(c.Ledger.DefaultTxCost)
	if err != nil {
		return nil, fmt.Errorf("ledger: default tx cost: %w", err)
	}
	return cost, nil
}

// MaxTxCost returns the parsed [Ledger] MaxTxCost, or nil when declared
// costs are unbounded.
func (c *Config) MaxTxCost() (*big.Int, error) {
	if strings.TrimSpace(c.Ledger.MaxTxCost) == "" {
		return nil, nil
	}
	cost, err := ParseAmount(c.Ledger.MaxTxCost)
	if err != nil {
		return nil, fmt.Errorf("ledger: max tx cost: %w", err)
	}
	return cost, nil
}

// GenesisAllocations returns the parsed genesis credits keyed by address.
// Duplicate addresses are rejected.
func (c *Config) GenesisAllocations() (map[[20]byte]*big.Int, error) {
	out := make(map[[20]byte]*big.Int, len(c.Ledger.Genesis))
	for i, alloc := range c.Ledger.Genesis {
		addr, err := crypto.ParseAddress(alloc.Address)
		if err != nil {
			return nil, fmt.Errorf("ledger: genesis[%d]: %w", i, err)
		}
		if _, dup := out[addr]; dup {
			return nil, fmt.Errorf("ledger: genesis[%d]: duplicate address %s", i, alloc.Address)
		}
		amount, err := ParseAmount(alloc.Balance)
		if err != nil {
			return nil, fmt.Errorf("ledger: genesis[%d]: %w", i, err)
		}
		out[addr] = amount
	}
	return out, nil
}

// JWTSecret resolves the HMAC secret, preferring the environment variable
// named by JWTSecretEnv. An empty result disables authentication.
func (c *Config) JWTSecret() string {
	if env := strings.TrimSpace(c.RPC.JWTSecretEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(c.RPC.JWTSecret)
}

// ParseAmount parses a non-negative base-10 amount that fits in 256 bits.
func ParseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return nil, fmt.Errorf("amount %q exceeds 256 bits", raw)
	}
	return amount, nil
}
