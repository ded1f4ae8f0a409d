package risk

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"LendLedger/internal/fixedpoint"
)

var (
	// ErrInvalidConfiguration rejects risk parameters that violate
	// collateralFactor < liquidationFactor or liquidationPenalty >= 1.0.
	ErrInvalidConfiguration = errors.New("invalid collateral configuration")

	// ErrAssetNotSupported means no collateral configuration exists for the asset.
	ErrAssetNotSupported = errors.New("asset not supported")
)

// CollateralConfig holds the per-asset risk parameters.
// All factors are WAD-scaled fractions; LiquidationPenalty is a WAD-scaled
// multiplier >= 1.0 (collateral value seized per unit of debt repaid).
type CollateralConfig struct {
	Asset              string
	Enabled            bool
	CollateralFactor   int64
	LiquidationFactor  int64
	LiquidationPenalty int64
	PriceSource        string
	PriceDecimals      int
	AssetDecimals      int
}

// ValidateCollateralConfig checks the internal consistency of a config.
// Invariants: 0 < collateralFactor < liquidationFactor <= 1.0, penalty >= 1.0.
func ValidateCollateralConfig(cfg *CollateralConfig) error {
	if cfg.Asset == "" {
		return fmt.Errorf("%w: empty asset", ErrInvalidConfiguration)
	}
	if cfg.CollateralFactor <= 0 || cfg.CollateralFactor > fixedpoint.Wad {
		return fmt.Errorf("%w: collateral_factor %d out of (0, 1]", ErrInvalidConfiguration, cfg.CollateralFactor)
	}
	if cfg.LiquidationFactor <= cfg.CollateralFactor {
		return fmt.Errorf("%w: liquidation_factor %d must exceed collateral_factor %d",
			ErrInvalidConfiguration, cfg.LiquidationFactor, cfg.CollateralFactor)
	}
	if cfg.LiquidationFactor > fixedpoint.Wad {
		return fmt.Errorf("%w: liquidation_factor %d above 1.0", ErrInvalidConfiguration, cfg.LiquidationFactor)
	}
	if cfg.LiquidationPenalty < fixedpoint.Wad {
		return fmt.Errorf("%w: liquidation_penalty %d below 1.0", ErrInvalidConfiguration, cfg.LiquidationPenalty)
	}
	if cfg.AssetDecimals < 0 || cfg.AssetDecimals > fixedpoint.WadDecimals {
		return fmt.Errorf("%w: asset_decimals %d out of range", ErrInvalidConfiguration, cfg.AssetDecimals)
	}
	return nil
}

// CollateralRegistry holds the per-asset collateral configurations.
// Read-mostly: the engine reads it on every operation, the admin surface
// mutates it rarely.
type CollateralRegistry struct {
	mu      sync.RWMutex
	configs map[string]CollateralConfig
}

func NewCollateralRegistry() *CollateralRegistry {
	return &CollateralRegistry{
		configs: make(map[string]CollateralConfig),
	}
}

// Configure registers or updates a collateral asset. Re-applying the same
// configuration is idempotent: parameters are replaced in place.
func (r *CollateralRegistry) Configure(cfg CollateralConfig) error {
	if err := ValidateCollateralConfig(&cfg); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Asset] = cfg
	return nil
}

// Get returns the configuration for an asset.
func (r *CollateralRegistry) Get(asset string) (CollateralConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[asset]
	return cfg, ok
}

// IsEnabled reports whether the asset is registered and enabled. Disabled
// assets are excluded from health-factor computation and rejected for new
// deposits and borrows; existing balances stay queryable.
func (r *CollateralRegistry) IsEnabled(asset string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[asset]
	return ok && cfg.Enabled
}

// SetEnabled flips the enablement gate without touching risk parameters.
func (r *CollateralRegistry) SetEnabled(asset string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotSupported, asset)
	}
	cfg.Enabled = enabled
	r.configs[asset] = cfg
	return nil
}

// Assets returns the registered asset symbols in deterministic order.
func (r *CollateralRegistry) Assets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	assets := make([]string, 0, len(r.configs))
	for asset := range r.configs {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// Snapshot returns a copy of every configuration, for persistence.
func (r *CollateralRegistry) Snapshot() []CollateralConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	configs := make([]CollateralConfig, 0, len(r.configs))
	for _, cfg := range r.configs {
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Asset < configs[j].Asset })
	return configs
}

// Restore replaces the registry contents from a snapshot.
func (r *CollateralRegistry) Restore(configs []CollateralConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = make(map[string]CollateralConfig, len(configs))
	for _, cfg := range configs {
		r.configs[cfg.Asset] = cfg
	}
}
