package collateral

import "math/big"

// Default risk parameters: collateral counts at half value and liquidators
// earn a ten percent premium, matching a 200% over-collateralization target.
const (
	DefaultLiquidationThresholdBps uint64 = 5_000
	DefaultLiquidationBonusBps     uint64 = 1_000
)

// RiskParameters groups the solvency limits applied to every account.
type RiskParameters struct {
	// LiquidationThresholdBps discounts collateral value before it backs
	// debt, expressed in basis points.
	LiquidationThresholdBps uint64
	// LiquidationBonusBps is the collateral premium granted to liquidators,
	// expressed in basis points.
	LiquidationBonusBps uint64
	// MinHealthFactor is the 18-decimal solvency floor. Accounts with debt
	// must keep their health factor at or above it.
	MinHealthFactor *big.Int
}

// Clone returns a deep copy of the parameters.
func (p RiskParameters) Clone() RiskParameters {
	clone := RiskParameters{
		LiquidationThresholdBps: p.LiquidationThresholdBps,
		LiquidationBonusBps:     p.LiquidationBonusBps,
	}
	if p.MinHealthFactor != nil {
		clone.MinHealthFactor = new(big.Int).Set(p.MinHealthFactor)
	}
	return clone
}

// Normalise fills zero-valued fields with the defaults.
func (p RiskParameters) Normalise() RiskParameters {
	normalized := p.Clone()
	if normalized.LiquidationThresholdBps == 0 {
		normalized.LiquidationThresholdBps = DefaultLiquidationThresholdBps
	}
	if normalized.LiquidationBonusBps == 0 {
		normalized.LiquidationBonusBps = DefaultLiquidationBonusBps
	}
	if normalized.MinHealthFactor == nil || normalized.MinHealthFactor.Sign() == 0 {
		normalized.MinHealthFactor = new(big.Int).Set(precisionUnit)
	}
	return normalized
}

func (p RiskParameters) valid() bool {
	if p.LiquidationThresholdBps == 0 || p.LiquidationThresholdBps > 10_000 {
		return false
	}
	if p.LiquidationBonusBps > 10_000 {
		return false
	}
	return p.MinHealthFactor != nil && p.MinHealthFactor.Sign() > 0
}
