package collateral

import (
	"math/big"

	"stabled/crypto"
)

// InfiniteHealthFactor is the sentinel reported for debt-free accounts. It
// compares above any finite threshold.
func InfiniteHealthFactor() *big.Int {
	return new(big.Int).Set(maxUint256)
}

// collateralValue sums the USD value of every approved asset the account has
// deposited. Pricing failures propagate so solvency decisions fail closed.
func (e *Engine) collateralValue(view ledgerView, addr crypto.Address) (*big.Int, error) {
	total := big.NewInt(0)
	for _, symbol := range e.assets {
		held, err := view.CollateralBalance(addr.Bytes(), symbol)
		if err != nil {
			return nil, err
		}
		if held.Sign() == 0 {
			continue
		}
		value, err := e.resolver.ToUSDValue(symbol, held)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

// healthFactor computes the 18-decimal solvency ratio: collateral value
// discounted by the liquidation threshold, divided by outstanding debt.
func (e *Engine) healthFactor(view ledgerView, addr crypto.Address) (*big.Int, error) {
	debt, err := view.Debt(addr.Bytes())
	if err != nil {
		return nil, err
	}
	if debt.Sign() == 0 {
		return InfiniteHealthFactor(), nil
	}
	value, err := e.collateralValue(view, addr)
	if err != nil {
		return nil, err
	}
	adjusted := new(big.Int).Mul(value, new(big.Int).SetUint64(e.params.LiquidationThresholdBps))
	adjusted.Quo(adjusted, basisPoints)
	hf := new(big.Int).Mul(adjusted, precisionUnit)
	return hf.Quo(hf, debt), nil
}

// HealthFactor reports the account's current solvency ratio against committed
// state. Debt-free accounts report the infinite sentinel.
func (e *Engine) HealthFactor(addr crypto.Address) (*big.Int, error) {
	if e == nil || e.manager == nil {
		return nil, errNotInitialised
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthFactor(e.manager, addr)
}

// IsLiquidatable reports whether the account carries debt and sits below the
// minimum health factor.
func (e *Engine) IsLiquidatable(addr crypto.Address) (bool, error) {
	if e == nil || e.manager == nil {
		return false, errNotInitialised
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	hf, err := e.healthFactor(e.manager, addr)
	if err != nil {
		return false, err
	}
	return hf.Cmp(e.params.MinHealthFactor) < 0, nil
}

// GetAccountInformation returns the account's outstanding debt and the USD
// value of its deposited collateral.
func (e *Engine) GetAccountInformation(addr crypto.Address) (*big.Int, *big.Int, error) {
	if e == nil || e.manager == nil {
		return nil, nil, errNotInitialised
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	debt, err := e.manager.Debt(addr.Bytes())
	if err != nil {
		return nil, nil, err
	}
	value, err := e.collateralValue(e.manager, addr)
	if err != nil {
		return nil, nil, err
	}
	return debt, value, nil
}

// GetCollateralBalanceOfUser returns the account's deposited amount of one
// approved asset.
func (e *Engine) GetCollateralBalanceOfUser(addr crypto.Address, asset string) (*big.Int, error) {
	if e == nil || e.manager == nil {
		return nil, errNotInitialised
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	symbol, err := e.requireAsset(asset)
	if err != nil {
		return nil, err
	}
	return e.manager.CollateralBalance(addr.Bytes(), symbol)
}

// GetUsdValue prices an amount of an approved asset in 18-decimal USD.
func (e *Engine) GetUsdValue(asset string, amount *big.Int) (*big.Int, error) {
	if e == nil || e.resolver == nil {
		return nil, errNotInitialised
	}
	symbol, err := e.requireAsset(asset)
	if err != nil {
		return nil, err
	}
	return e.resolver.ToUSDValue(symbol, amount)
}

// GetTokenAmountFromUsd converts an 18-decimal USD value into the equivalent
// amount of an approved asset.
func (e *Engine) GetTokenAmountFromUsd(asset string, usdValue *big.Int) (*big.Int, error) {
	if e == nil || e.resolver == nil {
		return nil, errNotInitialised
	}
	symbol, err := e.requireAsset(asset)
	if err != nil {
		return nil, err
	}
	return e.resolver.FromUSDValue(symbol, usdValue)
}

// Configuration is an immutable snapshot of the engine wiring, exposed for
// inspection over RPC.
type Configuration struct {
	CollateralAssets []string
	PriceFeeds       []string
	StableSymbol     string
	Params           RiskParameters
}

// Configuration returns a copy of the engine's collateral configuration.
func (e *Engine) Configuration() Configuration {
	if e == nil {
		return Configuration{}
	}
	cfg := Configuration{
		CollateralAssets: make([]string, len(e.assets)),
		PriceFeeds:       make([]string, len(e.feeds)),
		StableSymbol:     e.stableSymbol,
		Params:           e.params.Clone(),
	}
	copy(cfg.CollateralAssets, e.assets)
	copy(cfg.PriceFeeds, e.feeds)
	return cfg
}
