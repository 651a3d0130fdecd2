package events

import (
	"math/big"

	"stabled/core/types"
	"stabled/crypto"
)

const (
	// TypeCollateralDeposited is emitted when collateral enters the engine.
	TypeCollateralDeposited = "collateral.deposited"
	// TypeCollateralRedeemed is emitted when collateral returns to an account.
	TypeCollateralRedeemed = "collateral.redeemed"
	// TypeDSCMinted is emitted when debt is minted against collateral.
	TypeDSCMinted = "collateral.dsc_minted"
	// TypeDSCBurned is emitted when debt is repaid and burned.
	TypeDSCBurned = "collateral.dsc_burned"
	// TypeLiquidated is emitted when a third party liquidates a position.
	TypeLiquidated = "collateral.liquidated"
)

func amountString(a *big.Int) string {
	if a == nil {
		return "0"
	}
	return a.String()
}

func addressString(b [20]byte) string {
	return crypto.MustNewAddress(b[:]).String()
}

type CollateralDeposited struct {
	Account [20]byte
	Asset   string
	Amount  *big.Int
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

func (e CollateralDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralDeposited,
		Attributes: map[string]string{
			"account": addressString(e.Account),
			"asset":   normalizeAsset(e.Asset),
			"amount":  amountString(e.Amount),
		},
	}
}

type CollateralRedeemed struct {
	Account [20]byte
	Asset   string
	Amount  *big.Int
}

func (CollateralRedeemed) EventType() string { return TypeCollateralRedeemed }

func (e CollateralRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralRedeemed,
		Attributes: map[string]string{
			"account": addressString(e.Account),
			"asset":   normalizeAsset(e.Asset),
			"amount":  amountString(e.Amount),
		},
	}
}

type DSCMinted struct {
	Account [20]byte
	Amount  *big.Int
}

func (DSCMinted) EventType() string { return TypeDSCMinted }

func (e DSCMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeDSCMinted,
		Attributes: map[string]string{
			"account": addressString(e.Account),
			"amount":  amountString(e.Amount),
		},
	}
}

type DSCBurned struct {
	Account [20]byte
	Amount  *big.Int
}

func (DSCBurned) EventType() string { return TypeDSCBurned }

func (e DSCBurned) Event() *types.Event {
	return &types.Event{
		Type: TypeDSCBurned,
		Attributes: map[string]string{
			"account": addressString(e.Account),
			"amount":  amountString(e.Amount),
		},
	}
}

type Liquidated struct {
	Liquidator        [20]byte
	Account           [20]byte
	Asset             string
	DebtCovered       *big.Int
	CollateralSeized  *big.Int
	HealthFactorAfter *big.Int
}

func (Liquidated) EventType() string { return TypeLiquidated }

func (e Liquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidated,
		Attributes: map[string]string{
			"liquidator":        addressString(e.Liquidator),
			"account":           addressString(e.Account),
			"asset":             normalizeAsset(e.Asset),
			"debtCovered":       amountString(e.DebtCovered),
			"collateralSeized":  amountString(e.CollateralSeized),
			"healthFactorAfter": amountString(e.HealthFactorAfter),
		},
	}
}
