package collateral

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"stabled/core/events"
	"stabled/core/state"
	"stabled/crypto"
	"stabled/native/oracle"
	"stabled/native/token"
)

var (
	basisPoints   = big.NewInt(10_000)
	precisionUnit = big.NewInt(1_000_000_000_000_000_000)
	maxUint256    = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

const moduleName = "collateral-engine"

// DefaultStableSymbol is the debt token minted against collateral.
const DefaultStableSymbol = "DSC"

var errNotInitialised = errors.New("collateral engine: not initialised")

// ledgerView is the read surface shared by the committed state manager and a
// staged transaction, so solvency math works against either scope.
type ledgerView interface {
	CollateralBalance(addr []byte, symbol string) (*big.Int, error)
	Debt(addr []byte) (*big.Int, error)
}

// Config wires an engine instance. The asset and feed lists pair index by
// index and are immutable once the engine is constructed.
type Config struct {
	CollateralAssets []string
	PriceFeeds       []string
	StableSymbol     string
	Params           RiskParameters
}

// Engine owns the collateral/debt ledger: deposits, stable token minting,
// redemptions, burns, and liquidations. Every state-changing operation runs
// under one mutex inside one staged transaction, so a failure at any step
// leaves no observable effect.
type Engine struct {
	mu            sync.Mutex
	manager       *state.Manager
	resolver      *oracle.Resolver
	params        RiskParameters
	stableSymbol  string
	assets        []string
	feeds         []string
	assetSet      map[string]struct{}
	moduleAddress crypto.Address
	emitter       events.Emitter
}

// NewEngine validates the collateral configuration and constructs the engine.
// The asset list and the feed list must pair one-to-one and every asset must
// be priceable by the resolver.
func NewEngine(manager *state.Manager, resolver *oracle.Resolver, cfg Config) (*Engine, error) {
	if manager == nil {
		return nil, fmt.Errorf("%w: state manager required", ErrInvalidConfiguration)
	}
	if resolver == nil {
		return nil, fmt.Errorf("%w: price resolver required", ErrInvalidConfiguration)
	}
	if len(cfg.CollateralAssets) == 0 {
		return nil, fmt.Errorf("%w: at least one collateral asset required", ErrInvalidConfiguration)
	}
	if len(cfg.CollateralAssets) != len(cfg.PriceFeeds) {
		return nil, fmt.Errorf("%w: %d assets paired with %d feeds", ErrInvalidConfiguration, len(cfg.CollateralAssets), len(cfg.PriceFeeds))
	}

	assets := make([]string, 0, len(cfg.CollateralAssets))
	feeds := make([]string, 0, len(cfg.PriceFeeds))
	assetSet := make(map[string]struct{}, len(cfg.CollateralAssets))
	for i, raw := range cfg.CollateralAssets {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		if symbol == "" {
			return nil, fmt.Errorf("%w: empty asset at index %d", ErrInvalidConfiguration, i)
		}
		if _, dup := assetSet[symbol]; dup {
			return nil, fmt.Errorf("%w: duplicate asset %s", ErrInvalidConfiguration, symbol)
		}
		feed := strings.ToUpper(strings.TrimSpace(cfg.PriceFeeds[i]))
		if feed == "" {
			return nil, fmt.Errorf("%w: empty feed for asset %s", ErrInvalidConfiguration, symbol)
		}
		if !resolver.AssetSupported(symbol) {
			return nil, fmt.Errorf("%w: resolver cannot price %s", ErrInvalidConfiguration, symbol)
		}
		assetSet[symbol] = struct{}{}
		assets = append(assets, symbol)
		feeds = append(feeds, feed)
	}

	stable := strings.ToUpper(strings.TrimSpace(cfg.StableSymbol))
	if stable == "" {
		stable = DefaultStableSymbol
	}
	if _, clash := assetSet[stable]; clash {
		return nil, fmt.Errorf("%w: stable token %s cannot be collateral", ErrInvalidConfiguration, stable)
	}

	params := cfg.Params.Normalise()
	if !params.valid() {
		return nil, fmt.Errorf("%w: invalid risk parameters", ErrInvalidConfiguration)
	}

	return &Engine{
		manager:       manager,
		resolver:      resolver,
		params:        params,
		stableSymbol:  stable,
		assets:        assets,
		feeds:         feeds,
		assetSet:      assetSet,
		moduleAddress: crypto.ModuleAddress(moduleName),
		emitter:       events.NoopEmitter{},
	}, nil
}

// SetEmitter wires the engine to an event sink. Aborted operations never
// reach it.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// ModuleAddress returns the engine's module account, which holds deposited
// collateral and acts as the stable token mint authority.
func (e *Engine) ModuleAddress() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.moduleAddress
}

// StableSymbol returns the debt token symbol the engine mints and burns.
func (e *Engine) StableSymbol() string {
	if e == nil {
		return ""
	}
	return e.stableSymbol
}

func (e *Engine) requireAsset(asset string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(asset))
	if _, ok := e.assetSet[symbol]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotAllowedToken, symbol)
	}
	return symbol, nil
}

func requirePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrNeedsMoreThanZero
	}
	return nil
}

func accountID(addr crypto.Address) [20]byte {
	var id [20]byte
	copy(id[:], addr.Bytes())
	return id
}

// DepositCollateral locks the caller's collateral inside the engine module
// account. The caller must have approved the module address for at least the
// deposited amount.
func (e *Engine) DepositCollateral(from crypto.Address, asset string, amount *big.Int) error {
	if e == nil || e.manager == nil {
		return errNotInitialised
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	symbol, err := e.requireAsset(asset)
	if err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}

	txn := e.manager.Begin()
	defer txn.Discard()
	if err := e.stageDeposit(txn, from, symbol, amount); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	e.emitter.Emit(events.CollateralDeposited{Account: accountID(from), Asset: symbol, Amount: amount})
	return nil
}

// MintDSC creates new stable tokens against the caller's collateral. The
// caller's post-mint health factor must stay at or above the minimum.
func (e *Engine) MintDSC(from crypto.Address, amount *big.Int) error {
	if e == nil || e.manager == nil {
		return errNotInitialised
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := requirePositive(amount); err != nil {
		return err
	}

	txn := e.manager.Begin()
	defer txn.Discard()
	if err := e.stageMint(txn, from, amount); err != nil {
		return err
	}
	if err := e.requireHealthy(txn, from); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	e.emitter.Emit(events.DSCMinted{Account: accountID(from), Amount: amount})
	return nil
}

// DepositCollateralAndMintDSC performs a deposit followed by a mint inside
// one transaction, checking the health factor once at the end.
func (e *Engine) DepositCollateralAndMintDSC(from crypto.Address, asset string, depositAmount, mintAmount *big.Int) error {
	if e == nil || e.manager == nil {
		return errNotInitialised
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	symbol, err := e.requireAsset(asset)
	if err != nil {
		return err
	}
	if err := requirePositive(depositAmount); err != nil {
		return err
	}
	if err := requirePositive(mintAmount); err != nil {
		return err
	}

	txn := e.manager.Begin()
	defer txn.Discard()
	if err := e.stageDeposit(txn, from, symbol, depositAmount); err != nil {
		return err
	}
	if err := e.stageMint(txn, from, mintAmount); err != nil {
		return err
	}
	if err := e.requireHealthy(txn, from); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	e.emitter.Emit(events.CollateralDeposited{Account: accountID(from), Asset: symbol, Amount: depositAmount})
	e.emitter.Emit(events.DSCMinted{Account: accountID(from), Amount: mintAmount})
	return nil
}

// RedeemCollateral returns collateral from the engine to the caller. When the
// caller still owes debt the post-redeem health factor must stay at or above
// the minimum.
func (e *Engine) RedeemCollateral(from crypto.Address, asset string, amount *big.Int) error {
	if e == nil || e.manager == nil {
		return errNotInitialised
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	symbol, err := e.requireAsset(asset)
	if err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}

	txn := e.manager.Begin()
	defer txn.Discard()
	if err := e.stageRedeem(txn, from, from, symbol, amount); err != nil {
		return err
	}
	if err := e.requireHealthy(txn, from); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	e.emitter.Emit(events.CollateralRedeemed{Account: accountID(from), Asset: symbol, Amount: amount})
	return nil
}

// BurnDSC repays debt by pulling stable tokens from the caller and burning
// them. Burning never increases risk, so no health factor check applies.
func (e *Engine) BurnDSC(from crypto.Address, amount *big.Int) error {
	if e == nil || e.manager == nil {
		return errNotInitialised
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := requirePositive(amount); err != nil {
		return err
	}

	txn := e.manager.Begin()
	defer txn.Discard()
	if err := e.stageBurn(txn, from, from, amount); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	e.emitter.Emit(events.DSCBurned{Account: accountID(from), Amount: amount})
	return nil
}

// RedeemCollateralForDSC burns stable tokens and redeems collateral inside
// one transaction, checking the health factor once at the end.
func (e *Engine) RedeemCollateralForDSC(from crypto.Address, asset string, redeemAmount, burnAmount *big.Int) error {
	if e == nil || e.manager == nil {
		return errNotInitialised
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	symbol, err := e.requireAsset(asset)
	if err != nil {
		return err
	}
	if err := requirePositive(redeemAmount); err != nil {
		return err
	}
	if err := requirePositive(burnAmount); err != nil {
		return err
	}

	txn := e.manager.Begin()
	defer txn.Discard()
	if err := e.stageBurn(txn, from, from, burnAmount); err != nil {
		return err
	}
	if err := e.stageRedeem(txn, from, from, symbol, redeemAmount); err != nil {
		return err
	}
	if err := e.requireHealthy(txn, from); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	e.emitter.Emit(events.DSCBurned{Account: accountID(from), Amount: burnAmount})
	e.emitter.Emit(events.CollateralRedeemed{Account: accountID(from), Asset: symbol, Amount: redeemAmount})
	return nil
}

// Liquidate lets anyone repay part of an unhealthy account's debt in exchange
// for a bonus-bearing share of its collateral. The whole operation fails when
// the seizure exceeds the held collateral or the target's health factor does
// not strictly improve. The seized collateral amount is returned.
func (e *Engine) Liquidate(liquidator, account crypto.Address, asset string, debtToCover *big.Int) (*big.Int, error) {
	if e == nil || e.manager == nil {
		return nil, errNotInitialised
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	symbol, err := e.requireAsset(asset)
	if err != nil {
		return nil, err
	}
	if err := requirePositive(debtToCover); err != nil {
		return nil, err
	}

	txn := e.manager.Begin()
	defer txn.Discard()

	startHF, err := e.healthFactor(txn, account)
	if err != nil {
		return nil, err
	}
	if startHF.Cmp(e.params.MinHealthFactor) >= 0 {
		return nil, ErrHealthFactorOk
	}

	debt, err := txn.Debt(account.Bytes())
	if err != nil {
		return nil, err
	}
	if debt.Cmp(debtToCover) < 0 {
		return nil, fmt.Errorf("%w: debt %s below cover %s", ErrInsufficientBalance, debt, debtToCover)
	}

	// Collateral owed for the covered debt, plus the liquidation bonus.
	baseSeize, err := e.resolver.FromUSDValue(symbol, debtToCover)
	if err != nil {
		return nil, err
	}
	bonus := new(big.Int).Mul(baseSeize, new(big.Int).SetUint64(e.params.LiquidationBonusBps))
	bonus.Quo(bonus, basisPoints)
	seizeAmount := new(big.Int).Add(baseSeize, bonus)

	held, err := txn.CollateralBalance(account.Bytes(), symbol)
	if err != nil {
		return nil, err
	}
	if held.Cmp(seizeAmount) < 0 {
		return nil, fmt.Errorf("%w: held %s cannot cover seizure %s", ErrHealthFactorNotImproved, held, seizeAmount)
	}

	if err := e.stageBurn(txn, liquidator, account, debtToCover); err != nil {
		return nil, err
	}
	if err := txn.SetCollateralBalance(account.Bytes(), symbol, new(big.Int).Sub(held, seizeAmount)); err != nil {
		return nil, err
	}
	ledger := token.NewLedger(txn)
	if err := ledger.Transfer(e.moduleAddress.Bytes(), liquidator.Bytes(), symbol, seizeAmount); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	endHF, err := e.healthFactor(txn, account)
	if err != nil {
		return nil, err
	}
	if endHF.Cmp(startHF) <= 0 {
		return nil, ErrHealthFactorNotImproved
	}

	if err := txn.Commit(); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.Liquidated{
		Liquidator:        accountID(liquidator),
		Account:           accountID(account),
		Asset:             symbol,
		DebtCovered:       debtToCover,
		CollateralSeized:  seizeAmount,
		HealthFactorAfter: endHF,
	})
	return seizeAmount, nil
}

// stageDeposit raises the depositor's position and pulls the collateral into
// the module account, all against the staged view.
func (e *Engine) stageDeposit(txn *state.Txn, from crypto.Address, symbol string, amount *big.Int) error {
	current, err := txn.CollateralBalance(from.Bytes(), symbol)
	if err != nil {
		return err
	}
	if err := txn.SetCollateralBalance(from.Bytes(), symbol, new(big.Int).Add(current, amount)); err != nil {
		return err
	}
	if err := txn.TouchCollateralAccount(from.Bytes()); err != nil {
		return err
	}
	ledger := token.NewLedger(txn)
	if err := ledger.TransferFrom(e.moduleAddress.Bytes(), from.Bytes(), e.moduleAddress.Bytes(), symbol, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

// stageMint raises the debt scalar and mints stable tokens to the account.
func (e *Engine) stageMint(txn *state.Txn, to crypto.Address, amount *big.Int) error {
	debt, err := txn.Debt(to.Bytes())
	if err != nil {
		return err
	}
	if err := txn.SetDebt(to.Bytes(), new(big.Int).Add(debt, amount)); err != nil {
		return err
	}
	if err := txn.TouchCollateralAccount(to.Bytes()); err != nil {
		return err
	}
	ledger := token.NewLedger(txn)
	if err := ledger.Mint(e.moduleAddress.Bytes(), to.Bytes(), e.stableSymbol, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrMintFailed, err)
	}
	return nil
}

// stageRedeem lowers the owner's position and pushes the collateral from the
// module account to the recipient.
func (e *Engine) stageRedeem(txn *state.Txn, owner, to crypto.Address, symbol string, amount *big.Int) error {
	held, err := txn.CollateralBalance(owner.Bytes(), symbol)
	if err != nil {
		return err
	}
	if held.Cmp(amount) < 0 {
		return fmt.Errorf("%w: held %s below redemption %s", ErrInsufficientBalance, held, amount)
	}
	if err := txn.SetCollateralBalance(owner.Bytes(), symbol, new(big.Int).Sub(held, amount)); err != nil {
		return err
	}
	ledger := token.NewLedger(txn)
	if err := ledger.Transfer(e.moduleAddress.Bytes(), to.Bytes(), symbol, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

// stageBurn pulls stable tokens from the payer, burns them, and lowers the
// debtor's debt scalar.
func (e *Engine) stageBurn(txn *state.Txn, payer, debtor crypto.Address, amount *big.Int) error {
	debt, err := txn.Debt(debtor.Bytes())
	if err != nil {
		return err
	}
	if debt.Cmp(amount) < 0 {
		return fmt.Errorf("%w: debt %s below burn %s", ErrInsufficientBalance, debt, amount)
	}
	if err := txn.SetDebt(debtor.Bytes(), new(big.Int).Sub(debt, amount)); err != nil {
		return err
	}
	ledger := token.NewLedger(txn)
	if err := ledger.BurnFrom(payer.Bytes(), payer.Bytes(), e.stableSymbol, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

// requireHealthy aborts when the account carries debt and its health factor
// sits below the minimum.
func (e *Engine) requireHealthy(view ledgerView, addr crypto.Address) error {
	hf, err := e.healthFactor(view, addr)
	if err != nil {
		return err
	}
	if hf.Cmp(e.params.MinHealthFactor) < 0 {
		return fmt.Errorf("%w: %s", ErrBreaksHealthFactor, hf)
	}
	return nil
}
