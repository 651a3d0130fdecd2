package collateral

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"stabled/core/state"
	"stabled/crypto"
	"stabled/native/oracle"
	"stabled/storage"
)

var wad = big.NewInt(1_000_000_000_000_000_000)

// wadUnits returns n scaled to eighteen decimals.
func wadUnits(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), wad)
}

func mustParse(t *testing.T, value string) *big.Int {
	t.Helper()
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		t.Fatalf("invalid big integer %q", value)
	}
	return parsed
}

func testAddr(b byte) crypto.Address {
	buf := make([]byte, 20)
	for i := range buf {
		buf[i] = b
	}
	return crypto.MustNewAddress(buf)
}

type fixture struct {
	manager    *state.Manager
	feed       *oracle.ManualFeed
	engine     *Engine
	user       crypto.Address
	liquidator crypto.Address
}

// newFixture wires a memory-backed engine with one approved asset (WETH at
// $2000, 8 feed decimals) and two funded, pre-approved accounts.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	manager := state.NewManager(db)

	feed := oracle.NewManualFeed()
	if err := feed.Set("WETH", big.NewInt(200_000_000_000), 8, time.Now().UTC()); err != nil {
		t.Fatalf("seed price: %v", err)
	}
	resolver, err := oracle.NewResolver(
		[]string{"WETH"},
		[]string{"manual"},
		map[string]oracle.PriceFeed{"manual": feed},
		time.Hour,
	)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	engine, err := NewEngine(manager, resolver, Config{
		CollateralAssets: []string{"WETH"},
		PriceFeeds:       []string{"manual"},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	if err := manager.RegisterToken("WETH", "Wrapped Ether", 18); err != nil {
		t.Fatalf("register WETH: %v", err)
	}
	if err := manager.RegisterToken("DSC", "Decentralized Stable Coin", 18); err != nil {
		t.Fatalf("register DSC: %v", err)
	}
	if err := manager.SetTokenMintAuthority("DSC", engine.ModuleAddress().Bytes()); err != nil {
		t.Fatalf("set mint authority: %v", err)
	}

	f := &fixture{
		manager:    manager,
		feed:       feed,
		engine:     engine,
		user:       testAddr(0xA1),
		liquidator: testAddr(0xB2),
	}
	for _, acct := range []crypto.Address{f.user, f.liquidator} {
		if err := manager.SetBalance(acct.Bytes(), "WETH", wadUnits(100)); err != nil {
			t.Fatalf("fund account: %v", err)
		}
		if err := manager.SetAllowance(acct.Bytes(), engine.ModuleAddress().Bytes(), "WETH", wadUnits(1_000_000)); err != nil {
			t.Fatalf("approve engine: %v", err)
		}
	}
	return f
}

func (f *fixture) position(t *testing.T, addr crypto.Address) *big.Int {
	t.Helper()
	held, err := f.manager.CollateralBalance(addr.Bytes(), "WETH")
	if err != nil {
		t.Fatalf("read position: %v", err)
	}
	return held
}

func (f *fixture) wallet(t *testing.T, addr crypto.Address, symbol string) *big.Int {
	t.Helper()
	bal, err := f.manager.Balance(addr.Bytes(), symbol)
	if err != nil {
		t.Fatalf("read balance: %v", err)
	}
	return bal
}

func (f *fixture) debt(t *testing.T, addr crypto.Address) *big.Int {
	t.Helper()
	owed, err := f.manager.Debt(addr.Bytes())
	if err != nil {
		t.Fatalf("read debt: %v", err)
	}
	return owed
}

// requireSupplyMatchesDebt asserts the engine's core bookkeeping invariant:
// total stable supply equals the sum of all recorded debt.
func (f *fixture) requireSupplyMatchesDebt(t *testing.T) {
	t.Helper()
	supply, err := f.manager.TokenSupply("DSC")
	if err != nil {
		t.Fatalf("read supply: %v", err)
	}
	accounts, err := f.manager.CollateralAccounts()
	if err != nil {
		t.Fatalf("read accounts: %v", err)
	}
	total := big.NewInt(0)
	for _, acct := range accounts {
		owed, err := f.manager.Debt(acct)
		if err != nil {
			t.Fatalf("read debt: %v", err)
		}
		total.Add(total, owed)
	}
	if supply.Cmp(total) != 0 {
		t.Fatalf("supply %s does not match total debt %s", supply, total)
	}
}

func TestNewEngineValidation(t *testing.T) {
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	manager := state.NewManager(db)
	feed := oracle.NewManualFeed()
	resolver, err := oracle.NewResolver(
		[]string{"WETH"},
		[]string{"manual"},
		map[string]oracle.PriceFeed{"manual": feed},
		time.Hour,
	)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	cases := []struct {
		name string
		cfg  Config
	}{
		{"no assets", Config{}},
		{"length mismatch", Config{CollateralAssets: []string{"WETH"}, PriceFeeds: []string{"manual", "extra"}}},
		{"duplicate asset", Config{CollateralAssets: []string{"WETH", "weth"}, PriceFeeds: []string{"manual", "manual"}}},
		{"unpriceable asset", Config{CollateralAssets: []string{"WBTC"}, PriceFeeds: []string{"manual"}}},
		{"stable as collateral", Config{CollateralAssets: []string{"WETH"}, PriceFeeds: []string{"manual"}, StableSymbol: "WETH"}},
		{"bad params", Config{CollateralAssets: []string{"WETH"}, PriceFeeds: []string{"manual"}, Params: RiskParameters{LiquidationThresholdBps: 20_000}}},
	}
	for _, tc := range cases {
		if _, err := NewEngine(manager, resolver, tc.cfg); !errors.Is(err, ErrInvalidConfiguration) {
			t.Fatalf("%s: expected ErrInvalidConfiguration, got %v", tc.name, err)
		}
	}

	if _, err := NewEngine(nil, resolver, Config{CollateralAssets: []string{"WETH"}, PriceFeeds: []string{"manual"}}); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration for nil manager, got %v", err)
	}

	engine, err := NewEngine(manager, resolver, Config{CollateralAssets: []string{"weth"}, PriceFeeds: []string{"Manual"}})
	if err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	cfg := engine.Configuration()
	if len(cfg.CollateralAssets) != 1 || cfg.CollateralAssets[0] != "WETH" {
		t.Fatalf("unexpected configured assets %v", cfg.CollateralAssets)
	}
	if cfg.StableSymbol != "DSC" {
		t.Fatalf("unexpected stable symbol %q", cfg.StableSymbol)
	}
	if cfg.Params.LiquidationThresholdBps != DefaultLiquidationThresholdBps {
		t.Fatalf("unexpected threshold %d", cfg.Params.LiquidationThresholdBps)
	}
}

func TestDepositCollateralAccumulates(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.DepositCollateral(f.user, "weth", wadUnits(2)); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	if err := f.engine.DepositCollateral(f.user, "WETH", wadUnits(3)); err != nil {
		t.Fatalf("second deposit: %v", err)
	}

	if got := f.position(t, f.user); got.Cmp(wadUnits(5)) != 0 {
		t.Fatalf("expected position 5, got %s", got)
	}
	if got := f.wallet(t, f.user, "WETH"); got.Cmp(wadUnits(95)) != 0 {
		t.Fatalf("expected wallet 95, got %s", got)
	}
	if got := f.wallet(t, f.engine.ModuleAddress(), "WETH"); got.Cmp(wadUnits(5)) != 0 {
		t.Fatalf("expected module holdings 5, got %s", got)
	}
}

func TestDepositCollateralRejections(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.DepositCollateral(f.user, "WETH", big.NewInt(0)); !errors.Is(err, ErrNeedsMoreThanZero) {
		t.Fatalf("expected ErrNeedsMoreThanZero, got %v", err)
	}
	if err := f.engine.DepositCollateral(f.user, "WETH", nil); !errors.Is(err, ErrNeedsMoreThanZero) {
		t.Fatalf("expected ErrNeedsMoreThanZero for nil, got %v", err)
	}
	if err := f.engine.DepositCollateral(f.user, "DOGE", wadUnits(1)); !errors.Is(err, ErrNotAllowedToken) {
		t.Fatalf("expected ErrNotAllowedToken, got %v", err)
	}

	// An account that never approved the module cannot be drawn from, and the
	// staged position update must vanish with the failed pull.
	stranger := testAddr(0xC3)
	if err := f.manager.SetBalance(stranger.Bytes(), "WETH", wadUnits(10)); err != nil {
		t.Fatalf("fund stranger: %v", err)
	}
	if err := f.engine.DepositCollateral(stranger, "WETH", wadUnits(1)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if got := f.position(t, stranger); got.Sign() != 0 {
		t.Fatalf("failed deposit left position %s", got)
	}
	if got := f.wallet(t, stranger, "WETH"); got.Cmp(wadUnits(10)) != 0 {
		t.Fatalf("failed deposit moved funds: %s", got)
	}
}

func TestMintDSCHealthFactorGate(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.DepositCollateral(f.user, "WETH", wadUnits(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// $2000 collateral price, 10 units deposited, 5 minted: the reference
	// health factor is (20000 * 0.5) / 5 = 2000, in 18-decimal fixed point.
	if err := f.engine.MintDSC(f.user, wadUnits(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	hf, err := f.engine.HealthFactor(f.user)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if hf.Cmp(wadUnits(2000)) != 0 {
		t.Fatalf("expected health factor 2000e18, got %s", hf)
	}

	debt, value, err := f.engine.GetAccountInformation(f.user)
	if err != nil {
		t.Fatalf("account information: %v", err)
	}
	if debt.Cmp(wadUnits(5)) != 0 {
		t.Fatalf("expected debt 5e18, got %s", debt)
	}
	if value.Cmp(wadUnits(20_000)) != 0 {
		t.Fatalf("expected collateral value 20000e18, got %s", value)
	}
	if got := f.wallet(t, f.user, "DSC"); got.Cmp(wadUnits(5)) != 0 {
		t.Fatalf("expected minted balance 5e18, got %s", got)
	}
	f.requireSupplyMatchesDebt(t)

	// Minting up to the exact solvency boundary is allowed.
	if err := f.engine.MintDSC(f.user, wadUnits(9_995)); err != nil {
		t.Fatalf("boundary mint: %v", err)
	}
	hf, err = f.engine.HealthFactor(f.user)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if hf.Cmp(wad) != 0 {
		t.Fatalf("expected health factor exactly 1e18, got %s", hf)
	}

	// One more wei of debt breaks the floor and must leave nothing behind.
	if err := f.engine.MintDSC(f.user, big.NewInt(1)); !errors.Is(err, ErrBreaksHealthFactor) {
		t.Fatalf("expected ErrBreaksHealthFactor, got %v", err)
	}
	if got := f.debt(t, f.user); got.Cmp(wadUnits(10_000)) != 0 {
		t.Fatalf("failed mint changed debt: %s", got)
	}
	if got := f.wallet(t, f.user, "DSC"); got.Cmp(wadUnits(10_000)) != 0 {
		t.Fatalf("failed mint changed balance: %s", got)
	}
	f.requireSupplyMatchesDebt(t)
}

func TestMintDSCRequiresCollateral(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.MintDSC(f.user, wadUnits(1)); !errors.Is(err, ErrBreaksHealthFactor) {
		t.Fatalf("expected ErrBreaksHealthFactor with no collateral, got %v", err)
	}
	if got := f.debt(t, f.user); got.Sign() != 0 {
		t.Fatalf("failed mint left debt %s", got)
	}
	f.requireSupplyMatchesDebt(t)
}

func TestRedeemCollateral(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.DepositCollateral(f.user, "WETH", wadUnits(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := f.engine.RedeemCollateral(f.user, "WETH", wadUnits(4)); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if got := f.position(t, f.user); got.Cmp(wadUnits(6)) != 0 {
		t.Fatalf("expected position 6, got %s", got)
	}
	if got := f.wallet(t, f.user, "WETH"); got.Cmp(wadUnits(94)) != 0 {
		t.Fatalf("expected wallet 94, got %s", got)
	}

	if err := f.engine.RedeemCollateral(f.user, "WETH", wadUnits(7)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := f.position(t, f.user); got.Cmp(wadUnits(6)) != 0 {
		t.Fatalf("failed redeem changed position: %s", got)
	}
}

func TestRedeemCollateralHealthFactorGate(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.DepositCollateral(f.user, "WETH", wadUnits(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.engine.MintDSC(f.user, wadUnits(10_000)); err != nil {
		t.Fatalf("mint to boundary: %v", err)
	}

	// At the exact boundary any withdrawal breaks solvency.
	if err := f.engine.RedeemCollateral(f.user, "WETH", big.NewInt(1)); !errors.Is(err, ErrBreaksHealthFactor) {
		t.Fatalf("expected ErrBreaksHealthFactor, got %v", err)
	}
	if got := f.position(t, f.user); got.Cmp(wadUnits(10)) != 0 {
		t.Fatalf("failed redeem changed position: %s", got)
	}

	// Repaying half the debt frees half the collateral.
	if err := f.engine.BurnDSC(f.user, wadUnits(5_000)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if err := f.engine.RedeemCollateral(f.user, "WETH", wadUnits(5)); err != nil {
		t.Fatalf("redeem after burn: %v", err)
	}
	if got := f.position(t, f.user); got.Cmp(wadUnits(5)) != 0 {
		t.Fatalf("expected position 5, got %s", got)
	}
	f.requireSupplyMatchesDebt(t)
}

func TestBurnDSC(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.DepositCollateral(f.user, "WETH", wadUnits(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.engine.MintDSC(f.user, wadUnits(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := f.engine.BurnDSC(f.user, wadUnits(2)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := f.debt(t, f.user); got.Cmp(wadUnits(3)) != 0 {
		t.Fatalf("expected debt 3e18, got %s", got)
	}
	if got := f.wallet(t, f.user, "DSC"); got.Cmp(wadUnits(3)) != 0 {
		t.Fatalf("expected balance 3e18, got %s", got)
	}
	f.requireSupplyMatchesDebt(t)

	// Burning more than the recorded debt must fail before touching tokens.
	if err := f.engine.BurnDSC(f.user, wadUnits(10)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := f.debt(t, f.user); got.Cmp(wadUnits(3)) != 0 {
		t.Fatalf("failed burn changed debt: %s", got)
	}
	f.requireSupplyMatchesDebt(t)
}

func TestBurnDSCRevertsWhenTokensMissing(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.DepositCollateral(f.user, "WETH", wadUnits(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.engine.MintDSC(f.user, wadUnits(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	// Drain the minted tokens so the burn's pull cannot be satisfied even
	// though the recorded debt covers it.
	if err := f.manager.SetBalance(f.user.Bytes(), "DSC", big.NewInt(0)); err != nil {
		t.Fatalf("drain balance: %v", err)
	}
	if err := f.engine.BurnDSC(f.user, wadUnits(5)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if got := f.debt(t, f.user); got.Cmp(wadUnits(5)) != 0 {
		t.Fatalf("failed burn changed debt: %s", got)
	}
}

func TestDepositAndMintComposite(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.DepositCollateralAndMintDSC(f.user, "WETH", wadUnits(10), wadUnits(5_000)); err != nil {
		t.Fatalf("composite: %v", err)
	}
	if got := f.position(t, f.user); got.Cmp(wadUnits(10)) != 0 {
		t.Fatalf("expected position 10, got %s", got)
	}
	if got := f.debt(t, f.user); got.Cmp(wadUnits(5_000)) != 0 {
		t.Fatalf("expected debt 5000e18, got %s", got)
	}
	hf, err := f.engine.HealthFactor(f.user)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if hf.Cmp(wadUnits(2)) != 0 {
		t.Fatalf("expected health factor 2e18, got %s", hf)
	}
	f.requireSupplyMatchesDebt(t)
}

func TestDepositAndMintCompositeRevertsWhole(t *testing.T) {
	f := newFixture(t)

	// 1 unit of collateral backs at most 1000 of debt at $2000 and a 50%
	// threshold, so asking for 2000 must undo the deposit as well.
	err := f.engine.DepositCollateralAndMintDSC(f.user, "WETH", wadUnits(1), wadUnits(2_000))
	if !errors.Is(err, ErrBreaksHealthFactor) {
		t.Fatalf("expected ErrBreaksHealthFactor, got %v", err)
	}
	if got := f.position(t, f.user); got.Sign() != 0 {
		t.Fatalf("failed composite left position %s", got)
	}
	if got := f.wallet(t, f.user, "WETH"); got.Cmp(wadUnits(100)) != 0 {
		t.Fatalf("failed composite moved collateral: %s", got)
	}
	if got := f.debt(t, f.user); got.Sign() != 0 {
		t.Fatalf("failed composite left debt %s", got)
	}
	f.requireSupplyMatchesDebt(t)
}

func TestRedeemForDSCComposite(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.DepositCollateralAndMintDSC(f.user, "WETH", wadUnits(10), wadUnits(5_000)); err != nil {
		t.Fatalf("composite: %v", err)
	}

	// Full exit: burn the entire debt and pull every unit of collateral out.
	if err := f.engine.RedeemCollateralForDSC(f.user, "WETH", wadUnits(10), wadUnits(5_000)); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if got := f.position(t, f.user); got.Sign() != 0 {
		t.Fatalf("expected empty position, got %s", got)
	}
	if got := f.debt(t, f.user); got.Sign() != 0 {
		t.Fatalf("expected zero debt, got %s", got)
	}
	if got := f.wallet(t, f.user, "WETH"); got.Cmp(wadUnits(100)) != 0 {
		t.Fatalf("expected restored wallet, got %s", got)
	}
	if got := f.wallet(t, f.user, "DSC"); got.Sign() != 0 {
		t.Fatalf("expected zero stable balance, got %s", got)
	}
	f.requireSupplyMatchesDebt(t)
}
