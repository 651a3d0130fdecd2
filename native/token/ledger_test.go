package token

import (
	"errors"
	"math/big"
	"testing"

	"stabled/core/state"
	"stabled/storage"
)

func newTestLedger(t *testing.T) (*Ledger, *state.Manager) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	manager := state.NewManager(db)
	if err := manager.RegisterToken("WETH", "Wrapped Ether", 18); err != nil {
		t.Fatalf("register WETH: %v", err)
	}
	if err := manager.RegisterToken("DSC", "Decentralized Stable Coin", 18); err != nil {
		t.Fatalf("register DSC: %v", err)
	}
	return NewLedger(manager), manager
}

func addr(b byte) []byte {
	a := make([]byte, 20)
	for i := range a {
		a[i] = b
	}
	return a
}

func TestTransfer(t *testing.T) {
	ledger, manager := newTestLedger(t)
	alice, bob := addr(0x01), addr(0x02)
	if err := manager.SetBalance(alice, "WETH", big.NewInt(100)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := ledger.Transfer(alice, bob, "WETH", big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	got, _ := manager.Balance(alice, "WETH")
	if got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("unexpected sender balance: %s", got)
	}
	got, _ = manager.Balance(bob, "WETH")
	if got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("unexpected recipient balance: %s", got)
	}

	if err := ledger.Transfer(alice, bob, "WETH", big.NewInt(1000)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if err := ledger.Transfer(alice, bob, "WETH", big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if err := ledger.Transfer(alice, bob, "DOGE", big.NewInt(1)); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected unknown token, got %v", err)
	}
	if err := ledger.Transfer(alice, alice, "WETH", big.NewInt(10)); err != nil {
		t.Fatalf("self transfer should be a no-op: %v", err)
	}
	got, _ = manager.Balance(alice, "WETH")
	if got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("self transfer changed balance: %s", got)
	}
}

func TestTransferFromSpendsAllowance(t *testing.T) {
	ledger, manager := newTestLedger(t)
	owner, spender, sink := addr(0x0A), addr(0x0B), addr(0x0C)
	if err := manager.SetBalance(owner, "WETH", big.NewInt(100)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := ledger.TransferFrom(spender, owner, sink, "WETH", big.NewInt(10)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected allowance failure, got %v", err)
	}

	if err := ledger.Approve(owner, spender, "WETH", big.NewInt(30)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferFrom(spender, owner, sink, "WETH", big.NewInt(10)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}

	remaining, _ := ledger.Allowance(owner, spender, "WETH")
	if remaining.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("allowance not debited: %s", remaining)
	}
	balance, _ := manager.Balance(sink, "WETH")
	if balance.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("recipient balance: %s", balance)
	}

	if err := ledger.TransferFrom(spender, owner, sink, "WETH", big.NewInt(25)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected allowance exhaustion, got %v", err)
	}

	// The owner spends without any allowance entry.
	if err := ledger.TransferFrom(owner, owner, sink, "WETH", big.NewInt(5)); err != nil {
		t.Fatalf("self spend: %v", err)
	}
}

func TestMintRequiresAuthority(t *testing.T) {
	ledger, manager := newTestLedger(t)
	authority := addr(0xEE)
	outsider := addr(0x99)
	recipient := addr(0x01)

	if err := manager.SetTokenMintAuthority("DSC", authority); err != nil {
		t.Fatalf("set authority: %v", err)
	}

	if err := ledger.Mint(outsider, recipient, "DSC", big.NewInt(50)); !errors.Is(err, ErrNotMintAuthority) {
		t.Fatalf("expected authority failure, got %v", err)
	}
	if err := ledger.Mint(authority, recipient, "DSC", big.NewInt(50)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	balance, _ := manager.Balance(recipient, "DSC")
	if balance.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected balance: %s", balance)
	}
	supply, _ := manager.TokenSupply("DSC")
	if supply.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("supply not tracked: %s", supply)
	}

	// WETH has no authority configured; nobody can mint it.
	if err := ledger.Mint(authority, recipient, "WETH", big.NewInt(1)); !errors.Is(err, ErrNotMintAuthority) {
		t.Fatalf("expected mint of unauthorised token to fail, got %v", err)
	}

	if err := manager.SetTokenMintPaused("DSC", true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := ledger.Mint(authority, recipient, "DSC", big.NewInt(1)); !errors.Is(err, ErrMintPaused) {
		t.Fatalf("expected paused mint to fail, got %v", err)
	}
}

func TestBurnFrom(t *testing.T) {
	ledger, manager := newTestLedger(t)
	authority := addr(0xEE)
	holder := addr(0x01)
	burner := addr(0x02)

	if err := manager.SetTokenMintAuthority("DSC", authority); err != nil {
		t.Fatalf("set authority: %v", err)
	}
	if err := ledger.Mint(authority, holder, "DSC", big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	// Self-burn skips the allowance.
	if err := ledger.BurnFrom(holder, holder, "DSC", big.NewInt(30)); err != nil {
		t.Fatalf("self burn: %v", err)
	}
	supply, _ := manager.TokenSupply("DSC")
	if supply.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("supply after burn: %s", supply)
	}

	// Third-party burn needs an approval.
	if err := ledger.BurnFrom(burner, holder, "DSC", big.NewInt(10)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected allowance failure, got %v", err)
	}
	if err := ledger.Approve(holder, burner, "DSC", big.NewInt(10)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.BurnFrom(burner, holder, "DSC", big.NewInt(10)); err != nil {
		t.Fatalf("burn from: %v", err)
	}

	balance, _ := manager.Balance(holder, "DSC")
	if balance.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("balance after burns: %s", balance)
	}
	if err := ledger.BurnFrom(holder, holder, "DSC", big.NewInt(1000)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected balance failure, got %v", err)
	}
}

func TestTokenOpsInsideTxnStayStaged(t *testing.T) {
	_, manager := newTestLedger(t)
	authority := addr(0xEE)
	holder := addr(0x01)
	if err := manager.SetTokenMintAuthority("DSC", authority); err != nil {
		t.Fatalf("set authority: %v", err)
	}

	txn := manager.Begin()
	staged := NewLedger(txn)
	if err := staged.Mint(authority, holder, "DSC", big.NewInt(500)); err != nil {
		t.Fatalf("staged mint: %v", err)
	}

	outside, _ := manager.Balance(holder, "DSC")
	if outside.Sign() != 0 {
		t.Fatalf("staged mint leaked: %s", outside)
	}
	txn.Discard()

	supply, _ := manager.TokenSupply("DSC")
	if supply.Sign() != 0 {
		t.Fatalf("discarded mint changed supply: %s", supply)
	}
}
