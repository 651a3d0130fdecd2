package token

import (
	"bytes"
	"fmt"
	"math/big"

	"stabled/core/state"
)

// State is the narrow ledger surface the token module mutates. Both the state
// manager and a staged transaction satisfy it, so token moves participate in
// whatever atomicity scope the caller has opened.
type State interface {
	Token(symbol string) (*state.TokenMetadata, error)
	Balance(addr []byte, symbol string) (*big.Int, error)
	SetBalance(addr []byte, symbol string, amount *big.Int) error
	Allowance(owner, spender []byte, symbol string) (*big.Int, error)
	SetAllowance(owner, spender []byte, symbol string, amount *big.Int) error
	AdjustTokenSupply(symbol string, delta *big.Int) (*big.Int, error)
}

// Ledger executes fungible token operations against a ledger view. The zero
// value is unusable; construct with NewLedger.
type Ledger struct {
	state State
}

// NewLedger binds the token operations to the provided ledger view.
func NewLedger(st State) *Ledger {
	return &Ledger{state: st}
}

func (l *Ledger) requireToken(symbol string) (*state.TokenMetadata, error) {
	meta, err := l.state.Token(symbol)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
	}
	return meta, nil
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func validAddress(addrs ...[]byte) error {
	for _, a := range addrs {
		if len(a) == 0 {
			return ErrInvalidAddress
		}
	}
	return nil
}

// Transfer moves amount of symbol from one account to another.
func (l *Ledger) Transfer(from, to []byte, symbol string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return fmt.Errorf("token: ledger not configured")
	}
	if err := validAddress(from, to); err != nil {
		return err
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	if _, err := l.requireToken(symbol); err != nil {
		return err
	}

	fromBalance, err := l.state.Balance(from, symbol)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if bytes.Equal(from, to) {
		return nil
	}
	toBalance, err := l.state.Balance(to, symbol)
	if err != nil {
		return err
	}
	if err := l.state.SetBalance(from, symbol, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.state.SetBalance(to, symbol, new(big.Int).Add(toBalance, amount))
}

// Approve sets the amount a spender may pull from the owner's balance.
// Approvals overwrite; they do not accumulate.
func (l *Ledger) Approve(owner, spender []byte, symbol string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return fmt.Errorf("token: ledger not configured")
	}
	if err := validAddress(owner, spender); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if _, err := l.requireToken(symbol); err != nil {
		return err
	}
	return l.state.SetAllowance(owner, spender, symbol, amount)
}

// Allowance reports the remaining approval from owner to spender.
func (l *Ledger) Allowance(owner, spender []byte, symbol string) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("token: ledger not configured")
	}
	return l.state.Allowance(owner, spender, symbol)
}

// spendAllowance debits the owner's approval toward the spender. Self-spends
// bypass the allowance entirely.
func (l *Ledger) spendAllowance(owner, spender []byte, symbol string, amount *big.Int) error {
	if bytes.Equal(owner, spender) {
		return nil
	}
	allowance, err := l.state.Allowance(owner, spender, symbol)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	return l.state.SetAllowance(owner, spender, symbol, new(big.Int).Sub(allowance, amount))
}

// TransferFrom moves amount from the owner to the recipient on the spender's
// authority, debiting the spender's allowance.
func (l *Ledger) TransferFrom(spender, from, to []byte, symbol string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return fmt.Errorf("token: ledger not configured")
	}
	if err := validAddress(spender, from, to); err != nil {
		return err
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	if _, err := l.requireToken(symbol); err != nil {
		return err
	}
	if err := l.spendAllowance(from, spender, symbol, amount); err != nil {
		return err
	}
	return l.Transfer(from, to, symbol, amount)
}

// Mint creates amount of symbol in the recipient's balance. The caller must
// present the token's registered mint authority.
func (l *Ledger) Mint(authority, to []byte, symbol string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return fmt.Errorf("token: ledger not configured")
	}
	if err := validAddress(authority, to); err != nil {
		return err
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	meta, err := l.requireToken(symbol)
	if err != nil {
		return err
	}
	if len(meta.MintAuthority) == 0 || !bytes.Equal(meta.MintAuthority, authority) {
		return ErrNotMintAuthority
	}
	if meta.MintPaused {
		return ErrMintPaused
	}

	balance, err := l.state.Balance(to, symbol)
	if err != nil {
		return err
	}
	if err := l.state.SetBalance(to, symbol, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	_, err = l.state.AdjustTokenSupply(symbol, amount)
	return err
}

// BurnFrom destroys amount held by the owner on the spender's authority. A
// self-burn needs no allowance; third-party burns debit the approval like
// TransferFrom.
func (l *Ledger) BurnFrom(spender, from []byte, symbol string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return fmt.Errorf("token: ledger not configured")
	}
	if err := validAddress(spender, from); err != nil {
		return err
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	if _, err := l.requireToken(symbol); err != nil {
		return err
	}
	if err := l.spendAllowance(from, spender, symbol, amount); err != nil {
		return err
	}
	balance, err := l.state.Balance(from, symbol)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := l.state.SetBalance(from, symbol, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	_, err = l.state.AdjustTokenSupply(symbol, new(big.Int).Neg(amount))
	return err
}

// BalanceOf reads an account balance through the ledger view.
func (l *Ledger) BalanceOf(addr []byte, symbol string) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("token: ledger not configured")
	}
	if err := validAddress(addr); err != nil {
		return nil, err
	}
	return l.state.Balance(addr, symbol)
}
