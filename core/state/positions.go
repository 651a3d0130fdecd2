package state

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
)

// Collateral engine records: per-account, per-asset collateral held by the
// engine plus the per-account minted debt scalar. Both live beside the token
// records so a single staged transaction can cover ledger and token moves.

var (
	collateralPosPrefix   = []byte("collateral/position:")
	collateralDebtPrefix  = []byte("collateral/debt:")
	collateralAccountsKey = []byte("collateral/accounts")
)

func collateralPositionKey(addr []byte, symbol string) []byte {
	buf := make([]byte, 0, len(collateralPosPrefix)+len(symbol)+1+len(addr))
	buf = append(buf, collateralPosPrefix...)
	buf = append(buf, symbol...)
	buf = append(buf, ':')
	buf = append(buf, addr...)
	return kvKey(buf)
}

func collateralDebtKey(addr []byte) []byte {
	buf := make([]byte, 0, len(collateralDebtPrefix)+len(addr))
	buf = append(buf, collateralDebtPrefix...)
	buf = append(buf, addr...)
	return kvKey(buf)
}

// CollateralBalance returns the engine-held collateral for an account and
// asset. Missing entries default to zero.
func (v *View) CollateralBalance(addr []byte, symbol string) (*big.Int, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("address must not be empty")
	}
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	data, err := v.getRecord(collateralPositionKey(addr, normalized))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// SetCollateralBalance stores the engine-held collateral for an account and
// asset. Zero amounts clear the record so fully unwound accounts leave no
// residue.
func (v *View) SetCollateralBalance(addr []byte, symbol string, amount *big.Int) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative collateral not allowed")
	}
	key := collateralPositionKey(addr, normalized)
	if amount.Sign() == 0 {
		return v.store.Delete(key)
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return v.store.Put(key, encoded)
}

// Debt returns the minted debt scalar for an account, defaulting to zero.
func (v *View) Debt(addr []byte) (*big.Int, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("address must not be empty")
	}
	data, err := v.getRecord(collateralDebtKey(addr))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// SetDebt stores the minted debt scalar for an account. Zero clears the
// record.
func (v *View) SetDebt(addr []byte, amount *big.Int) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative debt not allowed")
	}
	key := collateralDebtKey(addr)
	if amount.Sign() == 0 {
		return v.store.Delete(key)
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return v.store.Put(key, encoded)
}

// TouchCollateralAccount records an address in the engine's account index.
// Duplicates are ignored and the stored list stays sorted for determinism.
func (v *View) TouchCollateralAccount(addr []byte) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	accounts, err := v.CollateralAccounts()
	if err != nil {
		return err
	}
	for _, existing := range accounts {
		if bytes.Equal(existing, addr) {
			return nil
		}
	}
	accounts = append(accounts, append([]byte(nil), addr...))
	sort.Slice(accounts, func(i, j int) bool {
		return bytes.Compare(accounts[i], accounts[j]) < 0
	})
	encoded, err := rlp.EncodeToBytes(accounts)
	if err != nil {
		return err
	}
	return v.store.Put(kvKey(collateralAccountsKey), encoded)
}

// CollateralAccounts lists every address that has ever held a position or
// debt, in sorted order.
func (v *View) CollateralAccounts() ([][]byte, error) {
	data, err := v.getRecord(kvKey(collateralAccountsKey))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return [][]byte{}, nil
	}
	var accounts [][]byte
	if err := rlp.DecodeBytes(data, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}
