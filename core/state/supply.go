package state

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
)

var tokenSupplyPrefix = []byte("token/supply/")

func tokenSupplyKey(symbol string) []byte {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	key := make([]byte, len(tokenSupplyPrefix)+len(normalized))
	copy(key, tokenSupplyPrefix)
	copy(key[len(tokenSupplyPrefix):], normalized)
	return kvKey(key)
}

func (v *View) writeTokenSupply(symbol string, total *big.Int) error {
	if v == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if total == nil {
		total = big.NewInt(0)
	}
	encoded, err := rlp.EncodeToBytes(total)
	if err != nil {
		return err
	}
	return v.store.Put(tokenSupplyKey(symbol), encoded)
}

// TokenSupply returns the persisted total supply for the provided token.
// Missing entries default to zero.
func (v *View) TokenSupply(symbol string) (*big.Int, error) {
	if v == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return nil, fmt.Errorf("token symbol required")
	}
	data, err := v.getRecord(tokenSupplyKey(normalized))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	total := new(big.Int)
	if err := rlp.DecodeBytes(data, total); err != nil {
		return nil, err
	}
	return total, nil
}

// SetTokenSupply overwrites the stored total supply for the token.
func (v *View) SetTokenSupply(symbol string, amount *big.Int) error {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return fmt.Errorf("token symbol required")
	}
	if amount != nil && amount.Sign() < 0 {
		return fmt.Errorf("token %s supply cannot be negative", normalized)
	}
	return v.writeTokenSupply(normalized, amount)
}

// AdjustTokenSupply increments the stored total supply by the supplied delta
// and returns the updated total.
func (v *View) AdjustTokenSupply(symbol string, delta *big.Int) (*big.Int, error) {
	if v == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return nil, fmt.Errorf("token symbol required")
	}
	if delta == nil {
		delta = big.NewInt(0)
	}
	current, err := v.TokenSupply(normalized)
	if err != nil {
		return nil, err
	}
	updated := new(big.Int).Add(current, delta)
	if updated.Sign() < 0 {
		return nil, fmt.Errorf("token %s supply underflow", normalized)
	}
	if err := v.writeTokenSupply(normalized, updated); err != nil {
		return nil, err
	}
	return updated, nil
}
