package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"lukechampine.com/blake3"

	"stabled/config"
	"stabled/core/state"
	"stabled/crypto"
)

var appliedKey = []byte("genesis")

type record struct {
	Hash    []byte
	Network string
}

// Apply registers the configured tokens and seeds the genesis balances on a
// fresh data directory. The canonical hash of the applied allocation is
// recorded in state; a later boot with a different allocation fails instead
// of silently diverging. The boolean reports whether this call applied
// genesis or found it already in place.
func Apply(manager *state.Manager, cfg *config.Config, engineAuthority crypto.Address) (bool, error) {
	if manager == nil {
		return false, fmt.Errorf("genesis: state manager required")
	}
	if cfg == nil {
		return false, fmt.Errorf("genesis: config required")
	}

	digest, err := canonicalHash(cfg)
	if err != nil {
		return false, err
	}

	var existing record
	found, err := manager.KVGet(appliedKey, &existing)
	if err != nil {
		return false, err
	}
	if found {
		if !bytes.Equal(existing.Hash, digest) {
			return false, fmt.Errorf("genesis: stored allocation %x does not match configuration %x", existing.Hash, digest)
		}
		return false, nil
	}

	txn := manager.Begin()
	defer txn.Discard()

	for _, asset := range cfg.Collateral.Assets {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if err := txn.RegisterToken(symbol, symbol+" collateral", asset.Decimals); err != nil {
			return false, err
		}
	}
	stable := strings.ToUpper(strings.TrimSpace(cfg.Engine.StableSymbol))
	if err := txn.RegisterToken(stable, "Decentralized Stable Coin", 18); err != nil {
		return false, err
	}
	if err := txn.SetTokenMintAuthority(stable, engineAuthority.Bytes()); err != nil {
		return false, err
	}

	for i, bal := range cfg.Genesis.Balances {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(bal.Address))
		if err != nil {
			return false, fmt.Errorf("genesis: balance %d: %w", i, err)
		}
		symbol := strings.ToUpper(strings.TrimSpace(bal.Symbol))
		amount, ok := new(big.Int).SetString(strings.TrimSpace(bal.Amount), 10)
		if !ok || amount.Sign() < 0 {
			return false, fmt.Errorf("genesis: balance %d: invalid amount %q", i, bal.Amount)
		}
		current, err := txn.Balance(addr.Bytes(), symbol)
		if err != nil {
			return false, err
		}
		if err := txn.SetBalance(addr.Bytes(), symbol, new(big.Int).Add(current, amount)); err != nil {
			return false, err
		}
		if _, err := txn.AdjustTokenSupply(symbol, amount); err != nil {
			return false, err
		}
	}

	if err := txn.KVPut(appliedKey, record{Hash: digest, Network: cfg.Node.NetworkName}); err != nil {
		return false, err
	}
	if err := txn.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// canonicalHash digests the genesis-relevant configuration: the token set,
// the stable symbol, and the sorted allocation list. Runtime knobs (ports,
// oracle cadence) deliberately stay out of the digest.
func canonicalHash(cfg *config.Config) ([]byte, error) {
	type allocation struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
		Amount  string `json:"amount"`
	}
	type payload struct {
		Assets      []string     `json:"assets"`
		Stable      string       `json:"stable"`
		Allocations []allocation `json:"allocations"`
	}

	p := payload{
		Assets: cfg.Collateral.Symbols(),
		Stable: strings.ToUpper(strings.TrimSpace(cfg.Engine.StableSymbol)),
	}
	for _, bal := range cfg.Genesis.Balances {
		p.Allocations = append(p.Allocations, allocation{
			Address: strings.TrimSpace(bal.Address),
			Symbol:  strings.ToUpper(strings.TrimSpace(bal.Symbol)),
			Amount:  strings.TrimSpace(bal.Amount),
		})
	}
	sort.Slice(p.Allocations, func(i, j int) bool {
		if p.Allocations[i].Address != p.Allocations[j].Address {
			return p.Allocations[i].Address < p.Allocations[j].Address
		}
		return p.Allocations[i].Symbol < p.Allocations[j].Symbol
	})

	encoded, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	sum := blake3.Sum256(encoded)
	return sum[:], nil
}
