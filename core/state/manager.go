package state

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"stabled/storage"
)

// kvStore is the raw keyed surface the typed accessors operate on. Both the
// backing database and the transaction overlay satisfy it, so every accessor
// works identically inside and outside a staged transaction.
type kvStore interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
}

// View exposes the typed ledger accessors over an arbitrary keyed surface.
type View struct {
	store kvStore
}

// Manager reads and writes ledger records directly against the backing store.
// State-changing operations should not use the Manager directly; they run
// inside a Txn obtained from Begin so that a failed operation leaves no
// partial writes behind.
type Manager struct {
	View
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{View{store: db}}
}

// TokenMetadata describes a registered fungible token.
type TokenMetadata struct {
	Symbol        string
	Name          string
	Decimals      uint8
	MintAuthority []byte
	MintPaused    bool
}

var (
	tokenPrefix     = []byte("token:")
	tokenListKey    = ethcrypto.Keccak256([]byte("token-list"))
	balancePrefix   = []byte("balance:")
	allowancePrefix = []byte("allowance:")
)

func tokenMetadataKey(symbol string) []byte {
	buf := make([]byte, len(tokenPrefix)+len(symbol))
	copy(buf, tokenPrefix)
	copy(buf[len(tokenPrefix):], symbol)
	return ethcrypto.Keccak256(buf)
}

func balanceKey(addr []byte, symbol string) []byte {
	buf := make([]byte, len(balancePrefix)+len(symbol)+1+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], symbol)
	buf[len(balancePrefix)+len(symbol)] = ':'
	copy(buf[len(balancePrefix)+len(symbol)+1:], addr)
	return ethcrypto.Keccak256(buf)
}

func allowanceKey(owner, spender []byte, symbol string) []byte {
	buf := make([]byte, 0, len(allowancePrefix)+len(symbol)+2+len(owner)+len(spender))
	buf = append(buf, allowancePrefix...)
	buf = append(buf, symbol...)
	buf = append(buf, ':')
	buf = append(buf, owner...)
	buf = append(buf, ':')
	buf = append(buf, spender...)
	return ethcrypto.Keccak256(buf)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// getRecord fetches a raw record, translating a storage miss into a nil slice
// so callers can default zero values.
func (v *View) getRecord(key []byte) ([]byte, error) {
	data, err := v.store.Get(key)
	if err != nil {
		if err == storage.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (v *View) loadTokenList() ([]string, error) {
	data, err := v.getRecord(tokenListKey)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []string{}, nil
	}
	var list []string
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (v *View) writeTokenList(list []string) error {
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return v.store.Put(tokenListKey, encoded)
}

func (v *View) loadTokenMetadata(symbol string) (*TokenMetadata, error) {
	data, err := v.getRecord(tokenMetadataKey(symbol))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	meta := new(TokenMetadata)
	if err := rlp.DecodeBytes(data, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (v *View) writeTokenMetadata(symbol string, meta *TokenMetadata) error {
	encoded, err := rlp.EncodeToBytes(meta)
	if err != nil {
		return err
	}
	return v.store.Put(tokenMetadataKey(symbol), encoded)
}

// RegisterToken stores the metadata for a native token and records it in the
// token index.
func (v *View) RegisterToken(symbol, name string, decimals uint8) error {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("token %s: name must not be empty", normalized)
	}
	if existing, err := v.loadTokenMetadata(normalized); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("token %s already registered", normalized)
	}

	list, err := v.loadTokenList()
	if err != nil {
		return err
	}
	list = append(list, normalized)
	sort.Strings(list)
	if err := v.writeTokenList(list); err != nil {
		return err
	}

	meta := &TokenMetadata{
		Symbol:   normalized,
		Name:     name,
		Decimals: decimals,
	}
	return v.writeTokenMetadata(normalized, meta)
}

// SetTokenMintAuthority configures the mint authority for the given token.
func (v *View) SetTokenMintAuthority(symbol string, authority []byte) error {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	meta, err := v.loadTokenMetadata(normalized)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("token %s not registered", normalized)
	}
	meta.MintAuthority = append([]byte(nil), authority...)
	return v.writeTokenMetadata(normalized, meta)
}

// SetTokenMintPaused stores the paused state for the given token.
func (v *View) SetTokenMintPaused(symbol string, paused bool) error {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	meta, err := v.loadTokenMetadata(normalized)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("token %s not registered", normalized)
	}
	meta.MintPaused = paused
	return v.writeTokenMetadata(normalized, meta)
}

// Token retrieves metadata for a registered token.
func (v *View) Token(symbol string) (*TokenMetadata, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	return v.loadTokenMetadata(normalized)
}

// TokenList returns all registered token symbols in sorted order.
func (v *View) TokenList() ([]string, error) {
	return v.loadTokenList()
}

// TokenExists reports whether the provided token symbol is registered.
func (v *View) TokenExists(symbol string) bool {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return false
	}
	meta, err := v.loadTokenMetadata(normalized)
	if err != nil || meta == nil {
		return false
	}
	return true
}

// SetBalance stores an account balance for the provided token.
func (v *View) SetBalance(addr []byte, symbol string, amount *big.Int) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if meta, err := v.loadTokenMetadata(normalized); err != nil {
		return err
	} else if meta == nil {
		return fmt.Errorf("token %s not registered", normalized)
	}

	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return v.store.Put(balanceKey(addr, normalized), encoded)
}

// Balance retrieves a token balance for the provided account and token.
// Missing entries default to zero.
func (v *View) Balance(addr []byte, symbol string) (*big.Int, error) {
	data, err := v.getRecord(balanceKey(addr, strings.ToUpper(strings.TrimSpace(symbol))))
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

// SetAllowance stores the amount a spender may pull from an owner's balance.
// A zero amount clears the entry.
func (v *View) SetAllowance(owner, spender []byte, symbol string, amount *big.Int) error {
	if len(owner) == 0 || len(spender) == 0 {
		return fmt.Errorf("owner and spender must not be empty")
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative allowance not allowed")
	}
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	key := allowanceKey(owner, spender, normalized)
	if amount.Sign() == 0 {
		return v.store.Delete(key)
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return v.store.Put(key, encoded)
}

// Allowance retrieves the approved spending amount. Missing entries default
// to zero.
func (v *View) Allowance(owner, spender []byte, symbol string) (*big.Int, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	data, err := v.getRecord(allowanceKey(owner, spender, normalized))
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

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 to keep the key space uniform.
func (v *View) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return v.store.Put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the
// key existed in state.
func (v *View) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := v.getRecord(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}
