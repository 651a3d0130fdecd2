package crypto

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address()
	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(StablePrefix)+"1") {
		t.Fatalf("encoded address %q missing %s prefix", encoded, StablePrefix)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode address: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), addr.Bytes()) {
		t.Fatalf("round trip mismatch: %x != %x", decoded.Bytes(), addr.Bytes())
	}
}

func TestDecodeAddressRejectsForeignPrefix(t *testing.T) {
	if _, err := DecodeAddress("nhb1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq8l0cuv"); err == nil {
		t.Fatalf("expected foreign prefix to be rejected")
	}
	if _, err := DecodeAddress("not-bech32"); err == nil {
		t.Fatalf("expected malformed string to be rejected")
	}
}

func TestModuleAddressDeterministic(t *testing.T) {
	a := ModuleAddress("collateral-engine")
	b := ModuleAddress("collateral-engine")
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatalf("module address must be deterministic")
	}
	other := ModuleAddress("treasury")
	if bytes.Equal(a.Bytes(), other.Bytes()) {
		t.Fatalf("distinct labels must yield distinct addresses")
	}
	if a.IsZero() {
		t.Fatalf("module address must not be zero")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "operator.json")
	if err := SaveToKeystore(path, key, "hunter2"); err != nil {
		t.Fatalf("save keystore: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "hunter2")
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	if !bytes.Equal(loaded.Bytes(), key.Bytes()) {
		t.Fatalf("keystore round trip mismatch")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
