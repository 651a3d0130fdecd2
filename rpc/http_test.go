package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"stabled/core/events"
	"stabled/core/state"
	"stabled/crypto"
	"stabled/native/collateral"
	"stabled/native/oracle"
	"stabled/storage"
)

const (
	testAuthToken = "test-rpc-token"
	testJWTSecret = "test-jwt-secret"
)

var wad = big.NewInt(1_000_000_000_000_000_000)

func wadUnits(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), wad)
}

func testAddr(b byte) crypto.Address {
	buf := make([]byte, 20)
	for i := range buf {
		buf[i] = b
	}
	return crypto.MustNewAddress(buf)
}

type testEnv struct {
	server *Server
	bus    *events.Bus
	user   crypto.Address
}

// newTestEnv builds a memory-backed server with WETH at $2000 and one funded,
// pre-approved account.
func newTestEnv(t *testing.T) *testEnv {
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
	engine, err := collateral.NewEngine(manager, resolver, collateral.Config{
		CollateralAssets: []string{"WETH"},
		PriceFeeds:       []string{"manual"},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	bus := events.NewBus()
	engine.SetEmitter(bus)

	if err := manager.RegisterToken("WETH", "Wrapped Ether", 18); err != nil {
		t.Fatalf("register WETH: %v", err)
	}
	if err := manager.RegisterToken("DSC", "Decentralized Stable Coin", 18); err != nil {
		t.Fatalf("register DSC: %v", err)
	}
	if err := manager.SetTokenMintAuthority("DSC", engine.ModuleAddress().Bytes()); err != nil {
		t.Fatalf("set mint authority: %v", err)
	}

	user := testAddr(0xA1)
	if err := manager.SetBalance(user.Bytes(), "WETH", wadUnits(100)); err != nil {
		t.Fatalf("fund account: %v", err)
	}
	if err := manager.SetAllowance(user.Bytes(), engine.ModuleAddress().Bytes(), "WETH", wadUnits(1_000_000)); err != nil {
		t.Fatalf("approve engine: %v", err)
	}

	server := NewServer(engine, manager, resolver, feed, bus, nil, Config{
		AuthToken:           testAuthToken,
		JWTSecret:           []byte(testJWTSecret),
		TxRequestsPerMinute: 600,
		TxBurst:             100,
	})
	return &testEnv{server: server, bus: bus, user: user}
}

func (env *testEnv) call(t *testing.T, method string, params interface{}, headers map[string]string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	payload := map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.server.handleRPC(rec, req)

	var resp response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return rec, resp
}

func authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testAuthToken}
}

func resultMap(t *testing.T, resp response) map[string]interface{} {
	t.Helper()
	encoded, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-marshal result: %v", err)
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(encoded, &out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return out
}

func TestHandleRPCMethodNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec, resp := env.call(t, "collateral_unknown", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestHandleRPCRejectsMalformedJSON(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.server.handleRPC(rec, req)

	var resp response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", resp.Error)
	}
}

func TestTxMethodRequiresBearerToken(t *testing.T) {
	env := newTestEnv(t)
	rec, resp := env.call(t, "collateral_depositCollateral", map[string]string{
		"from":   env.user.String(),
		"asset":  "WETH",
		"amount": wadUnits(1).String(),
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", resp.Error)
	}
}

func TestTxMethodRejectsWrongToken(t *testing.T) {
	env := newTestEnv(t)
	_, resp := env.call(t, "collateral_depositCollateral", map[string]string{
		"from":   env.user.String(),
		"asset":  "WETH",
		"amount": wadUnits(1).String(),
	}, map[string]string{"Authorization": "Bearer wrong"})
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", resp.Error)
	}
}

func TestDepositAndQueryRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	_, resp := env.call(t, "collateral_depositCollateral", map[string]string{
		"from":   env.user.String(),
		"asset":  "WETH",
		"amount": wadUnits(10).String(),
	}, authHeaders())
	if resp.Error != nil {
		t.Fatalf("deposit failed: %+v", resp.Error)
	}
	result := resultMap(t, resp)
	if receipt, _ := result["receipt"].(string); receipt == "" {
		t.Fatalf("expected non-empty receipt, got %v", result)
	}

	_, resp = env.call(t, "collateral_getCollateralBalanceOfUser", map[string]string{
		"address": env.user.String(),
		"asset":   "WETH",
	}, nil)
	if resp.Error != nil {
		t.Fatalf("query failed: %+v", resp.Error)
	}
	balance := resultMap(t, resp)["balance"]
	if balance != wadUnits(10).String() {
		t.Fatalf("expected balance %s, got %v", wadUnits(10), balance)
	}
}

func TestDepositAndMintReportsAccountInformation(t *testing.T) {
	env := newTestEnv(t)
	_, resp := env.call(t, "collateral_depositAndMint", map[string]string{
		"from":          env.user.String(),
		"asset":         "WETH",
		"depositAmount": wadUnits(10).String(),
		"mintAmount":    wadUnits(5000).String(),
	}, authHeaders())
	if resp.Error != nil {
		t.Fatalf("deposit and mint failed: %+v", resp.Error)
	}

	_, resp = env.call(t, "collateral_getAccountInformation", map[string]string{
		"address": env.user.String(),
	}, nil)
	if resp.Error != nil {
		t.Fatalf("account information failed: %+v", resp.Error)
	}
	result := resultMap(t, resp)
	if result["debtMinted"] != wadUnits(5000).String() {
		t.Fatalf("expected debt %s, got %v", wadUnits(5000), result["debtMinted"])
	}
	// 10 WETH at $2000 = $20,000 in 18-decimal USD terms.
	if result["collateralValueUsd"] != wadUnits(20_000).String() {
		t.Fatalf("expected collateral value %s, got %v", wadUnits(20_000), result["collateralValueUsd"])
	}
}

func TestMintBreakingHealthFactorMapsToModuleError(t *testing.T) {
	env := newTestEnv(t)
	_, resp := env.call(t, "collateral_depositCollateral", map[string]string{
		"from":   env.user.String(),
		"asset":  "WETH",
		"amount": wadUnits(1).String(),
	}, authHeaders())
	if resp.Error != nil {
		t.Fatalf("deposit failed: %+v", resp.Error)
	}

	// 1 WETH at $2000 with a 50% threshold supports at most $1000 of debt.
	rec, resp := env.call(t, "collateral_mintDsc", map[string]string{
		"from":   env.user.String(),
		"amount": wadUnits(1500).String(),
	}, authHeaders())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeModuleError {
		t.Fatalf("expected module error, got %+v", resp.Error)
	}
	if resp.Error.Data != "BreaksHealthFactor" {
		t.Fatalf("expected BreaksHealthFactor sentinel, got %v", resp.Error.Data)
	}
}

func TestZeroAmountRejectedWithSentinel(t *testing.T) {
	env := newTestEnv(t)
	_, resp := env.call(t, "collateral_depositCollateral", map[string]string{
		"from":   env.user.String(),
		"asset":  "WETH",
		"amount": "0",
	}, authHeaders())
	if resp.Error == nil || resp.Error.Code != codeModuleError {
		t.Fatalf("expected module error, got %+v", resp.Error)
	}
	if resp.Error.Data != "NeedsMoreThanZero" {
		t.Fatalf("expected NeedsMoreThanZero sentinel, got %v", resp.Error.Data)
	}
}

func TestUnapprovedAssetRejectedWithSentinel(t *testing.T) {
	env := newTestEnv(t)
	_, resp := env.call(t, "collateral_depositCollateral", map[string]string{
		"from":   env.user.String(),
		"asset":  "DOGE",
		"amount": wadUnits(1).String(),
	}, authHeaders())
	if resp.Error == nil || resp.Error.Data != "NotAllowedToken" {
		t.Fatalf("expected NotAllowedToken sentinel, got %+v", resp.Error)
	}
}

func TestHealthFactorInfiniteWithoutDebt(t *testing.T) {
	env := newTestEnv(t)
	_, resp := env.call(t, "collateral_healthFactor", map[string]string{
		"address": env.user.String(),
	}, nil)
	if resp.Error != nil {
		t.Fatalf("health factor failed: %+v", resp.Error)
	}
	result := resultMap(t, resp)
	if infinite, _ := result["infinite"].(bool); !infinite {
		t.Fatalf("expected infinite health factor, got %v", result)
	}
}

func TestGetUsdValue(t *testing.T) {
	env := newTestEnv(t)
	_, resp := env.call(t, "collateral_getUsdValue", map[string]string{
		"asset":  "WETH",
		"amount": wadUnits(3).String(),
	}, nil)
	if resp.Error != nil {
		t.Fatalf("usd value failed: %+v", resp.Error)
	}
	if got := resultMap(t, resp)["usdValue"]; got != wadUnits(6000).String() {
		t.Fatalf("expected 6000 USD, got %v", got)
	}
}

func TestGetConfiguration(t *testing.T) {
	env := newTestEnv(t)
	_, resp := env.call(t, "collateral_getConfiguration", nil, nil)
	if resp.Error != nil {
		t.Fatalf("configuration failed: %+v", resp.Error)
	}
	result := resultMap(t, resp)
	if result["stableSymbol"] != "DSC" {
		t.Fatalf("expected DSC stable symbol, got %v", result["stableSymbol"])
	}
	if result["minHealthFactor"] != wad.String() {
		t.Fatalf("expected min health factor %s, got %v", wad, result["minHealthFactor"])
	}
}

func TestTokenApproveRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.call(t, "token_approve", map[string]string{
		"owner":   env.user.String(),
		"spender": env.user.String(),
		"symbol":  "WETH",
		"amount":  "1",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestTokenBalanceQuery(t *testing.T) {
	env := newTestEnv(t)
	_, resp := env.call(t, "token_getBalance", map[string]string{
		"address": env.user.String(),
		"symbol":  "WETH",
	}, nil)
	if resp.Error != nil {
		t.Fatalf("balance query failed: %+v", resp.Error)
	}
	if got := resultMap(t, resp)["balance"]; got != wadUnits(100).String() {
		t.Fatalf("expected 100 WETH, got %v", got)
	}
}

func TestOracleLatestPrice(t *testing.T) {
	env := newTestEnv(t)
	_, resp := env.call(t, "oracle_latestPrice", map[string]string{"asset": "WETH"}, nil)
	if resp.Error != nil {
		t.Fatalf("latest price failed: %+v", resp.Error)
	}
	result := resultMap(t, resp)
	if result["price"] != "200000000000" {
		t.Fatalf("expected raw price 200000000000, got %v", result["price"])
	}
}

func TestOracleSetPriceRequiresScope(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.call(t, "oracle_setPrice", map[string]string{
		"asset": "WETH",
		"price": "210000000000",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	// A token signed with the right secret but the wrong scope is rejected.
	wrongScope := signTestJWT(t, "token:read")
	rec, _ = env.call(t, "oracle_setPrice", map[string]string{
		"asset": "WETH",
		"price": "210000000000",
	}, map[string]string{"Authorization": "Bearer " + wrongScope})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong scope, got %d", rec.Code)
	}

	granted := signTestJWT(t, "oracle:write")
	_, resp := env.call(t, "oracle_setPrice", map[string]string{
		"asset": "WETH",
		"price": "210000000000",
	}, map[string]string{"Authorization": "Bearer " + granted})
	if resp.Error != nil {
		t.Fatalf("set price failed: %+v", resp.Error)
	}

	_, resp = env.call(t, "oracle_latestPrice", map[string]string{"asset": "WETH"}, nil)
	if resp.Error != nil {
		t.Fatalf("latest price failed: %+v", resp.Error)
	}
	if got := resultMap(t, resp)["price"]; got != "210000000000" {
		t.Fatalf("expected updated price, got %v", got)
	}
}

func signTestJWT(t *testing.T, scope string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"scope": scope,
		"exp":   time.Now().Add(time.Minute).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestTxRateLimitPerSource(t *testing.T) {
	env := newTestEnv(t)
	env.server.cfg.TxRequestsPerMinute = 60
	env.server.cfg.TxBurst = 2

	payload := map[string]string{
		"from":   env.user.String(),
		"asset":  "WETH",
		"amount": wadUnits(1).String(),
	}
	var limited bool
	for i := 0; i < 5; i++ {
		rec, resp := env.call(t, "collateral_depositCollateral", payload, authHeaders())
		if rec.Code == http.StatusTooManyRequests {
			if resp.Error == nil || resp.Error.Code != codeRateLimited {
				t.Fatalf("expected rate limit error, got %+v", resp.Error)
			}
			limited = true
			break
		}
	}
	if !limited {
		t.Fatalf("expected a rate-limited response within the burst window")
	}

	// A different source gets its own limiter.
	body, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": jsonRPCVersion, "id": 1,
		"method": "collateral_getConfiguration", "params": []interface{}{},
	})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.RemoteAddr = "198.51.100.7:4100"
	rec := httptest.NewRecorder()
	env.server.handleRPC(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected fresh source to pass, got %d", rec.Code)
	}
}

func TestClientSourcePrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if source := clientSource(req); source != "203.0.113.9" {
		t.Fatalf("expected forwarded client, got %q", source)
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	if source := clientSource(req); source != "10.0.0.5" {
		t.Fatalf("expected remote host, got %q", source)
	}
}

func TestOperationReceiptStableAcrossAttributeOrder(t *testing.T) {
	a := operationReceipt("collateral_depositCollateral", 7, map[string]string{
		"from": "stb1x", "asset": "WETH", "amount": "10",
	})
	b := operationReceipt("collateral_depositCollateral", 7, map[string]string{
		"amount": "10", "asset": "WETH", "from": "stb1x",
	})
	if a == "" || a != b {
		t.Fatalf("expected identical receipts, got %q and %q", a, b)
	}
	c := operationReceipt("collateral_depositCollateral", 8, map[string]string{
		"from": "stb1x", "asset": "WETH", "amount": "10",
	})
	if a == c {
		t.Fatalf("expected sequence to change the receipt")
	}
}

func TestDepositEmitsStreamEvent(t *testing.T) {
	env := newTestEnv(t)
	before := env.bus.LastSequence()
	_, resp := env.call(t, "collateral_depositCollateral", map[string]string{
		"from":   env.user.String(),
		"asset":  "WETH",
		"amount": wadUnits(2).String(),
	}, authHeaders())
	if resp.Error != nil {
		t.Fatalf("deposit failed: %+v", resp.Error)
	}
	if env.bus.LastSequence() <= before {
		t.Fatalf("expected the deposit to emit an event")
	}
	_, cancel, backlog, err := env.bus.Subscribe(nil, before)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	if len(backlog) == 0 {
		t.Fatalf("expected backlog after cursor %d", before)
	}
	found := false
	for _, evt := range backlog {
		if strings.Contains(evt.Type, "deposit") {
			found = true
		}
	}
	if !found {
		types := make([]string, 0, len(backlog))
		for _, evt := range backlog {
			types = append(types, evt.Type)
		}
		t.Fatalf("expected a deposit event, got %s", fmt.Sprint(types))
	}
}
