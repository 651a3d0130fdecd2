package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"stabled/crypto"
)

var rpcEndpoint = defaultRPCEndpoint()
var rpcAuthToken = os.Getenv("STABLE_RPC_TOKEN")
var rpcAdminToken = os.Getenv("STABLE_ADMIN_TOKEN")

func defaultRPCEndpoint() string {
	if url := strings.TrimSpace(os.Getenv("STABLE_RPC_URL")); url != "" {
		return url
	}
	return "http://localhost:8545"
}

func main() {
	args := os.Args[1:]
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	args = args[1:]
	switch command {
	case "generate-key":
		generateKey(args)
	case "deposit":
		requireArgs(args, 3, "deposit <from> <asset> <amount>")
		runTx("collateral_depositCollateral", map[string]string{
			"from": args[0], "asset": args[1], "amount": args[2],
		})
	case "mint":
		requireArgs(args, 2, "mint <from> <amount>")
		runTx("collateral_mintDsc", map[string]string{
			"from": args[0], "amount": args[1],
		})
	case "redeem":
		requireArgs(args, 3, "redeem <from> <asset> <amount>")
		runTx("collateral_redeemCollateral", map[string]string{
			"from": args[0], "asset": args[1], "amount": args[2],
		})
	case "burn":
		requireArgs(args, 2, "burn <from> <amount>")
		runTx("collateral_burnDsc", map[string]string{
			"from": args[0], "amount": args[1],
		})
	case "deposit-mint":
		requireArgs(args, 4, "deposit-mint <from> <asset> <depositAmount> <mintAmount>")
		runTx("collateral_depositAndMint", map[string]string{
			"from": args[0], "asset": args[1], "depositAmount": args[2], "mintAmount": args[3],
		})
	case "redeem-burn":
		requireArgs(args, 4, "redeem-burn <from> <asset> <redeemAmount> <burnAmount>")
		runTx("collateral_redeemForDsc", map[string]string{
			"from": args[0], "asset": args[1], "redeemAmount": args[2], "burnAmount": args[3],
		})
	case "liquidate":
		requireArgs(args, 4, "liquidate <liquidator> <account> <asset> <debtToCover>")
		runTx("collateral_liquidate", map[string]string{
			"liquidator": args[0], "account": args[1], "asset": args[2], "debtToCover": args[3],
		})
	case "account":
		requireArgs(args, 1, "account <address>")
		runQuery("collateral_getAccountInformation", map[string]string{"address": args[0]})
	case "health":
		requireArgs(args, 1, "health <address>")
		runQuery("collateral_healthFactor", map[string]string{"address": args[0]})
	case "collateral":
		requireArgs(args, 2, "collateral <address> <asset>")
		runQuery("collateral_getCollateralBalanceOfUser", map[string]string{
			"address": args[0], "asset": args[1],
		})
	case "usd-value":
		requireArgs(args, 2, "usd-value <asset> <amount>")
		runQuery("collateral_getUsdValue", map[string]string{
			"asset": args[0], "amount": args[1],
		})
	case "config":
		runQueryNoParams("collateral_getConfiguration")
	case "balance":
		requireArgs(args, 2, "balance <address> <symbol>")
		runQuery("token_getBalance", map[string]string{
			"address": args[0], "symbol": args[1],
		})
	case "supply":
		requireArgs(args, 1, "supply <symbol>")
		runQuery("token_getSupply", map[string]string{"symbol": args[0]})
	case "approve":
		requireArgs(args, 4, "approve <owner> <spender> <symbol> <amount>")
		runTx("token_approve", map[string]string{
			"owner": args[0], "spender": args[1], "symbol": args[2], "amount": args[3],
		})
	case "price":
		requireArgs(args, 1, "price <asset>")
		runQuery("oracle_latestPrice", map[string]string{"asset": args[0]})
	case "feeds":
		runQueryNoParams("oracle_listFeeds")
	case "set-price":
		requireArgs(args, 2, "set-price <asset> <price>")
		runAdmin("oracle_setPrice", map[string]string{
			"asset": args[0], "price": args[1],
		})
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func printUsage() {
	fmt.Println("Usage: stable-cli [--rpc <url>] <command> [args...]")
	fmt.Println("\nKeys:")
	fmt.Println("  generate-key [file]                                     Generate a key and save it to an encrypted keystore")
	fmt.Println("\nCollateral:")
	fmt.Println("  deposit <from> <asset> <amount>                         Deposit collateral")
	fmt.Println("  mint <from> <amount>                                    Mint stable tokens against collateral")
	fmt.Println("  redeem <from> <asset> <amount>                          Redeem collateral")
	fmt.Println("  burn <from> <amount>                                    Burn stable tokens to repay debt")
	fmt.Println("  deposit-mint <from> <asset> <deposit> <mint>            Deposit and mint in one operation")
	fmt.Println("  redeem-burn <from> <asset> <redeem> <burn>              Burn then redeem in one operation")
	fmt.Println("  liquidate <liquidator> <account> <asset> <debt>         Liquidate an unhealthy position")
	fmt.Println("  account <address>                                       Debt and collateral value of an account")
	fmt.Println("  health <address>                                        Health factor of an account")
	fmt.Println("  collateral <address> <asset>                            Deposited collateral balance")
	fmt.Println("  usd-value <asset> <amount>                              USD value of a token amount")
	fmt.Println("  config                                                  Engine configuration")
	fmt.Println("\nTokens:")
	fmt.Println("  balance <address> <symbol>                              Wallet token balance")
	fmt.Println("  supply <symbol>                                         Total token supply")
	fmt.Println("  approve <owner> <spender> <symbol> <amount>             Set a spending allowance")
	fmt.Println("\nOracle:")
	fmt.Println("  price <asset>                                           Latest price quote")
	fmt.Println("  feeds                                                   Supported assets")
	fmt.Println("  set-price <asset> <price>                               Manual price override (admin)")
	fmt.Println("\nEnvironment: STABLE_RPC_URL, STABLE_RPC_TOKEN, STABLE_ADMIN_TOKEN")
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--rpc":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--rpc requires a URL argument")
			}
			rpcEndpoint = args[i+1]
			i++
		default:
			out = append(out, args[i])
		}
	}
	return out, nil
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "Usage: stable-cli %s\n", usage)
		os.Exit(1)
	}
}

func generateKey(args []string) {
	path := "wallet.key"
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		path = args[0]
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating key: %v\n", err)
		os.Exit(1)
	}
	passphrase, err := readPassphrase()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading passphrase: %v\n", err)
		os.Exit(1)
	}
	if err := crypto.SaveToKeystore(path, key, passphrase); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving keystore: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("New key saved to %s\n", path)
	fmt.Printf("Address: %s\n", key.PubKey().Address().String())
}

func readPassphrase() (string, error) {
	fmt.Print("Keystore passphrase: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	fmt.Print("Repeat passphrase: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	if !bytes.Equal(first, second) {
		return "", fmt.Errorf("passphrases do not match")
	}
	if len(first) == 0 {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	return string(first), nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func runTx(method string, params map[string]string) {
	callRPC(method, params, rpcAuthToken)
}

func runAdmin(method string, params map[string]string) {
	callRPC(method, params, rpcAdminToken)
}

func runQuery(method string, params map[string]string) {
	callRPC(method, params, "")
}

func runQueryNoParams(method string) {
	callRPC(method, nil, "")
}

func callRPC(method string, params map[string]string, bearer string) {
	reqParams := []interface{}{}
	if params != nil {
		reqParams = append(reqParams, params)
	}
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  reqParams,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding request: %v\n", err)
		os.Exit(1)
	}

	httpReq, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(payload))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building request: %v\n", err)
		os.Exit(1)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error contacting node at %s: %v\n", rpcEndpoint, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading response: %v\n", err)
		os.Exit(1)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding response: %v (%s)\n", err, strings.TrimSpace(string(body)))
		os.Exit(1)
	}
	if decoded.Error != nil {
		fmt.Fprintf(os.Stderr, "RPC error %d: %s", decoded.Error.Code, decoded.Error.Message)
		if decoded.Error.Data != nil {
			fmt.Fprintf(os.Stderr, " (%v)", decoded.Error.Data)
		}
		fmt.Fprintln(os.Stderr)
		os.Exit(1)
	}

	pretty := &bytes.Buffer{}
	if err := json.Indent(pretty, decoded.Result, "", "  "); err != nil {
		fmt.Println(string(decoded.Result))
		return
	}
	fmt.Println(pretty.String())
}
