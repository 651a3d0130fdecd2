package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"stabled/core/events"
	"stabled/core/state"
	"stabled/native/collateral"
	"stabled/native/oracle"
	"stabled/native/token"
	"stabled/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32603
	codeUnauthorized   = -32001
	codeModuleError    = -32010
	codeRateLimited    = -32020
)

// Config carries the RPC server settings resolved by the daemon.
type Config struct {
	// AuthToken is the static bearer token required by transaction methods.
	// Empty leaves transaction methods disabled.
	AuthToken string
	// JWTSecret signs admin-method tokens with HMAC. Empty leaves admin
	// methods disabled.
	JWTSecret []byte
	// TxRequestsPerMinute and TxBurst bound transaction methods per source.
	TxRequestsPerMinute float64
	TxBurst             int
}

// Server exposes the collateral engine, the token ledger, and the oracle over
// JSON-RPC 2.0, plus a websocket event stream and prometheus metrics.
type Server struct {
	engine   *collateral.Engine
	state    *state.Manager
	tokens   *token.Ledger
	resolver *oracle.Resolver
	manual   *oracle.ManualFeed
	bus      *events.Bus
	log      *slog.Logger
	metrics  *observability.EngineMetrics

	cfg Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer wires the RPC surface. The manual feed may be nil when the node
// runs without an operator override source; oracle_setPrice then rejects.
func NewServer(engine *collateral.Engine, manager *state.Manager, resolver *oracle.Resolver, manual *oracle.ManualFeed, bus *events.Bus, logger *slog.Logger, cfg Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TxRequestsPerMinute <= 0 {
		cfg.TxRequestsPerMinute = 60
	}
	if cfg.TxBurst <= 0 {
		cfg.TxBurst = 10
	}
	return &Server{
		engine:   engine,
		state:    manager,
		tokens:   token.NewLedger(manager),
		resolver: resolver,
		manual:   manual,
		bus:      bus,
		log:      logger,
		metrics:  observability.Engine(),
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Handler builds the HTTP mux: JSON-RPC on POST /, the event stream on /ws,
// health and metrics endpoints.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/", s.handleRPC)
	r.Get("/ws", s.handleWS)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return otelhttp.NewHandler(r, "rpc")
}

// Start serves the handler until the listener fails or the server is shut
// down by the caller owning the http.Server.
func (s *Server) Start(addr string) error {
	s.log.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

type request struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error is the JSON-RPC error envelope.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &Error{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(response{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(response{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() { _ = reader.Close() }()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &request{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	switch req.Method {
	case "collateral_depositCollateral":
		s.handleTx(w, r, req, "deposit", s.handleDepositCollateral)
	case "collateral_mintDsc":
		s.handleTx(w, r, req, "mint", s.handleMintDSC)
	case "collateral_redeemCollateral":
		s.handleTx(w, r, req, "redeem", s.handleRedeemCollateral)
	case "collateral_burnDsc":
		s.handleTx(w, r, req, "burn", s.handleBurnDSC)
	case "collateral_depositAndMint":
		s.handleTx(w, r, req, "deposit_and_mint", s.handleDepositAndMint)
	case "collateral_redeemForDsc":
		s.handleTx(w, r, req, "redeem_for_dsc", s.handleRedeemForDSC)
	case "collateral_liquidate":
		s.handleTx(w, r, req, "liquidate", s.handleLiquidate)
	case "collateral_getUsdValue":
		s.handleGetUsdValue(w, req)
	case "collateral_getTokenAmountFromUsd":
		s.handleGetTokenAmountFromUsd(w, req)
	case "collateral_getAccountInformation":
		s.handleGetAccountInformation(w, req)
	case "collateral_getCollateralBalanceOfUser":
		s.handleGetCollateralBalance(w, req)
	case "collateral_healthFactor":
		s.handleHealthFactor(w, req)
	case "collateral_isLiquidatable":
		s.handleIsLiquidatable(w, req)
	case "collateral_getConfiguration":
		s.handleGetConfiguration(w, req)
	case "token_getBalance":
		s.handleTokenGetBalance(w, req)
	case "token_getSupply":
		s.handleTokenGetSupply(w, req)
	case "token_getAllowance":
		s.handleTokenGetAllowance(w, req)
	case "token_approve":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleTokenApprove(w, req)
	case "oracle_latestPrice":
		s.handleOracleLatestPrice(w, req)
	case "oracle_listFeeds":
		s.handleOracleListFeeds(w, req)
	case "oracle_setPrice":
		if authErr := s.requireScope(r, "oracle:write"); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleOracleSetPrice(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

// handleTx gates a state-changing method behind bearer auth and the
// per-source rate limit, then records the outcome in the engine metrics.
func (s *Server) handleTx(w http.ResponseWriter, r *http.Request, req *request, op string, handler func(*request) (interface{}, *Error)) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	if !s.allowSource(clientSource(r)) {
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "transaction rate limit exceeded", nil)
		return
	}

	started := time.Now()
	result, rpcErr := handler(req)
	if rpcErr != nil {
		s.metrics.ObserveOperation(op, errors.New(rpcErr.Message), time.Since(started))
		status := http.StatusBadRequest
		if rpcErr.Code == codeServerError {
			status = http.StatusInternalServerError
		}
		writeError(w, status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	s.metrics.ObserveOperation(op, nil, time.Since(started))
	writeResult(w, req.ID, result)
}

func (s *Server) requireAuth(r *http.Request) *Error {
	if strings.TrimSpace(s.cfg.AuthToken) == "" {
		return &Error{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &Error{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &Error{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	tok := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if tok == "" {
		return &Error{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(tok), []byte(s.cfg.AuthToken)) != 1 {
		return &Error{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.TxRequestsPerMinute/60.0), s.cfg.TxBurst)
		s.limiters[source] = limiter
	}
	return limiter.Allow()
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
