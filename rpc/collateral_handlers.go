package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"stabled/crypto"
	"stabled/native/collateral"
)

type depositParams struct {
	From   string `json:"from"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type mintParams struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type redeemParams struct {
	From   string `json:"from"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type burnParams struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type depositAndMintParams struct {
	From          string `json:"from"`
	Asset         string `json:"asset"`
	DepositAmount string `json:"depositAmount"`
	MintAmount    string `json:"mintAmount"`
}

type redeemForDscParams struct {
	From         string `json:"from"`
	Asset        string `json:"asset"`
	RedeemAmount string `json:"redeemAmount"`
	BurnAmount   string `json:"burnAmount"`
}

type liquidateParams struct {
	Liquidator  string `json:"liquidator"`
	Account     string `json:"account"`
	Asset       string `json:"asset"`
	DebtToCover string `json:"debtToCover"`
}

type txResult struct {
	Receipt string `json:"receipt"`
}

type liquidateResult struct {
	Receipt          string `json:"receipt"`
	CollateralSeized string `json:"collateralSeized"`
}

type accountInformationResult struct {
	Address            string `json:"address"`
	DebtMinted         string `json:"debtMinted"`
	CollateralValueUsd string `json:"collateralValueUsd"`
}

type healthFactorResult struct {
	Address      string `json:"address"`
	HealthFactor string `json:"healthFactor"`
	Infinite     bool   `json:"infinite"`
}

type usdValueResult struct {
	Asset    string `json:"asset"`
	UsdValue string `json:"usdValue"`
}

type tokenAmountResult struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type collateralBalanceResult struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

type configurationResult struct {
	CollateralAssets        []string `json:"collateralAssets"`
	PriceFeeds              []string `json:"priceFeeds"`
	StableSymbol            string   `json:"stableSymbol"`
	LiquidationThresholdBps uint64   `json:"liquidationThresholdBps"`
	LiquidationBonusBps     uint64   `json:"liquidationBonusBps"`
	MinHealthFactor         string   `json:"minHealthFactor"`
}

func decodeParams(req *request, out interface{}) *Error {
	if len(req.Params) != 1 {
		return &Error{Code: codeInvalidParams, Message: "expected a single parameter object"}
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return &Error{Code: codeInvalidParams, Message: "invalid parameter object", Data: err.Error()}
	}
	return nil
}

func parseAddressParam(field, raw string) (crypto.Address, *Error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, &Error{Code: codeInvalidParams, Message: field + " must be a bech32 address", Data: err.Error()}
	}
	return addr, nil
}

func parseAmountParam(field, raw string) (*big.Int, *Error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, &Error{Code: codeInvalidParams, Message: field + " must be a base-10 integer"}
	}
	return amount, nil
}

func (s *Server) txReceipt(method string, attrs map[string]string) string {
	var seq uint64
	if s.bus != nil {
		seq = s.bus.LastSequence()
	}
	return operationReceipt(method, seq, attrs)
}

func (s *Server) handleDepositCollateral(req *request) (interface{}, *Error) {
	var params depositParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	from, rpcErr := parseAddressParam("from", params.From)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmountParam("amount", params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.DepositCollateral(from, params.Asset, amount); err != nil {
		return nil, moduleError(err)
	}
	return txResult{Receipt: s.txReceipt(req.Method, map[string]string{
		"from":   params.From,
		"asset":  strings.ToUpper(strings.TrimSpace(params.Asset)),
		"amount": amount.String(),
	})}, nil
}

func (s *Server) handleMintDSC(req *request) (interface{}, *Error) {
	var params mintParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	from, rpcErr := parseAddressParam("from", params.From)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmountParam("amount", params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.MintDSC(from, amount); err != nil {
		return nil, moduleError(err)
	}
	return txResult{Receipt: s.txReceipt(req.Method, map[string]string{
		"from":   params.From,
		"amount": amount.String(),
	})}, nil
}

func (s *Server) handleRedeemCollateral(req *request) (interface{}, *Error) {
	var params redeemParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	from, rpcErr := parseAddressParam("from", params.From)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmountParam("amount", params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.RedeemCollateral(from, params.Asset, amount); err != nil {
		return nil, moduleError(err)
	}
	return txResult{Receipt: s.txReceipt(req.Method, map[string]string{
		"from":   params.From,
		"asset":  strings.ToUpper(strings.TrimSpace(params.Asset)),
		"amount": amount.String(),
	})}, nil
}

func (s *Server) handleBurnDSC(req *request) (interface{}, *Error) {
	var params burnParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	from, rpcErr := parseAddressParam("from", params.From)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmountParam("amount", params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.BurnDSC(from, amount); err != nil {
		return nil, moduleError(err)
	}
	return txResult{Receipt: s.txReceipt(req.Method, map[string]string{
		"from":   params.From,
		"amount": amount.String(),
	})}, nil
}

func (s *Server) handleDepositAndMint(req *request) (interface{}, *Error) {
	var params depositAndMintParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	from, rpcErr := parseAddressParam("from", params.From)
	if rpcErr != nil {
		return nil, rpcErr
	}
	depositAmount, rpcErr := parseAmountParam("depositAmount", params.DepositAmount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	mintAmount, rpcErr := parseAmountParam("mintAmount", params.MintAmount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.DepositCollateralAndMintDSC(from, params.Asset, depositAmount, mintAmount); err != nil {
		return nil, moduleError(err)
	}
	return txResult{Receipt: s.txReceipt(req.Method, map[string]string{
		"from":          params.From,
		"asset":         strings.ToUpper(strings.TrimSpace(params.Asset)),
		"depositAmount": depositAmount.String(),
		"mintAmount":    mintAmount.String(),
	})}, nil
}

func (s *Server) handleRedeemForDSC(req *request) (interface{}, *Error) {
	var params redeemForDscParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	from, rpcErr := parseAddressParam("from", params.From)
	if rpcErr != nil {
		return nil, rpcErr
	}
	redeemAmount, rpcErr := parseAmountParam("redeemAmount", params.RedeemAmount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	burnAmount, rpcErr := parseAmountParam("burnAmount", params.BurnAmount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.RedeemCollateralForDSC(from, params.Asset, redeemAmount, burnAmount); err != nil {
		return nil, moduleError(err)
	}
	return txResult{Receipt: s.txReceipt(req.Method, map[string]string{
		"from":         params.From,
		"asset":        strings.ToUpper(strings.TrimSpace(params.Asset)),
		"redeemAmount": redeemAmount.String(),
		"burnAmount":   burnAmount.String(),
	})}, nil
}

func (s *Server) handleLiquidate(req *request) (interface{}, *Error) {
	var params liquidateParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	liquidator, rpcErr := parseAddressParam("liquidator", params.Liquidator)
	if rpcErr != nil {
		return nil, rpcErr
	}
	account, rpcErr := parseAddressParam("account", params.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	debtToCover, rpcErr := parseAmountParam("debtToCover", params.DebtToCover)
	if rpcErr != nil {
		return nil, rpcErr
	}
	seized, err := s.engine.Liquidate(liquidator, account, params.Asset, debtToCover)
	if err != nil {
		return nil, moduleError(err)
	}
	return liquidateResult{
		Receipt: s.txReceipt(req.Method, map[string]string{
			"liquidator":  params.Liquidator,
			"account":     params.Account,
			"asset":       strings.ToUpper(strings.TrimSpace(params.Asset)),
			"debtToCover": debtToCover.String(),
			"seized":      seized.String(),
		}),
		CollateralSeized: seized.String(),
	}, nil
}

func (s *Server) handleGetUsdValue(w http.ResponseWriter, req *request) {
	var params struct {
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
	}
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	amount, rpcErr := parseAmountParam("amount", params.Amount)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	value, err := s.engine.GetUsdValue(params.Asset, amount)
	if err != nil {
		rpcErr := moduleError(err)
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, usdValueResult{
		Asset:    strings.ToUpper(strings.TrimSpace(params.Asset)),
		UsdValue: value.String(),
	})
}

func (s *Server) handleGetTokenAmountFromUsd(w http.ResponseWriter, req *request) {
	var params struct {
		Asset     string `json:"asset"`
		UsdAmount string `json:"usdAmount"`
	}
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	usd, rpcErr := parseAmountParam("usdAmount", params.UsdAmount)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	amount, err := s.engine.GetTokenAmountFromUsd(params.Asset, usd)
	if err != nil {
		rpcErr := moduleError(err)
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, tokenAmountResult{
		Asset:  strings.ToUpper(strings.TrimSpace(params.Asset)),
		Amount: amount.String(),
	})
}

func (s *Server) handleGetAccountInformation(w http.ResponseWriter, req *request) {
	var params struct {
		Address string `json:"address"`
	}
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	addr, rpcErr := parseAddressParam("address", params.Address)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	debt, value, err := s.engine.GetAccountInformation(addr)
	if err != nil {
		rpcErr := moduleError(err)
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, accountInformationResult{
		Address:            addr.String(),
		DebtMinted:         debt.String(),
		CollateralValueUsd: value.String(),
	})
}

func (s *Server) handleGetCollateralBalance(w http.ResponseWriter, req *request) {
	var params struct {
		Address string `json:"address"`
		Asset   string `json:"asset"`
	}
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	addr, rpcErr := parseAddressParam("address", params.Address)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	balance, err := s.engine.GetCollateralBalanceOfUser(addr, params.Asset)
	if err != nil {
		rpcErr := moduleError(err)
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, collateralBalanceResult{
		Address: addr.String(),
		Asset:   strings.ToUpper(strings.TrimSpace(params.Asset)),
		Balance: balance.String(),
	})
}

func (s *Server) handleHealthFactor(w http.ResponseWriter, req *request) {
	var params struct {
		Address string `json:"address"`
	}
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	addr, rpcErr := parseAddressParam("address", params.Address)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	hf, err := s.engine.HealthFactor(addr)
	if err != nil {
		rpcErr := moduleError(err)
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, healthFactorResult{
		Address:      addr.String(),
		HealthFactor: hf.String(),
		Infinite:     hf.Cmp(collateral.InfiniteHealthFactor()) == 0,
	})
}

func (s *Server) handleIsLiquidatable(w http.ResponseWriter, req *request) {
	var params struct {
		Address string `json:"address"`
	}
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	addr, rpcErr := parseAddressParam("address", params.Address)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	liquidatable, err := s.engine.IsLiquidatable(addr)
	if err != nil {
		rpcErr := moduleError(err)
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"address":      addr.String(),
		"liquidatable": liquidatable,
	})
}

func (s *Server) handleGetConfiguration(w http.ResponseWriter, req *request) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	cfg := s.engine.Configuration()
	writeResult(w, req.ID, configurationResult{
		CollateralAssets:        cfg.CollateralAssets,
		PriceFeeds:              cfg.PriceFeeds,
		StableSymbol:            cfg.StableSymbol,
		LiquidationThresholdBps: cfg.Params.LiquidationThresholdBps,
		LiquidationBonusBps:     cfg.Params.LiquidationBonusBps,
		MinHealthFactor:         cfg.Params.MinHealthFactor.String(),
	})
}
