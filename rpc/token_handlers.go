package rpc

import (
	"net/http"
	"strings"
)

type tokenBalanceResult struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Balance string `json:"balance"`
}

type tokenSupplyResult struct {
	Symbol string `json:"symbol"`
	Supply string `json:"supply"`
}

type tokenAllowanceResult struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Symbol    string `json:"symbol"`
	Allowance string `json:"allowance"`
}

func (s *Server) handleTokenGetBalance(w http.ResponseWriter, req *request) {
	var params struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
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
	balance, err := s.tokens.BalanceOf(addr.Bytes(), params.Symbol)
	if err != nil {
		rpcErr := moduleError(err)
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, tokenBalanceResult{
		Address: addr.String(),
		Symbol:  strings.ToUpper(strings.TrimSpace(params.Symbol)),
		Balance: balance.String(),
	})
}

func (s *Server) handleTokenGetSupply(w http.ResponseWriter, req *request) {
	var params struct {
		Symbol string `json:"symbol"`
	}
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	supply, err := s.state.TokenSupply(params.Symbol)
	if err != nil {
		rpcErr := moduleError(err)
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, tokenSupplyResult{
		Symbol: strings.ToUpper(strings.TrimSpace(params.Symbol)),
		Supply: supply.String(),
	})
}

func (s *Server) handleTokenGetAllowance(w http.ResponseWriter, req *request) {
	var params struct {
		Owner   string `json:"owner"`
		Spender string `json:"spender"`
		Symbol  string `json:"symbol"`
	}
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	owner, rpcErr := parseAddressParam("owner", params.Owner)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	spender, rpcErr := parseAddressParam("spender", params.Spender)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	allowance, err := s.tokens.Allowance(owner.Bytes(), spender.Bytes(), params.Symbol)
	if err != nil {
		rpcErr := moduleError(err)
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, tokenAllowanceResult{
		Owner:     owner.String(),
		Spender:   spender.String(),
		Symbol:    strings.ToUpper(strings.TrimSpace(params.Symbol)),
		Allowance: allowance.String(),
	})
}

// handleTokenApprove sets the caller's allowance toward a spender, most
// commonly the engine module address ahead of a deposit.
func (s *Server) handleTokenApprove(w http.ResponseWriter, req *request) {
	var params struct {
		Owner   string `json:"owner"`
		Spender string `json:"spender"`
		Symbol  string `json:"symbol"`
		Amount  string `json:"amount"`
	}
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	owner, rpcErr := parseAddressParam("owner", params.Owner)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	spender, rpcErr := parseAddressParam("spender", params.Spender)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	amount, rpcErr := parseAmountParam("amount", params.Amount)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if err := s.tokens.Approve(owner.Bytes(), spender.Bytes(), params.Symbol, amount); err != nil {
		rpcErr := moduleError(err)
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, txResult{Receipt: s.txReceipt(req.Method, map[string]string{
		"owner":   params.Owner,
		"spender": params.Spender,
		"symbol":  strings.ToUpper(strings.TrimSpace(params.Symbol)),
		"amount":  amount.String(),
	})})
}
