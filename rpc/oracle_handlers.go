package rpc

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"stabled/core/events"
)

type latestPriceResult struct {
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	Decimals  uint8  `json:"decimals"`
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source"`
}

type listFeedsResult struct {
	Assets []string `json:"assets"`
}

func (s *Server) handleOracleLatestPrice(w http.ResponseWriter, req *request) {
	var params struct {
		Asset string `json:"asset"`
	}
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	quote, err := s.resolver.LatestPrice(params.Asset)
	if err != nil {
		rpcErr := moduleError(err)
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, latestPriceResult{
		Asset:     strings.ToUpper(strings.TrimSpace(params.Asset)),
		Price:     quote.Price.String(),
		Decimals:  quote.Decimals,
		Timestamp: quote.Timestamp.Unix(),
		Source:    quote.Source,
	})
}

func (s *Server) handleOracleListFeeds(w http.ResponseWriter, req *request) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	writeResult(w, req.ID, listFeedsResult{Assets: s.resolver.Assets()})
}

// handleOracleSetPrice stores a manual price override. Requires the
// oracle:write admin scope; only available when the node runs with a manual
// feed wired.
func (s *Server) handleOracleSetPrice(w http.ResponseWriter, req *request) {
	var params struct {
		Asset    string `json:"asset"`
		Price    string `json:"price"`
		Decimals *uint8 `json:"decimals,omitempty"`
	}
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if s.manual == nil {
		writeError(w, http.StatusBadRequest, req.ID, codeModuleError, "manual price feed not configured", "PriceUnavailable")
		return
	}
	price, rpcErr := parseAmountParam("price", params.Price)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	decimals := uint8(8)
	if params.Decimals != nil {
		decimals = *params.Decimals
	}
	if err := s.manual.Set(params.Asset, price, decimals, time.Now().UTC()); err != nil {
		rpcErr := moduleError(err)
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if s.bus != nil {
		s.bus.Emit(events.PriceUpdated{
			Asset:    params.Asset,
			Price:    price,
			Decimals: decimals,
			Source:   "manual",
		})
	}
	writeResult(w, req.ID, map[string]string{
		"asset":    strings.ToUpper(strings.TrimSpace(params.Asset)),
		"price":    price.String(),
		"decimals": strconv.Itoa(int(decimals)),
	})
}
