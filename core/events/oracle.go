package events

import (
	"math/big"
	"strconv"

	"stabled/core/types"
)

const (
	// TypePriceUpdated is emitted when a feed accepts a new price quote.
	TypePriceUpdated = "oracle.price_updated"
)

type PriceUpdated struct {
	Asset    string
	Price    *big.Int
	Decimals uint8
	Source   string
}

func (PriceUpdated) EventType() string { return TypePriceUpdated }

func (e PriceUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypePriceUpdated,
		Attributes: map[string]string{
			"asset":    normalizeAsset(e.Asset),
			"price":    amountString(e.Price),
			"decimals": strconv.Itoa(int(e.Decimals)),
			"source":   e.Source,
		},
	}
}
