package api

import "github.com/shopspring/decimal"

// StatusResponse reports process liveness and queue depth.
type StatusResponse struct {
	Status        string `json:"status"`
	PendingOrders int    `json:"pending_orders"`
}

// AddressResponse is one resolved token contract.
type AddressResponse struct {
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
}

// SubmitOrderRequest is a manually placed order. Decimal fields accept
// JSON numbers or strings.
type SubmitOrderRequest struct {
	BuySymbol      string          `json:"buy_symbol"`
	SellSymbol     string          `json:"sell_symbol"`
	Type           string          `json:"type"`
	Asset          string          `json:"asset"`
	QuantityToBuy  decimal.Decimal `json:"quantity_to_buy"`
	QuantityToSell decimal.Decimal `json:"quantity_to_sell"`
	PriceInSell    decimal.Decimal `json:"price_in_sell"`
	Venues         []string        `json:"venues"`
}

type SubmitOrderResponse struct {
	Status string `json:"status"`
	Order  string `json:"order"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
