package models

// Requests and responses of the read-only price endpoints.

type HistoryRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	Limit  int    `query:"limit" json:"limit" default:"0" validate:"gte=0,lte=10000"`
	From   string `query:"from" json:"from"`
}

type HistoryResponse struct {
	Symbol string      `json:"symbol"`
	Count  int         `json:"count"`
	Ticks  []PriceTick `json:"ticks"`
}

// StoredRequest selects one symbol, or every tracked symbol when empty.
type StoredRequest struct {
	Symbol string `query:"symbol" json:"symbol"`
}

// StoredLatestResponse is read back from the shared snapshot cache.
type StoredLatestResponse struct {
	Symbol  string         `json:"symbol"`
	Price   *PriceTick     `json:"price,omitempty"`
	Average *HourlyAverage `json:"average,omitempty"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Upstream    string `json:"upstream"`
	Subscribers int    `json:"subscribers"`
}
