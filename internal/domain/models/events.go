package models

// Server -> subscriber event names.
const (
	EventLatestPrices        = "latestPrices"
	EventHourlyAverages      = "hourlyAverages"
	EventPriceHistory        = "priceHistory"
	EventPriceUpdate         = "priceUpdate"
	EventHourlyAverageUpdate = "hourlyAverageUpdate"
)

// Subscriber -> server event names.
const (
	EventGetLatestPrices = "getLatestPrices"
)

// Envelope frames every message on the downstream socket.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Snapshot is the full state pushed to a subscriber on connect or refresh.
type Snapshot struct {
	LatestPrices   map[string]PriceTick     `json:"latestPrices"`
	HourlyAverages map[string]HourlyAverage `json:"hourlyAverages"`
	PriceHistory   map[string][]PriceTick   `json:"priceHistory"`
}
