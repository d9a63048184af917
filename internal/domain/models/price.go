package models

import "time"

// PriceTick is one normalized price observation. Timestamp is epoch milliseconds.
type PriceTick struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// Time returns the tick timestamp as time.Time.
func (t PriceTick) Time() time.Time { return time.UnixMilli(t.Timestamp) }

// HourLayout is the ISO-8601 millisecond UTC form used for HourlyAverage.Hour.
const HourLayout = "2006-01-02T15:04:05.000Z"

// HourlyAverage is the mean price of a symbol over the trailing hour.
// Hour is the ISO-8601 start of the hour containing the window start.
type HourlyAverage struct {
	Symbol  string  `json:"symbol"`
	Average float64 `json:"average"`
	Hour    string  `json:"hour"`
	Count   int     `json:"count"`
}
