package finnhub

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"CryptoRelay/internal/domain/models"
)

// Frame types sent by the provider.
const (
	TypePing   = "ping"
	TypeError  = "error"
	TypeTrade  = "trade"
	TypeQuote  = "quote"
	TypeUpdate = "update"
)

// Frame is the decoded form of one inbound message.
type Frame struct {
	Type    string
	Msg     string             // provider error text for TypeError
	Ticks   []models.PriceTick // valid data items, in wire order
	Dropped int                // data items skipped for missing symbol or price
}

type rawFrame struct {
	Type string            `json:"type"`
	Msg  string            `json:"msg"`
	Data []json.RawMessage `json:"data"`
}

// rawItem uses pointers so that absent and null fields are told apart from zero.
type rawItem struct {
	S  *string  `json:"s"`
	P  *float64 `json:"p"`
	AP *float64 `json:"ap"`
	BP *float64 `json:"bp"`
	T  *float64 `json:"t"`
}

// Parse decodes one provider message. now supplies the timestamp for items
// that carry none. A non-nil error means the whole message was unreadable.
func Parse(b []byte, now time.Time) (Frame, error) {
	var rf rawFrame
	if err := json.Unmarshal(b, &rf); err != nil {
		return Frame{}, fmt.Errorf("finnhub: decode frame: %w", err)
	}
	f := Frame{Type: rf.Type, Msg: rf.Msg}

	switch rf.Type {
	case TypeTrade, TypeQuote, TypeUpdate:
	default:
		return f, nil
	}

	for _, raw := range rf.Data {
		t, ok := parseItem(raw, now)
		if !ok {
			f.Dropped++
			continue
		}
		f.Ticks = append(f.Ticks, t)
	}
	return f, nil
}

func parseItem(raw json.RawMessage, now time.Time) (models.PriceTick, bool) {
	var it rawItem
	if err := json.Unmarshal(raw, &it); err != nil {
		return models.PriceTick{}, false
	}
	if it.S == nil || *it.S == "" {
		return models.PriceTick{}, false
	}
	price := firstPresent(it.P, it.AP, it.BP)
	if price == nil || math.IsNaN(*price) || math.IsInf(*price, 0) {
		return models.PriceTick{}, false
	}
	ts := now.UnixMilli()
	if it.T != nil && *it.T > 0 {
		ts = int64(*it.T)
	}
	return models.PriceTick{Symbol: *it.S, Price: *price, Timestamp: ts}, true
}

// firstPresent returns the first non-nil value: last price, then ask, then bid.
func firstPresent(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
