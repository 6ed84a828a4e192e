package contracts

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is an exchange-qualified symbol, e.g. "KRX:005930" or
// "NASD:AAPL". Immutable identifier with no embedded state.
type Instrument string

func (i Instrument) String() string {
	return string(i)
}

// Bar holds one instrument's OHLCV for one trading date, plus optional
// precomputed indicators. Owned by the price source; read-only to the
// simulation core.
type Bar struct {
	Instrument Instrument      `json:"instrument"`
	Date       time.Time       `json:"date"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     int64           `json:"volume"`

	// Indicators carries precomputed per-bar features keyed by name.
	// May be nil when the source supplies raw OHLCV only.
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Indicator returns a named indicator value and whether it is present.
func (b Bar) Indicator(name string) (float64, bool) {
	if b.Indicators == nil {
		return 0, false
	}
	v, ok := b.Indicators[name]
	return v, ok
}

// SortedInstruments returns map keys in lexical order. Map iteration order
// in Go is randomized; every stage that walks a per-instrument map uses this
// so that replays are byte-identical.
func SortedInstruments[V any](m map[Instrument]V) []Instrument {
	keys := make([]Instrument, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
