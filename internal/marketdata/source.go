// Package marketdata defines the calendar/price-source boundary the
// simulation core consumes, plus a per-run view over the trading calendar
// and a bounded cache for per-instrument factor computation.
package marketdata

import (
	"context"
	"sort"
	"time"

	"github.com/helios-quant/backend/internal/contracts"
)

const dateLayout = "2006-01-02"

func dateKey(t time.Time) string {
	return t.Format(dateLayout)
}

// Source supplies the ordered trading calendar and OHLCV bars. The core
// consumes it and never writes through it. An absent bar (suspension,
// listing gap) is reported via the ok flag and means "untradeable that
// date": no new entries, no forced exits, position carries over unmarked.
type Source interface {
	// TradingDates returns the ordered trading dates in [start, end].
	TradingDates(ctx context.Context, start, end time.Time) ([]time.Time, error)

	// Bar returns the bar for one instrument on one date. ok=false means
	// the instrument has no bar that date; it is not an error.
	Bar(ctx context.Context, inst contracts.Instrument, date time.Time) (contracts.Bar, bool, error)
}

// MemorySource is a deterministic in-memory Source used by tests and
// replay harnesses. Bars are registered up front; the calendar is explicit.
type MemorySource struct {
	dates []time.Time
	bars  map[contracts.Instrument]map[string]contracts.Bar
}

// NewMemorySource creates a source over an explicit trading calendar.
func NewMemorySource(dates []time.Time) *MemorySource {
	sorted := make([]time.Time, len(dates))
	copy(sorted, dates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	return &MemorySource{
		dates: sorted,
		bars:  make(map[contracts.Instrument]map[string]contracts.Bar),
	}
}

// Add registers a bar. The bar's date must be on the calendar; bars on
// off-calendar dates are still stored but never served by TradingDates.
func (m *MemorySource) Add(bar contracts.Bar) {
	byDate, ok := m.bars[bar.Instrument]
	if !ok {
		byDate = make(map[string]contracts.Bar)
		m.bars[bar.Instrument] = byDate
	}
	byDate[dateKey(bar.Date)] = bar
}

// TradingDates implements Source.
func (m *MemorySource) TradingDates(_ context.Context, start, end time.Time) ([]time.Time, error) {
	out := make([]time.Time, 0, len(m.dates))
	for _, d := range m.dates {
		if d.Before(start) || d.After(end) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Bar implements Source.
func (m *MemorySource) Bar(_ context.Context, inst contracts.Instrument, date time.Time) (contracts.Bar, bool, error) {
	byDate, ok := m.bars[inst]
	if !ok {
		return contracts.Bar{}, false, nil
	}
	bar, ok := byDate[dateKey(date)]
	return bar, ok, nil
}
