package marketdata

import (
	"context"
	"time"

	"github.com/helios-quant/backend/internal/contracts"
)

// View is a per-run, read-only window over one source and one resolved
// trading calendar. Strategies receive it instead of the raw Source so
// that trailing-history lookups walk the same calendar the orchestrator
// iterates, never calendar days.
type View struct {
	src   Source
	dates []time.Time
	index map[string]int
}

// NewView builds a view over the resolved calendar of a run.
func NewView(src Source, dates []time.Time) *View {
	index := make(map[string]int, len(dates))
	for i, d := range dates {
		index[dateKey(d)] = i
	}
	return &View{src: src, dates: dates, index: index}
}

// Dates returns the run's trading calendar.
func (v *View) Dates() []time.Time {
	return v.dates
}

// DateIndex returns the calendar position of a date.
func (v *View) DateIndex(date time.Time) (int, bool) {
	i, ok := v.index[dateKey(date)]
	return i, ok
}

// TradingDaysBetween counts trading dates strictly after from, up to and
// including to. Used for holding-period checks: a position entered on date
// i has been held for TradingDaysBetween(entry, now) trading days.
func (v *View) TradingDaysBetween(from, to time.Time) int {
	fi, ok := v.index[dateKey(from)]
	if !ok {
		return 0
	}
	ti, ok := v.index[dateKey(to)]
	if !ok || ti < fi {
		return 0
	}
	return ti - fi
}

// Bar returns the bar for one instrument on one trading date.
func (v *View) Bar(ctx context.Context, inst contracts.Instrument, date time.Time) (contracts.Bar, bool, error) {
	return v.src.Bar(ctx, inst, date)
}

// History returns up to n bars for the instrument ending at date, oldest
// first, walking the trading calendar backwards. Dates with absent bars
// are skipped, so the slice may be shorter than n.
func (v *View) History(ctx context.Context, inst contracts.Instrument, date time.Time, n int) ([]contracts.Bar, error) {
	end, ok := v.index[dateKey(date)]
	if !ok || n <= 0 {
		return nil, nil
	}

	bars := make([]contracts.Bar, 0, n)
	for i := end; i >= 0 && len(bars) < n; i-- {
		bar, present, err := v.src.Bar(ctx, inst, v.dates[i])
		if err != nil {
			return nil, err
		}
		if present {
			bars = append(bars, bar)
		}
	}

	// reverse to oldest-first
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}
