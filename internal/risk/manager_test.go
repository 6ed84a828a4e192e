package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helios-quant/backend/internal/contracts"
)

func permissiveLimits() contracts.RiskLimits {
	return contracts.RiskLimits{
		MaxPositionLossPct:     0.99,
		MaxPortfolioLossPct:    0.99,
		MaxLeverage:            1.0,
		MaxPositionSize:        1.0,
		MaxSectorConcentration: 1.0,
	}
}

func signal(inst contracts.Instrument, dir contracts.Direction, weight float64) contracts.Signal {
	return contracts.Signal{Instrument: inst, Direction: dir, TargetWeight: weight}
}

var testDate = time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

func TestFilterSignalsScalesLeverageProportionally(t *testing.T) {
	// Two signals of 0.7 against a gross cap of 1.0: both scale to 0.5,
	// neither is rejected outright.
	m, err := NewManager(permissiveLimits(), nil, nil)
	require.NoError(t, err)

	signals := map[contracts.Instrument]contracts.Signal{
		"AAA": signal("AAA", contracts.DirectionLong, 0.7),
		"BBB": signal("BBB", contracts.DirectionLong, 0.7),
	}

	accepted, warnings := m.FilterSignals(signals, nil, testDate)

	require.Len(t, accepted, 2)
	assert.InDelta(t, 0.5, accepted["AAA"].TargetWeight, 1e-9)
	assert.InDelta(t, 0.5, accepted["BBB"].TargetWeight, 1e-9)

	require.Len(t, warnings, 1)
	assert.Equal(t, "leverage_scaled", warnings[0].Code)
}

func TestFilterSignalsLeverageCountsExistingExposure(t *testing.T) {
	m, err := NewManager(permissiveLimits(), nil, nil)
	require.NoError(t, err)

	signals := map[contracts.Instrument]contracts.Signal{
		"AAA": signal("AAA", contracts.DirectionLong, 0.8),
	}
	held := map[contracts.Instrument]float64{"BBB": 0.6}

	accepted, _ := m.FilterSignals(signals, held, testDate)
	require.Len(t, accepted, 1)
	// 0.4 of headroom remains.
	assert.InDelta(t, 0.4, accepted["AAA"].TargetWeight, 1e-9)
}

func TestFilterSignalsClampsPositionSize(t *testing.T) {
	limits := permissiveLimits()
	limits.MaxPositionSize = 0.25
	m, err := NewManager(limits, nil, nil)
	require.NoError(t, err)

	accepted, warnings := m.FilterSignals(map[contracts.Instrument]contracts.Signal{
		"AAA": signal("AAA", contracts.DirectionLong, 0.6),
	}, nil, testDate)

	assert.InDelta(t, 0.25, accepted["AAA"].TargetWeight, 1e-9)
	require.Len(t, warnings, 1)
	assert.Equal(t, "position_size_clamped", warnings[0].Code)
}

func TestFilterSignalsRejectsIneligibleShorts(t *testing.T) {
	limits := permissiveLimits()
	limits.EnforceShortability = true
	limits.ShortableInstruments = []contracts.Instrument{"OKS"}
	m, err := NewManager(limits, nil, nil)
	require.NoError(t, err)

	accepted, warnings := m.FilterSignals(map[contracts.Instrument]contracts.Signal{
		"OKS": signal("OKS", contracts.DirectionShort, 0.2),
		"NOS": signal("NOS", contracts.DirectionShort, 0.2),
	}, nil, testDate)

	require.Len(t, accepted, 1)
	assert.Contains(t, accepted, contracts.Instrument("OKS"))
	require.Len(t, warnings, 1)
	assert.Equal(t, "short_not_allowed", warnings[0].Code)
	assert.Equal(t, contracts.Instrument("NOS"), warnings[0].Instrument)
}

func TestFilterSignalsClampsSectorConcentration(t *testing.T) {
	limits := permissiveLimits()
	limits.MaxSectorConcentration = 0.5
	sectors := map[contracts.Instrument]string{
		"T1": "tech", "T2": "tech", "HELD": "tech", "E1": "energy",
	}
	m, err := NewManager(limits, sectors, nil)
	require.NoError(t, err)

	signals := map[contracts.Instrument]contracts.Signal{
		"T1": signal("T1", contracts.DirectionLong, 0.3),
		"T2": signal("T2", contracts.DirectionLong, 0.3),
		"E1": signal("E1", contracts.DirectionLong, 0.2),
	}
	held := map[contracts.Instrument]float64{"HELD": 0.2}

	accepted, warnings := m.FilterSignals(signals, held, testDate)

	// Tech headroom is 0.3; both new tech signals scale by 0.5.
	assert.InDelta(t, 0.15, accepted["T1"].TargetWeight, 1e-9)
	assert.InDelta(t, 0.15, accepted["T2"].TargetWeight, 1e-9)
	// Energy is untouched.
	assert.InDelta(t, 0.2, accepted["E1"].TargetWeight, 1e-9)

	found := false
	for _, w := range warnings {
		if w.Code == "sector_concentration_clamped" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestScanPositionsForcesStopLoss(t *testing.T) {
	limits := permissiveLimits()
	limits.MaxPositionLossPct = 0.20
	m, err := NewManager(limits, nil, nil)
	require.NoError(t, err)

	positions := map[contracts.Instrument]*contracts.Position{
		"AAA": {
			Instrument: "AAA",
			Direction:  contracts.DirectionLong,
			EntryPrice: decimal.NewFromInt(100),
			Shares:     decimal.NewFromInt(10),
		},
	}
	prices := map[contracts.Instrument]decimal.Decimal{"AAA": decimal.NewFromInt(75)}

	forced, warnings := m.ScanPositions(positions, prices, map[contracts.Instrument]int{"AAA": 1}, testDate)

	assert.Equal(t, "stop_loss", forced.Close["AAA"])
	require.Len(t, warnings, 1)
	assert.Equal(t, "forced_stop_loss", warnings[0].Code)
}

func TestScanPositionsForcesMaxHolding(t *testing.T) {
	limits := permissiveLimits()
	limits.MaxHoldingDays = 10
	m, err := NewManager(limits, nil, nil)
	require.NoError(t, err)

	positions := map[contracts.Instrument]*contracts.Position{
		"AAA": {
			Instrument: "AAA",
			Direction:  contracts.DirectionLong,
			EntryPrice: decimal.NewFromInt(100),
			Shares:     decimal.NewFromInt(10),
		},
	}
	prices := map[contracts.Instrument]decimal.Decimal{"AAA": decimal.NewFromInt(100)}

	forced, _ := m.ScanPositions(positions, prices, map[contracts.Instrument]int{"AAA": 10}, testDate)
	assert.Equal(t, "max_holding_days", forced.Close["AAA"])
}

func TestScanPositionsSkipsUntradeable(t *testing.T) {
	limits := permissiveLimits()
	limits.MaxPositionLossPct = 0.01
	m, err := NewManager(limits, nil, nil)
	require.NoError(t, err)

	positions := map[contracts.Instrument]*contracts.Position{
		"AAA": {
			Instrument: "AAA",
			Direction:  contracts.DirectionLong,
			EntryPrice: decimal.NewFromInt(100),
			Shares:     decimal.NewFromInt(10),
			MarkPrice:  decimal.NewFromInt(10), // stale mark, deeply under water
		},
	}

	forced, warnings := m.ScanPositions(positions, nil, nil, testDate)
	assert.True(t, forced.Empty(), "no bar today means carry over, not force-close")
	assert.Empty(t, warnings)
}

func TestCheckDrawdownTracksHighWater(t *testing.T) {
	limits := permissiveLimits()
	limits.MaxPortfolioLossPct = 0.20
	m, err := NewManager(limits, nil, nil)
	require.NoError(t, err)

	breached, dd := m.CheckDrawdown(decimal.NewFromInt(1_000_000))
	assert.False(t, breached)
	assert.Zero(t, dd)

	// New high raises the mark.
	breached, _ = m.CheckDrawdown(decimal.NewFromInt(1_100_000))
	assert.False(t, breached)

	// 15% off the high: under the 20% limit.
	breached, dd = m.CheckDrawdown(decimal.NewFromInt(935_000))
	assert.False(t, breached)
	assert.InDelta(t, 0.15, dd, 1e-9)

	// 25% off the high: breached.
	breached, dd = m.CheckDrawdown(decimal.NewFromInt(825_000))
	assert.True(t, breached)
	assert.InDelta(t, 0.25, dd, 1e-9)
}

func TestCheckDrawdownRebasesAfterBreach(t *testing.T) {
	limits := permissiveLimits()
	limits.MaxPortfolioLossPct = 0.10
	m, err := NewManager(limits, nil, nil)
	require.NoError(t, err)

	m.CheckDrawdown(decimal.NewFromInt(1_000_000))
	breached, _ := m.CheckDrawdown(decimal.NewFromInt(850_000))
	require.True(t, breached)

	// The breach rebased the mark: the stop fires once per episode, not on
	// every subsequent date below the old high.
	breached, dd := m.CheckDrawdown(decimal.NewFromInt(850_000))
	assert.False(t, breached)
	assert.Zero(t, dd)

	// A second leg down from the rebased mark re-arms the stop.
	breached, dd = m.CheckDrawdown(decimal.NewFromInt(760_000))
	assert.True(t, breached)
	assert.InDelta(t, 0.1059, dd, 1e-4)
}

func TestNewManagerRejectsMalformedLimits(t *testing.T) {
	limits := permissiveLimits()
	limits.MaxLeverage = 0
	_, err := NewManager(limits, nil, nil)
	require.Error(t, err)
}
