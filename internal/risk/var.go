package risk

import (
	"math"
	"sort"
)

// VaRResult holds historical value-at-risk figures. Losses are expressed
// as positive fractions (0.05 = a 5% loss).
type VaRResult struct {
	Confidence float64 `json:"confidence"`
	VaR        float64 `json:"var"`
	CVaR       float64 `json:"cvar"`
}

// HistoricalVaR computes value at risk by historical simulation over a
// series of daily returns (positive = gain, negative = loss).
func HistoricalVaR(returns []float64, confidence float64) VaRResult {
	if len(returns) == 0 {
		return VaRResult{Confidence: confidence}
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	// VaR is the (1-confidence) percentile: 95% VaR is the 5th-percentile
	// return.
	percentile := 1.0 - confidence
	idx := int(math.Floor(percentile * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	var varValue float64
	if sorted[idx] < 0 {
		varValue = -sorted[idx]
	}

	return VaRResult{
		Confidence: confidence,
		VaR:        varValue,
		CVaR:       expectedShortfall(sorted, idx),
	}
}

// expectedShortfall averages the tail at and below the VaR index.
func expectedShortfall(sorted []float64, varIdx int) float64 {
	if len(sorted) == 0 || varIdx < 0 {
		return 0
	}

	var sum float64
	count := 0
	for i := 0; i <= varIdx && i < len(sorted); i++ {
		sum += sorted[i]
		count++
	}
	if count == 0 {
		return 0
	}

	avgTail := sum / float64(count)
	if avgTail < 0 {
		return -avgTail
	}
	return 0
}
