package contracts

// Prediction is the output contract any externally trained model must
// satisfy to plug into the entry layer. The core assumes nothing about the
// model family behind it.
type Prediction struct {
	ExpectedReturn float64 `json:"expected_return"`
	Volatility     float64 `json:"volatility"`
	Confidence     float64 `json:"confidence"` // [0, 1]
}

// Score is the ranking score used by the model-driven entry:
// expected_return / volatility * confidence. Zero volatility yields a zero
// score rather than a blow-up; such predictions rank last.
func (p Prediction) Score() float64 {
	if p.Volatility <= 0 {
		return 0
	}
	return p.ExpectedReturn / p.Volatility * p.Confidence
}
