package strategy

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/helios-quant/backend/internal/contracts"
	"github.com/helios-quant/backend/internal/forecast"
	"github.com/helios-quant/backend/internal/marketdata"
)

// constantLongEntry signals long at a fixed target weight for every
// candidate. The baseline entry: what selection alone contributes shows up
// against it. A zero target weight means equal split across candidates.
type constantLongEntry struct {
	targetWeight float64
}

func newConstantLongEntry(p Params, _ Deps) (Entry, error) {
	return &constantLongEntry{targetWeight: p.Float("target_weight", 0)}, nil
}

func (e *constantLongEntry) GenerateSignals(_ context.Context, candidates []contracts.Instrument, _ time.Time, _ *marketdata.View) (map[contracts.Instrument]contracts.Signal, error) {
	weight := e.targetWeight
	if weight <= 0 && len(candidates) > 0 {
		weight = 1.0 / float64(len(candidates))
	}

	signals := make(map[contracts.Instrument]contracts.Signal, len(candidates))
	for _, inst := range candidates {
		signals[inst] = contracts.Signal{
			Instrument:   inst,
			Direction:    contracts.DirectionLong,
			TargetWeight: weight,
			Reason:       "constant_long",
		}
	}
	return signals, nil
}

// momentumRuleEntry is the rule-based entry: a deterministic function of
// indicator values. Candidates whose trailing return clears the long
// threshold get a long signal; an optional short threshold opens shorts on
// the weakest names.
type momentumRuleEntry struct {
	lookbackDays   int
	longThreshold  float64
	shortThreshold float64
	useShort       bool
	targetWeight   float64 // 0 means equal split across signals
	factors        *marketdata.FactorCache
}

func newMomentumRuleEntry(p Params, deps Deps) (Entry, error) {
	return &momentumRuleEntry{
		lookbackDays:   p.Int("lookback_days", 20),
		longThreshold:  p.Float("long_threshold", 0.0),
		shortThreshold: p.Float("short_threshold", 0),
		useShort:       p.Has("short_threshold"),
		targetWeight:   p.Float("target_weight", 0),
		factors:        deps.Factors,
	}, nil
}

func (e *momentumRuleEntry) GenerateSignals(ctx context.Context, candidates []contracts.Instrument, date time.Time, data *marketdata.View) (map[contracts.Instrument]contracts.Signal, error) {
	signals := make(map[contracts.Instrument]contracts.Signal)

	for _, inst := range candidates {
		mom, ok, err := trailingReturn(ctx, e.factors, data, inst, date, e.lookbackDays)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		var dir contracts.Direction
		switch {
		case mom >= e.longThreshold:
			dir = contracts.DirectionLong
		case e.useShort && mom <= e.shortThreshold:
			dir = contracts.DirectionShort
		default:
			continue
		}

		signals[inst] = contracts.Signal{
			Instrument: inst,
			Direction:  dir,
			Reason:     "momentum_rule",
			Metadata:   map[string]float64{"momentum": mom},
		}
	}

	weight := e.targetWeight
	if weight <= 0 && len(signals) > 0 {
		weight = 1.0 / float64(len(signals))
	}
	for inst, sig := range signals {
		sig.TargetWeight = weight
		signals[inst] = sig
	}

	return signals, nil
}

// modelEntry delegates scoring to the prediction adapter. Direction comes
// from the sign of the expected return, candidates below the confidence
// threshold are dropped, and the long and short books are each truncated
// to their top names by expected_return/volatility*confidence, with
// weights proportional to that score renormalized per book.
type modelEntry struct {
	predictor           forecast.Predictor
	confidenceThreshold float64
	topLong             int
	topShort            int
}

func newModelEntry(p Params, deps Deps) (Entry, error) {
	if deps.Predictor == nil {
		return nil, errors.New("entry \"model\" requires a prediction adapter")
	}
	return &modelEntry{
		predictor:           deps.Predictor,
		confidenceThreshold: p.Float("confidence_threshold", 0.0),
		topLong:             p.Int("top_long", 10),
		topShort:            p.Int("top_short", 0),
	}, nil
}

type scoredCandidate struct {
	inst  contracts.Instrument
	pred  contracts.Prediction
	score float64
}

func (e *modelEntry) GenerateSignals(ctx context.Context, candidates []contracts.Instrument, date time.Time, data *marketdata.View) (map[contracts.Instrument]contracts.Signal, error) {
	preds, err := e.predictor.Predict(ctx, candidates, date)
	if err != nil {
		return nil, err
	}

	var longs, shorts []scoredCandidate
	for _, inst := range contracts.SortedInstruments(preds) {
		pred := preds[inst]
		if pred.Confidence < e.confidenceThreshold {
			continue
		}
		score := pred.Score()
		switch {
		case pred.ExpectedReturn > 0:
			longs = append(longs, scoredCandidate{inst: inst, pred: pred, score: score})
		case pred.ExpectedReturn < 0:
			shorts = append(shorts, scoredCandidate{inst: inst, pred: pred, score: score})
		}
	}

	longs = topByScore(longs, e.topLong, false)
	shorts = topByScore(shorts, e.topShort, true)

	signals := make(map[contracts.Instrument]contracts.Signal, len(longs)+len(shorts))
	addBook(signals, longs, contracts.DirectionLong)
	addBook(signals, shorts, contracts.DirectionShort)
	return signals, nil
}

// topByScore keeps the n strongest candidates. Shorts rank by the most
// negative score.
func topByScore(book []scoredCandidate, n int, ascending bool) []scoredCandidate {
	sort.Slice(book, func(i, j int) bool {
		if book[i].score != book[j].score {
			if ascending {
				return book[i].score < book[j].score
			}
			return book[i].score > book[j].score
		}
		return book[i].inst < book[j].inst
	})
	if n <= 0 {
		n = 0
	}
	if len(book) > n {
		book = book[:n]
	}
	return book
}

// addBook assigns weights proportional to |score|, renormalized to sum to
// 1 within the book.
func addBook(signals map[contracts.Instrument]contracts.Signal, book []scoredCandidate, dir contracts.Direction) {
	var total float64
	for _, c := range book {
		total += math.Abs(c.score)
	}
	if total <= 0 {
		return
	}

	for _, c := range book {
		signals[c.inst] = contracts.Signal{
			Instrument:   c.inst,
			Direction:    dir,
			TargetWeight: math.Abs(c.score) / total,
			Reason:       "model",
			Metadata: map[string]float64{
				"expected_return": c.pred.ExpectedReturn,
				"volatility":      c.pred.Volatility,
				"confidence":      c.pred.Confidence,
				"score":           c.score,
			},
		}
	}
}
