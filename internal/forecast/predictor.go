// Package forecast defines the prediction-adapter boundary: the one
// interface an externally trained model wrapper must satisfy to plug into
// the model-driven entry.
package forecast

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/helios-quant/backend/internal/contracts"
)

// Predictor scores a batch of instruments for one date. Instruments the
// model cannot score (insufficient lookback, unknown symbol) are silently
// omitted from the returned map; absence means "skip today", never
// zero-confidence. An error is reserved for transport/infrastructure
// failure.
type Predictor interface {
	Predict(ctx context.Context, instruments []contracts.Instrument, date time.Time) (map[contracts.Instrument]contracts.Prediction, error)
}

// StaticPredictor serves predictions from an in-memory table. Used by
// tests and replay harnesses where model output was captured up front.
type StaticPredictor struct {
	table map[string]map[contracts.Instrument]contracts.Prediction
}

// NewStaticPredictor creates an empty table-driven predictor.
func NewStaticPredictor() *StaticPredictor {
	return &StaticPredictor{
		table: make(map[string]map[contracts.Instrument]contracts.Prediction),
	}
}

// Set registers a prediction for one instrument on one date.
func (s *StaticPredictor) Set(date time.Time, inst contracts.Instrument, p contracts.Prediction) {
	key := date.Format("2006-01-02")
	byInst, ok := s.table[key]
	if !ok {
		byInst = make(map[contracts.Instrument]contracts.Prediction)
		s.table[key] = byInst
	}
	byInst[inst] = p
}

// Predict implements Predictor.
func (s *StaticPredictor) Predict(_ context.Context, instruments []contracts.Instrument, date time.Time) (map[contracts.Instrument]contracts.Prediction, error) {
	byInst := s.table[date.Format("2006-01-02")]
	out := make(map[contracts.Instrument]contracts.Prediction, len(instruments))
	for _, inst := range instruments {
		if p, ok := byInst[inst]; ok {
			out[inst] = p
		}
	}
	return out, nil
}

// Pooled fans a batch out across a bounded number of workers, each calling
// the underlying predictor with one chunk. Scoring is a pure read of market
// data, so intra-stage parallelism is safe; the orchestrator's date loop
// stays strictly sequential.
type Pooled struct {
	inner     Predictor
	workers   int
	chunkSize int
}

// NewPooled wraps a predictor with chunked parallel dispatch.
func NewPooled(inner Predictor, workers, chunkSize int) *Pooled {
	if workers <= 0 {
		workers = 4
	}
	if chunkSize <= 0 {
		chunkSize = 64
	}
	return &Pooled{inner: inner, workers: workers, chunkSize: chunkSize}
}

// Predict implements Predictor. The batch is chunked deterministically
// (sorted input order) and merged; the first underlying error wins.
func (p *Pooled) Predict(ctx context.Context, instruments []contracts.Instrument, date time.Time) (map[contracts.Instrument]contracts.Prediction, error) {
	sorted := make([]contracts.Instrument, len(instruments))
	copy(sorted, instruments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	chunks := make([][]contracts.Instrument, 0, (len(sorted)+p.chunkSize-1)/p.chunkSize)
	for start := 0; start < len(sorted); start += p.chunkSize {
		end := start + p.chunkSize
		if end > len(sorted) {
			end = len(sorted)
		}
		chunks = append(chunks, sorted[start:end])
	}

	var (
		mu       sync.Mutex
		firstErr error
		merged   = make(map[contracts.Instrument]contracts.Prediction, len(sorted))
		wg       sync.WaitGroup
		sem      = make(chan struct{}, p.workers)
	)

	for _, chunk := range chunks {
		wg.Add(1)
		sem <- struct{}{}
		go func(chunk []contracts.Instrument) {
			defer wg.Done()
			defer func() { <-sem }()

			preds, err := p.inner.Predict(ctx, chunk, date)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			for inst, pred := range preds {
				merged[inst] = pred
			}
		}(chunk)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return merged, nil
}

// Sample is one rebalance date's recorded model output, kept for
// prediction-quality metrics (IC, Rank IC).
type Sample struct {
	Date   time.Time
	Scores map[contracts.Instrument]float64
}

// Recorder wraps a predictor and keeps every score it served. The
// evaluator joins the samples against realized forward returns after the
// run completes.
type Recorder struct {
	inner   Predictor
	mu      sync.Mutex
	samples []Sample
}

// NewRecorder wraps a predictor with score recording.
func NewRecorder(inner Predictor) *Recorder {
	return &Recorder{inner: inner}
}

// Predict implements Predictor.
func (r *Recorder) Predict(ctx context.Context, instruments []contracts.Instrument, date time.Time) (map[contracts.Instrument]contracts.Prediction, error) {
	preds, err := r.inner.Predict(ctx, instruments, date)
	if err != nil {
		return nil, err
	}

	scores := make(map[contracts.Instrument]float64, len(preds))
	for inst, p := range preds {
		scores[inst] = p.ExpectedReturn
	}

	r.mu.Lock()
	r.samples = append(r.samples, Sample{Date: date, Scores: scores})
	r.mu.Unlock()

	return preds, nil
}

// Samples returns the recorded samples in call order.
func (r *Recorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sample, len(r.samples))
	copy(out, r.samples)
	return out
}
