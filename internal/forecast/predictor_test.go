package forecast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helios-quant/backend/internal/contracts"
)

var predictDate = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

func TestStaticPredictorOmitsUnknown(t *testing.T) {
	pred := NewStaticPredictor()
	pred.Set(predictDate, "AAA", contracts.Prediction{ExpectedReturn: 0.03, Volatility: 0.1, Confidence: 0.8})

	got, err := pred.Predict(context.Background(), []contracts.Instrument{"AAA", "MISSING"}, predictDate)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.03, got["AAA"].ExpectedReturn)
}

// countingPredictor records chunk sizes and scores every instrument.
type countingPredictor struct {
	mu     sync.Mutex
	chunks [][]contracts.Instrument
}

func (c *countingPredictor) Predict(_ context.Context, instruments []contracts.Instrument, _ time.Time) (map[contracts.Instrument]contracts.Prediction, error) {
	c.mu.Lock()
	c.chunks = append(c.chunks, instruments)
	c.mu.Unlock()

	out := make(map[contracts.Instrument]contracts.Prediction, len(instruments))
	for _, inst := range instruments {
		out[inst] = contracts.Prediction{ExpectedReturn: float64(len(inst)), Volatility: 1, Confidence: 1}
	}
	return out, nil
}

func TestPooledMergesAllChunks(t *testing.T) {
	inner := &countingPredictor{}
	pooled := NewPooled(inner, 3, 10)

	instruments := make([]contracts.Instrument, 95)
	for i := range instruments {
		instruments[i] = contracts.Instrument(fmt.Sprintf("I%03d", i))
	}

	got, err := pooled.Predict(context.Background(), instruments, predictDate)
	require.NoError(t, err)
	assert.Len(t, got, 95)
	assert.Len(t, inner.chunks, 10, "95 instruments in chunks of 10")
}

type failingPredictor struct{ err error }

func (f failingPredictor) Predict(context.Context, []contracts.Instrument, time.Time) (map[contracts.Instrument]contracts.Prediction, error) {
	return nil, f.err
}

func TestPooledPropagatesError(t *testing.T) {
	boom := errors.New("model server down")
	pooled := NewPooled(failingPredictor{err: boom}, 2, 4)

	_, err := pooled.Predict(context.Background(), []contracts.Instrument{"A", "B", "C", "D", "E"}, predictDate)
	require.ErrorIs(t, err, boom)
}

func TestRecorderCapturesScores(t *testing.T) {
	pred := NewStaticPredictor()
	pred.Set(predictDate, "AAA", contracts.Prediction{ExpectedReturn: 0.05, Volatility: 0.1, Confidence: 1})
	pred.Set(predictDate, "BBB", contracts.Prediction{ExpectedReturn: -0.02, Volatility: 0.1, Confidence: 1})

	rec := NewRecorder(pred)
	_, err := rec.Predict(context.Background(), []contracts.Instrument{"AAA", "BBB"}, predictDate)
	require.NoError(t, err)

	samples := rec.Samples()
	require.Len(t, samples, 1)
	assert.True(t, samples[0].Date.Equal(predictDate))
	assert.Equal(t, 0.05, samples[0].Scores["AAA"])
	assert.Equal(t, -0.02, samples[0].Scores["BBB"])
}

func TestRecorderSkipsFailedCalls(t *testing.T) {
	rec := NewRecorder(failingPredictor{err: errors.New("down")})
	_, err := rec.Predict(context.Background(), []contracts.Instrument{"AAA"}, predictDate)
	require.Error(t, err)
	assert.Empty(t, rec.Samples())
}
