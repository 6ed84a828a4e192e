package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/helios-quant/backend/internal/contracts"
	"github.com/helios-quant/backend/pkg/config"
	"github.com/helios-quant/backend/pkg/logger"
	"github.com/helios-quant/backend/pkg/redis"
)

// HTTPPredictor calls an external model-serving endpoint. It is the only
// place the core touches a trained model over the network; the simulation
// loop itself never blocks on I/O directly; the orchestrator awaits the
// whole batch before the date advances.
type HTTPPredictor struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *redis.Cache
	cacheTTL   time.Duration
	logger     *logger.Logger

	maxRetries   int
	initialDelay time.Duration
}

// NewHTTPPredictor creates a predictor for the configured model server.
// The Redis cache is optional (pass nil to disable score caching).
func NewHTTPPredictor(cfg config.ModelServerConfig, cache *redis.Cache, log *logger.Logger) *HTTPPredictor {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 10
	}

	return &HTTPPredictor{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:      rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		cache:        cache,
		cacheTTL:     cfg.CacheTTL,
		logger:       log,
		maxRetries:   3,
		initialDelay: 500 * time.Millisecond,
	}
}

type predictRequest struct {
	Date        string   `json:"date"`
	Instruments []string `json:"instruments"`
}

type predictResponse struct {
	Predictions map[string]contracts.Prediction `json:"predictions"`
}

// Predict implements Predictor. Scores already cached for (instrument,
// date) are served from Redis; only misses hit the model server.
// Instruments missing from the server response are omitted, per the
// staleness policy.
func (h *HTTPPredictor) Predict(ctx context.Context, instruments []contracts.Instrument, date time.Time) (map[contracts.Instrument]contracts.Prediction, error) {
	out := make(map[contracts.Instrument]contracts.Prediction, len(instruments))

	misses := make([]contracts.Instrument, 0, len(instruments))
	for _, inst := range instruments {
		var cached contracts.Prediction
		hit, err := h.cacheGet(ctx, inst, date, &cached)
		if err != nil {
			h.logger.WithError(err).Warn("prediction cache read failed")
		}
		if hit {
			out[inst] = cached
		} else {
			misses = append(misses, inst)
		}
	}

	if len(misses) == 0 {
		return out, nil
	}

	resp, err := h.fetch(ctx, misses, date)
	if err != nil {
		return nil, err
	}

	for inst, pred := range resp {
		out[inst] = pred
		if err := h.cacheSet(ctx, inst, date, pred); err != nil {
			h.logger.WithError(err).Warn("prediction cache write failed")
		}
	}

	return out, nil
}

// fetch posts one batch to the model server with rate limiting and
// bounded exponential backoff.
func (h *HTTPPredictor) fetch(ctx context.Context, instruments []contracts.Instrument, date time.Time) (map[contracts.Instrument]contracts.Prediction, error) {
	reqBody := predictRequest{
		Date:        date.Format("2006-01-02"),
		Instruments: make([]string, 0, len(instruments)),
	}
	for _, inst := range instruments {
		reqBody.Instruments = append(reqBody.Instruments, string(inst))
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal predict request: %w", err)
	}

	var lastErr error
	delay := h.initialDelay

	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if err := h.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := h.doOnce(ctx, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		h.logger.WithFields(map[string]interface{}{
			"attempt": attempt + 1,
			"error":   err.Error(),
		}).Warn("model server request failed")
	}

	return nil, fmt.Errorf("predict after %d attempts: %w", h.maxRetries+1, lastErr)
}

func (h *HTTPPredictor) doOnce(ctx context.Context, payload []byte) (map[contracts.Instrument]contracts.Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/predict", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("model server returned %d: %s", resp.StatusCode, string(body))
	}

	var decoded predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode predict response: %w", err)
	}

	out := make(map[contracts.Instrument]contracts.Prediction, len(decoded.Predictions))
	for sym, pred := range decoded.Predictions {
		out[contracts.Instrument(sym)] = pred
	}
	return out, nil
}

func (h *HTTPPredictor) cacheKey(inst contracts.Instrument, date time.Time) string {
	return fmt.Sprintf("pred:%s:%s", date.Format("2006-01-02"), inst)
}

func (h *HTTPPredictor) cacheGet(ctx context.Context, inst contracts.Instrument, date time.Time, dest *contracts.Prediction) (bool, error) {
	if h.cache == nil {
		return false, nil
	}
	return h.cache.Get(ctx, h.cacheKey(inst, date), dest)
}

func (h *HTTPPredictor) cacheSet(ctx context.Context, inst contracts.Instrument, date time.Time, pred contracts.Prediction) error {
	if h.cache == nil {
		return nil
	}
	return h.cache.Set(ctx, h.cacheKey(inst, date), pred, h.cacheTTL)
}
