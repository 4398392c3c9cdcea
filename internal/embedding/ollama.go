package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OllamaOptions configures an OllamaEmbedder.
type OllamaOptions struct {
	ServerURL  string
	Model      string
	Dimensions int
	Timeout    time.Duration
	RateLimit  float64
	RateBurst  int
	Logger     *zap.Logger
}

// OllamaEmbedder obtains embeddings from an Ollama server. Calls are rate
// limited and bounded by a timeout; any failure is reported as
// ErrUnavailable so callers can degrade instead of aborting.
type OllamaEmbedder struct {
	llm        *ollama.LLM
	dimensions int
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewOllamaEmbedder connects to the Ollama server described by opts.
func NewOllamaEmbedder(opts OllamaOptions) (*OllamaEmbedder, error) {
	llm, err := ollama.New(
		ollama.WithModel(opts.Model),
		ollama.WithServerURL(opts.ServerURL),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return &OllamaEmbedder{
		llm:        llm,
		dimensions: opts.Dimensions,
		timeout:    timeout,
		limiter:    limiter,
		logger:     logger,
	}, nil
}

// Embed returns the embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns embeddings for texts in order.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vecs, err := e.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		e.logger.Warn("embedding call failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrUnavailable, len(vecs), len(texts))
	}
	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the underlying client holds no persistent connection.
func (e *OllamaEmbedder) Close() error {
	return nil
}
