package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// mergeSystemPrompt fixes the collaborator's contract: reconcile the two
// texts, keep the existing tone, let newer information win unless it is a
// flagged conflict, and return nothing but the merged content.
const mergeSystemPrompt = `You are a semantic merger for structured specification documents.
You receive the CURRENT content of a document section and NEW content addressed at the same section.
Produce a single reconciled section that:
- preserves the tone and formatting of the current content,
- integrates the new information, resolving contradictions in favor of the newer text,
- keeps a contradiction verbatim and marks it with "CONFLICT:" only when the new text explicitly flags it as a conflict,
- keeps the section heading line exactly as it is in the current content.
Output ONLY the merged section content. No commentary, no code fences.`

// OllamaOptions configures an OllamaGenerator.
type OllamaOptions struct {
	ServerURL string
	Model     string
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
	Logger    *zap.Logger
}

// OllamaGenerator performs generative merges through an Ollama chat model.
// Every call is rate limited and bounded by a timeout; failures are
// reported as ErrGenerationFailed with the collaborator detail preserved.
type OllamaGenerator struct {
	llm     *ollama.LLM
	timeout time.Duration
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewOllamaGenerator connects to the Ollama server described by opts.
func NewOllamaGenerator(opts OllamaOptions) (*OllamaGenerator, error) {
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
		timeout = 60 * time.Second
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return &OllamaGenerator{
		llm:     llm,
		timeout: timeout,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Merge asks the model for a reconciled section text.
func (g *OllamaGenerator) Merge(ctx context.Context, original, fragment, summary string) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, mergeSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, mergeRequest(original, fragment, summary)),
	}
	resp, err := g.llm.GenerateContent(ctx, content)
	if err != nil {
		// Cancellation is the caller's own signal, not a collaborator fault.
		if ctx.Err() != nil && ctx.Err() == context.Canceled {
			return "", ctx.Err()
		}
		g.logger.Warn("generation call failed",
			zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", fmt.Errorf("%w: collaborator returned no content", ErrGenerationFailed)
	}
	g.logger.Debug("generation call completed",
		zap.Duration("elapsed", time.Since(start)))
	return strings.TrimSpace(resp.Choices[0].Content) + "\n", nil
}

// mergeRequest renders the human turn of the merge conversation.
func mergeRequest(original, fragment, summary string) string {
	var b strings.Builder
	if strings.TrimSpace(summary) != "" {
		b.WriteString("Change summary: ")
		b.WriteString(strings.TrimSpace(summary))
		b.WriteString("\n\n")
	}
	b.WriteString("CURRENT SECTION CONTENT:\n")
	b.WriteString(original)
	b.WriteString("\n\nNEW CONTENT:\n")
	b.WriteString(fragment)
	return b.String()
}

// Close is a no-op; the underlying client holds no persistent connection.
func (g *OllamaGenerator) Close() error {
	return nil
}
