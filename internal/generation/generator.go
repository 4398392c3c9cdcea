// Package generation provides the free-text merge collaborator: given a
// section's current content and a fragment, it produces one reconciled
// text. Only the task orchestrator calls it, always off the request path.
package generation

import (
	"context"
	"errors"
)

// ErrGenerationFailed reports that the collaborator could not produce a
// merged text. The task carrying the merge moves to failed with the
// underlying detail; resubmission is the caller's decision.
var ErrGenerationFailed = errors.New("merge generation failed")

// Generator produces a reconciled text from a section's current content and
// an incoming fragment. Implementations must honor ctx cancellation: a
// cancelled merge must return promptly with ctx.Err.
type Generator interface {
	Merge(ctx context.Context, original, fragment, summary string) (string, error)
	Close() error
}
