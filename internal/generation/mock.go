package generation

import (
	"context"
	"strings"
	"sync"
)

// MockGenerator is a deterministic generator for tests. By default it
// concatenates original and fragment; results can be scripted per fragment,
// a failure can be forced, and Block makes calls wait until Release so
// cancellation paths can be exercised. Calls are counted so dedup tests
// can assert that identical submissions reach the collaborator once.
type MockGenerator struct {
	mu       sync.Mutex
	calls    int
	failWith error
	scripted map[string]string
	blockCh  chan struct{}
}

// NewMockGenerator returns a non-blocking mock.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// Script fixes the merge result for an exact fragment text.
func (g *MockGenerator) Script(fragment, result string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.scripted == nil {
		g.scripted = make(map[string]string)
	}
	g.scripted[fragment] = result
}

// Fail makes every subsequent call return err. Passing nil restores
// normal behavior.
func (g *MockGenerator) Fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failWith = err
}

// Block makes subsequent calls wait until Release (or ctx cancellation).
func (g *MockGenerator) Block() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blockCh = make(chan struct{})
}

// Release unblocks every call currently waiting in Merge.
func (g *MockGenerator) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.blockCh != nil {
		close(g.blockCh)
		g.blockCh = nil
	}
}

// CallCount returns how many Merge calls have been made.
func (g *MockGenerator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// Merge returns the scripted or synthesized merge result.
func (g *MockGenerator) Merge(ctx context.Context, original, fragment, summary string) (string, error) {
	g.mu.Lock()
	g.calls++
	failWith := g.failWith
	scripted, hasScript := g.scripted[fragment]
	blockCh := g.blockCh
	g.mu.Unlock()

	if blockCh != nil {
		select {
		case <-blockCh:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if failWith != nil {
		return "", failWith
	}
	if hasScript {
		return scripted, nil
	}
	return strings.TrimRight(original, "\n") + "\n\n" + strings.TrimSpace(fragment) + "\n", nil
}

// Close is a no-op for MockGenerator.
func (g *MockGenerator) Close() error {
	return nil
}
