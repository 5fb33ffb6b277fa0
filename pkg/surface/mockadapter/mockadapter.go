// Package mockadapter provides a scriptable surface.Adapter used by the
// Recovery Manager and Executor test suites to reproduce failure storms
// and success sequences deterministically.
package mockadapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/benthamhq/bentham/pkg/surface"
)

// Adapter replays a fixed script of responses/errors, one per call, then
// repeats the last entry for any further calls.
type Adapter struct {
	mu     sync.Mutex
	script []Step
	calls  int

	closed bool
}

// Step is one scripted outcome.
type Step struct {
	Response surface.Response
	Err      error
}

// New returns an Adapter that replays script in order.
func New(script ...Step) *Adapter {
	return &Adapter{script: script}
}

// Calls returns the number of times Query has been invoked so far.
func (a *Adapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *Adapter) Query(ctx context.Context, _ surface.Request) (surface.Response, error) {
	select {
	case <-ctx.Done():
		return surface.Response{}, ctx.Err()
	default:
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.script) == 0 {
		return surface.Response{}, fmt.Errorf("mockadapter: empty script")
	}
	idx := a.calls
	if idx >= len(a.script) {
		idx = len(a.script) - 1
	}
	a.calls++
	step := a.script[idx]
	return step.Response, step.Err
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.Query(ctx, surface.Request{QueryText: "ping"})
	return err
}

func (a *Adapter) Close(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (a *Adapter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
