package services

import (
	"context"
	"fmt"
	"sync"
)

// flightCall is one in-flight computation and the callers waiting on it.
type flightCall struct {
	done    chan struct{}
	val     []byte
	err     error
	waiters int
	cancel  context.CancelFunc

	// abandoned is set once every waiter has left. The entry stays in the
	// map until the computation returns so no second run starts for the key.
	abandoned bool
}

// flightGroup runs at most one computation per key at a time.
//
// The computation runs on a context detached from every caller. A caller
// that gives up only detaches; the computation is cancelled once no caller
// is left waiting, so the first caller leaving never cancels work that
// others still need.
type flightGroup struct {
	mu    sync.Mutex
	calls map[string]*flightCall
}

// Do runs fn for key, or waits for the run already in flight.
// shared reports whether this caller attached to another caller's run.
// The returned slice is shared between callers and must not be modified.
func (g *flightGroup) Do(
	ctx context.Context, key string, fn func(ctx context.Context) ([]byte, error),
) (val []byte, shared bool, err error) {
	for {
		g.mu.Lock()
		if g.calls == nil {
			g.calls = make(map[string]*flightCall)
		}
		c, ok := g.calls[key]
		if !ok {
			break
		}
		if !c.abandoned {
			c.waiters++
			g.mu.Unlock()
			return g.wait(ctx, c, true)
		}
		g.mu.Unlock()

		// A cancelled run is still winding down; start afresh once it has.
		select {
		case <-c.done:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &flightCall{done: make(chan struct{}), waiters: 1, cancel: cancel}
	g.calls[key] = c
	g.mu.Unlock()

	go g.run(runCtx, key, c, fn)
	return g.wait(ctx, c, false)
}

// InFlight returns the number of keys currently being computed.
func (g *flightGroup) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *flightGroup) run(ctx context.Context, key string, c *flightCall, fn func(ctx context.Context) ([]byte, error)) {
	defer func() {
		if r := recover(); r != nil {
			c.val, c.err = nil, fmt.Errorf("computation for %s panicked: %v", key, r)
		}
		g.mu.Lock()
		if g.calls[key] == c {
			delete(g.calls, key)
		}
		g.mu.Unlock()
		c.cancel()
		close(c.done)
	}()
	c.val, c.err = fn(ctx)
}

func (g *flightGroup) wait(ctx context.Context, c *flightCall, shared bool) ([]byte, bool, error) {
	select {
	case <-c.done:
		return c.val, shared, c.err
	case <-ctx.Done():
	}

	g.mu.Lock()
	c.waiters--
	abandoned := c.waiters == 0
	if abandoned {
		c.abandoned = true
	}
	g.mu.Unlock()

	if abandoned {
		c.cancel()
	}
	return nil, shared, ctx.Err()
}
