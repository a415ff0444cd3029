// Package boundary is the client's top-level failure wrapper. A Guard runs
// one unit of work at a time; when it fails the guard stays in Errored until
// the user reloads or goes back home.
package boundary

import (
	"context"
	"log"
	"sync"

	"github.com/pkg/errors"

	"lms-realtime/api"
	"lms-realtime/telemetry"
)

type Status int

const (
	Idle Status = iota
	Ready
	NotFound
	Errored
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case NotFound:
		return "not_found"
	}
	return "errored"
}

type State struct {
	Status Status
	Kind   api.Kind
	Err    error
}

// ErrBlocked is returned by Run while the guard is in Errored.
var ErrBlocked = errors.New("boundary: errored, reload or reset first")

type Work func(ctx context.Context) error

type Guard struct {
	reporter telemetry.Reporter
	reset    func()

	mu    sync.Mutex
	state State
	last  Work
}

// New returns an idle guard. reset is called by ResetToHome and should drop
// all in-memory client state.
func New(reporter telemetry.Reporter, reset func()) *Guard {
	return &Guard{reporter: telemetry.OrNop(reporter), reset: reset}
}

func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Run executes fn unless the guard is already errored. Panics and returned
// errors both end up in the resulting State.
func (g *Guard) Run(ctx context.Context, fn Work) (State, error) {
	g.mu.Lock()
	if g.state.Status == Errored {
		st := g.state
		g.mu.Unlock()
		return st, ErrBlocked
	}
	g.last = fn
	g.mu.Unlock()

	return g.exec(ctx, fn), nil
}

// Reload re-runs the last unit of work, clearing an Errored state first.
func (g *Guard) Reload(ctx context.Context) State {
	g.mu.Lock()
	fn := g.last
	g.state = State{Status: Idle}
	g.mu.Unlock()

	if fn == nil {
		return State{Status: Idle}
	}
	return g.exec(ctx, fn)
}

// ResetToHome forgets the failure and the last unit of work.
func (g *Guard) ResetToHome() State {
	if g.reset != nil {
		g.reset()
	}
	g.mu.Lock()
	g.state = State{Status: Idle}
	g.last = nil
	g.mu.Unlock()
	return State{Status: Idle}
}

func (g *Guard) exec(ctx context.Context, fn Work) State {
	err := call(ctx, fn)

	st := State{Status: Ready}
	if err != nil {
		st.Err = err
		st.Kind = api.Classify(err)
		if st.Kind == api.KindNotFound {
			st.Status = NotFound
		} else {
			st.Status = Errored
			log.Printf("[APP] Unrecoverable %s error: %v", st.Kind, err)
			g.reporter.Error(err, map[string]interface{}{"kind": st.Kind.String()})
		}
	}

	g.mu.Lock()
	g.state = st
	g.mu.Unlock()
	return st
}

func call(ctx context.Context, fn Work) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
