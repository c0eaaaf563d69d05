package poller

import "sync"

// VisibilityGate reports whether the hosting environment is currently
// observed by a user.
//
// A [Scheduler] configured with pause-when-hidden consults the gate before
// every cycle and subscribes to changes so it can resume immediately when
// attention returns. Implementations must be safe for concurrent use and must
// not hold internal locks while invoking change callbacks.
type VisibilityGate interface {
	// IsObservable reports the current observability.
	IsObservable() bool

	// OnChange registers fn to be called whenever observability flips.
	// The returned function removes the registration and is idempotent.
	OnChange(fn func(observable bool)) (unsubscribe func())
}

// AlwaysObservable returns a gate for hosts without a notion of visibility.
// It always reports observable and never fires change notifications.
func AlwaysObservable() VisibilityGate {
	return alwaysObservable{}
}

type alwaysObservable struct{}

func (alwaysObservable) IsObservable() bool { return true }

func (alwaysObservable) OnChange(func(bool)) func() { return func() {} }

// ManualGate is a [VisibilityGate] driven explicitly by the host, e.g. from
// terminal focus events or window state notifications.
type ManualGate struct {
	mu         sync.Mutex
	observable bool
	nextID     int
	subs       map[int]func(bool)
}

// NewManualGate creates a [ManualGate] with the given initial observability.
func NewManualGate(observable bool) *ManualGate {
	return &ManualGate{
		observable: observable,
		subs:       make(map[int]func(bool)),
	}
}

// IsObservable implements [VisibilityGate].
func (g *ManualGate) IsObservable() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.observable
}

// OnChange implements [VisibilityGate].
func (g *ManualGate) OnChange(fn func(observable bool)) func() {
	if fn == nil {
		return func() {}
	}

	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.subs[id] = fn
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.subs, id)
			g.mu.Unlock()
		})
	}
}

// Set updates observability. Subscribers are notified synchronously, outside
// the gate's lock, and only when the value actually flips.
func (g *ManualGate) Set(observable bool) {
	g.mu.Lock()
	if g.observable == observable {
		g.mu.Unlock()
		return
	}
	g.observable = observable
	subs := make([]func(bool), 0, len(g.subs))
	for _, fn := range g.subs {
		subs = append(subs, fn)
	}
	g.mu.Unlock()

	for _, fn := range subs {
		fn(observable)
	}
}
