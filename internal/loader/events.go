package loader

import "sync"

// State is a step of one load request.
type State string

const (
	StateIdle                 State = "idle"
	StateCheckingCapability   State = "checking_capability"
	StateCheckingManifest     State = "checking_manifest"
	StateFastPath             State = "fast_path"
	StateSlowPathWithPopulate State = "slow_path_with_populate"
	StateSlowPathNoCache      State = "slow_path_no_cache"
	StateReady                State = "ready"
	StateFailed               State = "failed"
)

// Path is the load path a request settled on.
type Path string

const (
	PathFast         Path = "fast"
	PathSlowPopulate Path = "slow_populate"
	PathSlowNoCache  Path = "slow_no_cache"
)

// Event reports a state transition.
type Event struct {
	LoadID  string
	ModelID string
	State   State
	Fields  map[string]any
}

// EventPublisher receives loader events. Publish must not block or panic.
type EventPublisher interface {
	Publish(Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MemoryPublisher stores events in-memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// States lists the states in publication order.
func (p *MemoryPublisher) States() []State {
	evs := p.Events()
	out := make([]State, len(evs))
	for i, e := range evs {
		out[i] = e.State
	}
	return out
}
