package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hochat/internal/assetcache"
	"hochat/internal/engine"
	"hochat/internal/registry"
	"hochat/internal/store"
	"hochat/pkg/types"
)

// Manager is the session and engine controller. It is safe for concurrent
// use.
type Manager struct {
	store   *store.Store
	loader  ModelLoader
	runtime Capability
	tier    assetcache.Tier
	catalog *registry.Catalog
	legacy  string
	temp    float64
	maxTok  int
	pub     EventPublisher
	log     zerolog.Logger
	now     func() time.Time
	started time.Time

	// base outlives requests; background loads derive from it.
	base       context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu         sync.RWMutex
	seq        uint64
	selected   string
	custom     []types.Model
	token      string
	eng        engine.Engine
	loading    bool
	loadGen    uint64
	loadCancel context.CancelCauseFunc
	loadPath   string
	generating bool
	progress   string
	messages   []types.Message
	convID     string
	sessionGen uint64
	err        string
	notice     string
	subs       map[chan Snapshot]struct{}

	// saveMu serializes writes of the active conversation.
	saveMu sync.Mutex
}

// New validates cfg and returns an idle Manager. Call Init before use.
func New(cfg Config) (*Manager, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	base, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:      cfg.Store,
		loader:     cfg.Loader,
		runtime:    cfg.Runtime,
		tier:       cfg.Tier,
		catalog:    cfg.Catalog,
		legacy:     cfg.LegacyPath,
		temp:       *cfg.Temperature,
		maxTok:     cfg.MaxTokens,
		pub:        cfg.Publisher,
		log:        cfg.Logger,
		now:        cfg.Now,
		started:    cfg.Now(),
		base:       base,
		baseCancel: cancel,
		selected:   cfg.DefaultModel,
		token:      cfg.AccessToken,
		messages:   []types.Message{},
		subs:       map[chan Snapshot]struct{}{},
	}
	return m, nil
}

func (m *Manager) snapshotLocked() Snapshot {
	s := Snapshot{
		Seq:            m.seq,
		State:          StateIdle,
		SelectedModel:  m.selected,
		EngineReady:    m.eng != nil,
		Loading:        m.loading,
		Generating:     m.generating,
		Progress:       m.progress,
		LoadPath:       m.loadPath,
		ConversationID: m.convID,
		Messages:       copyMessages(m.messages),
		Err:            m.err,
		Notice:         m.notice,
	}
	switch {
	case m.loading:
		s.State = StateLoading
	case m.eng != nil:
		s.State = StateReady
	case m.err != "":
		s.State = StateError
	}
	return s
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// Subscribe returns a channel that receives a snapshot after every change,
// plus a function that ends the subscription. A slow subscriber skips
// intermediate snapshots and only sees the latest.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, ch)
			m.mu.Unlock()
		})
	}
}

// changedLocked bumps the sequence and fans the snapshot out. Callers hold
// m.mu for writing; sends never block.
func (m *Manager) changedLocked() {
	m.seq++
	if len(m.subs) == 0 {
		return
	}
	snap := m.snapshotLocked()
	for ch := range m.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (m *Manager) publish(name string, fields map[string]any) {
	m.mu.RLock()
	model := m.selected
	m.mu.RUnlock()
	m.pub.Publish(Event{Name: name, ModelID: model, Fields: fields})
}

// Status builds the /status response.
func (m *Manager) Status() types.StatusResponse {
	s := m.Snapshot()
	return types.StatusResponse{
		State:                 string(s.State),
		SelectedModel:         s.SelectedModel,
		EngineReady:           s.EngineReady,
		Loading:               s.Loading,
		Generating:            s.Generating,
		Progress:              s.Progress,
		LoadPath:              s.LoadPath,
		CurrentConversationID: s.ConversationID,
		Messages:              s.Messages,
		Error:                 s.Err,
		Notice:                s.Notice,
		UptimeSeconds:         int64(m.now().Sub(m.started).Seconds()),
	}
}

// Ready reports whether an engine is loaded.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eng != nil
}

// Close cancels a running load, waits for background work and releases the
// engine.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.loadCancel != nil {
		m.loadCancel(context.Canceled)
	}
	m.mu.Unlock()
	m.baseCancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	eng := m.eng
	m.eng = nil
	m.changedLocked()
	m.mu.Unlock()
	if eng != nil {
		return eng.Close()
	}
	return nil
}

func copyMessages(in []types.Message) []types.Message {
	out := make([]types.Message, len(in))
	for i, msg := range in {
		out[i] = msg
		if msg.Images != nil {
			out[i].Images = append([]string(nil), msg.Images...)
		}
	}
	return out
}

// resetSessionLocked drops the in-memory conversation.
func (m *Manager) resetSessionLocked() {
	m.messages = []types.Message{}
	m.convID = ""
	m.sessionGen++
}
