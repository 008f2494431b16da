package manager

import "hochat/pkg/types"

// State is the engine lifecycle state shown to clients.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// Snapshot is a read-only projection of the controller state.
type Snapshot struct {
	// Seq increases with every change.
	Seq            uint64
	State          State
	SelectedModel  string
	EngineReady    bool
	Loading        bool
	Generating     bool
	Progress       string
	LoadPath       string
	ConversationID string
	Messages       []types.Message
	Err            string
	Notice         string
}
