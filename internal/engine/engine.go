// Package engine is the boundary to the inference runtime: load a model by
// id from a weight source, then stream chat completions from it.
package engine

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrCacheMismatch marks a load failure caused by weight files that do
	// not match what the runtime expects. The remedy is to wipe the cached
	// copy and load again.
	ErrCacheMismatch = errors.New("engine: cache mismatch")
	// ErrUnavailable means the runtime is not present in this build or
	// environment.
	ErrUnavailable = errors.New("engine: runtime unavailable")
	// ErrUnsupportedFormat means the model's files are not in a format the
	// runtime can open.
	ErrUnsupportedFormat = errors.New("engine: unsupported weight format")
)

// Source yields the weight files of one model.
type Source interface {
	// Kind is "cache" or "remote".
	Kind() string
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// LocalSource is implemented by sources whose files already live on local
// disk, letting the runtime read them in place.
type LocalSource interface {
	Source
	LocalPath(name string) string
}

// Options are passed to Factory.Create.
type Options struct {
	// OnProgress receives human readable progress text.
	OnProgress func(string)
	Source     Source
	// Files is the manifest, in order.
	Files []string
}

func (o Options) progress(text string) {
	if o.OnProgress != nil {
		o.OnProgress(text)
	}
}

// Message is one chat turn sent to the runtime.
type Message struct {
	Role    string
	Content string
	Images  []string
}

// ChatRequest asks for a streamed completion.
type ChatRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Chunk is an incremental piece of assistant content.
type Chunk struct {
	Content      string
	FinishReason string
}

// Stream is a finite, non-restartable sequence of chunks. Recv returns
// io.EOF once generation has completed.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Engine is a loaded model.
type Engine interface {
	Chat(ctx context.Context, req ChatRequest) (Stream, error)
	// ClearRuntimeCache wipes state the runtime keeps outside the asset
	// cache tier.
	ClearRuntimeCache(ctx context.Context) error
	Close() error
}

// Factory constructs engines.
type Factory interface {
	// Available reports (wrapping ErrUnavailable) when the runtime cannot be
	// used at all.
	Available() error
	// Create loads modelID. Canceling ctx aborts in-flight transfers.
	Create(ctx context.Context, modelID string, opts Options) (Engine, error)
}
