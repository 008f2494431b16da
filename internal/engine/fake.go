package engine

import (
	"context"
	"io"
	"sync"
)

// FakeFactory is an in-memory Factory for tests.
type FakeFactory struct {
	mu sync.Mutex
	// AvailableErr is returned by Available and Create.
	AvailableErr error
	// CreateErr is returned by Create after the source has been read.
	CreateErr error
	// Reply is streamed, one element per chunk, by every Chat call.
	Reply []string
	// Block, when set, makes Create wait until it is closed or ctx is done.
	Block chan struct{}
	// ReadSource makes Create read every manifest file from the source.
	ReadSource bool

	creates []FakeCreate
	engines []*FakeEngine
}

// FakeCreate records one Create call.
type FakeCreate struct {
	ModelID    string
	SourceKind string
	Files      []string
}

func (f *FakeFactory) Available() error { return f.AvailableErr }

func (f *FakeFactory) Create(ctx context.Context, modelID string, opts Options) (Engine, error) {
	if f.AvailableErr != nil {
		return nil, f.AvailableErr
	}
	rec := FakeCreate{ModelID: modelID, Files: append([]string(nil), opts.Files...)}
	if opts.Source != nil {
		rec.SourceKind = opts.Source.Kind()
	}
	f.mu.Lock()
	f.creates = append(f.creates, rec)
	f.mu.Unlock()

	opts.progress("Loading " + modelID)
	if f.Block != nil {
		select {
		case <-f.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.ReadSource && opts.Source != nil {
		for _, name := range opts.Files {
			rc, err := opts.Source.Open(ctx, name)
			if err != nil {
				return nil, err
			}
			_, _ = io.Copy(io.Discard, rc)
			rc.Close()
		}
	}
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	e := &FakeEngine{reply: f.Reply}
	f.mu.Lock()
	f.engines = append(f.engines, e)
	f.mu.Unlock()
	return e, nil
}

func (f *FakeFactory) Creates() []FakeCreate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCreate(nil), f.creates...)
}

func (f *FakeFactory) Engines() []*FakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeEngine(nil), f.engines...)
}

// FakeEngine streams a fixed reply.
type FakeEngine struct {
	mu       sync.Mutex
	reply    []string
	requests []ChatRequest
	cleared  int
	closed   bool
}

func (e *FakeEngine) Chat(ctx context.Context, req ChatRequest) (Stream, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()
	return &sliceStream{ctx: ctx, chunks: e.reply}, nil
}

func (e *FakeEngine) ClearRuntimeCache(context.Context) error {
	e.mu.Lock()
	e.cleared++
	e.mu.Unlock()
	return nil
}

func (e *FakeEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *FakeEngine) Requests() []ChatRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ChatRequest(nil), e.requests...)
}

func (e *FakeEngine) Cleared() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cleared
}

func (e *FakeEngine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

type sliceStream struct {
	ctx    context.Context
	chunks []string
	i      int
}

func (s *sliceStream) Recv() (Chunk, error) {
	if err := s.ctx.Err(); err != nil {
		return Chunk{}, err
	}
	if s.i >= len(s.chunks) {
		return Chunk{}, io.EOF
	}
	c := Chunk{Content: s.chunks[s.i]}
	s.i++
	return c, nil
}

func (s *sliceStream) Close() error { return nil }
