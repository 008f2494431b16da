//go:build llama

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaBuilt indicates this binary was compiled with real llama support.
const llamaBuilt = true

// LlamaFactory loads GGUF weights in-process through llama.cpp.
type LlamaFactory struct {
	cfg LlamaConfig
}

func NewLlamaFactory(cfg LlamaConfig) *LlamaFactory {
	return &LlamaFactory{cfg: cfg.withDefaults()}
}

func (f *LlamaFactory) Available() error { return nil }

func (f *LlamaFactory) Create(ctx context.Context, modelID string, opts Options) (Engine, error) {
	if opts.Source == nil {
		return nil, errors.New("engine: no weight source")
	}
	name, err := weightsFile(opts.Files)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(f.cfg.ScratchDir, modelID)
	paths, err := Materialize(ctx, dir, opts.Source, opts.Files, opts.OnProgress)
	if err != nil {
		return nil, err
	}
	weights := paths[name]
	opts.progress("Loading model into memory")
	m, err := llama.New(weights, llama.SetContext(f.cfg.CtxSize))
	if err != nil {
		if opts.Source.Kind() == "cache" {
			return nil, fmt.Errorf("%w: %v", ErrCacheMismatch, err)
		}
		return nil, fmt.Errorf("engine: load %s: %w", modelID, err)
	}
	if ctx.Err() != nil {
		m.Free()
		return nil, ctx.Err()
	}
	f.cfg.Logger.Info().Str("model", modelID).Str("source", opts.Source.Kind()).Msg("llama_model_loaded")
	return &llamaEngine{model: m, threads: f.cfg.Threads, scratch: dir}, nil
}

type llamaEngine struct {
	model   *llama.LLama
	threads int
	scratch string
}

func (e *llamaEngine) Chat(ctx context.Context, req ChatRequest) (Stream, error) {
	if e.model == nil {
		return nil, errors.New("llama model not initialized")
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &llamaStream{tokens: make(chan string, 64), done: make(chan struct{}), cancel: cancel}
	e.model.SetTokenCallback(func(tok string) bool {
		select {
		case s.tokens <- tok:
			return true
		case <-ctx.Done():
			return false
		}
	})
	po := []llama.PredictOption{
		llama.SetTokens(max(1, req.MaxTokens)),
		llama.SetThreads(max(1, e.threads)),
		llama.SetTemperature(float32(req.Temperature)),
	}
	prompt := FormatPrompt(req.Messages)
	go func() {
		defer close(s.done)
		_, err := e.model.Predict(prompt, po...)
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		s.err = err
	}()
	return s, nil
}

// ClearRuntimeCache removes weight copies made for this model.
func (e *llamaEngine) ClearRuntimeCache(context.Context) error {
	return os.RemoveAll(e.scratch)
}

func (e *llamaEngine) Close() error {
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
	return nil
}

type llamaStream struct {
	tokens chan string
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

func (s *llamaStream) Recv() (Chunk, error) {
	select {
	case tok := <-s.tokens:
		return Chunk{Content: tok}, nil
	case <-s.done:
	}
	// drain what the callback buffered before Predict returned
	select {
	case tok := <-s.tokens:
		return Chunk{Content: tok}, nil
	default:
	}
	if s.err != nil {
		return Chunk{}, s.err
	}
	return Chunk{FinishReason: "stop"}, io.EOF
}

func (s *llamaStream) Close() error {
	s.cancel()
	<-s.done
	return nil
}
