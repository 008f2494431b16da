//go:build !llama

package engine

import (
	"context"
	"fmt"
)

// This file is compiled when the 'llama' build tag is NOT set, so default
// builds do not link llama.cpp. The real factory lives in llama.go.

const llamaBuilt = false

type LlamaFactory struct {
	cfg LlamaConfig
}

func NewLlamaFactory(cfg LlamaConfig) *LlamaFactory {
	return &LlamaFactory{cfg: cfg.withDefaults()}
}

func (f *LlamaFactory) Available() error {
	return fmt.Errorf("%w: llama support not built (missing 'llama' build tag)", ErrUnavailable)
}

func (f *LlamaFactory) Create(context.Context, string, Options) (Engine, error) {
	return nil, f.Available()
}
