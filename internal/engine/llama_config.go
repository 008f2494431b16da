package engine

import "github.com/rs/zerolog"

// LlamaConfig configures the in-process llama.cpp runtime.
type LlamaConfig struct {
	// ScratchDir receives weight files that are not already on local disk.
	ScratchDir string
	CtxSize    int
	Threads    int
	Logger     zerolog.Logger
}

func (c LlamaConfig) withDefaults() LlamaConfig {
	if c.CtxSize <= 0 {
		c.CtxSize = 4096
	}
	if c.Threads <= 0 {
		c.Threads = 4
	}
	return c
}

// LlamaBuilt reports whether this binary links llama.cpp.
func LlamaBuilt() bool { return llamaBuilt }
