package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"hochat/internal/assetcache"
	"hochat/internal/loader"
	"hochat/internal/registry"
	"hochat/internal/store"
)

// Defaults applied when the corresponding Config fields are unset.
const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 2048
)

// ModelLoader materializes engines. *loader.Loader implements it.
type ModelLoader interface {
	Load(ctx context.Context, modelID string, onProgress func(string)) (*loader.Result, error)
	Populations() []*loader.Population
}

// Capability reports whether the inference runtime can run at all.
type Capability interface {
	Available() error
}

// Config wires a Manager.
type Config struct {
	Store   *store.Store
	Loader  ModelLoader
	Runtime Capability
	// Tier is wiped by ClearCache; nil means no cache tier.
	Tier    assetcache.Tier
	Catalog *registry.Catalog
	// LegacyPath is the flat store migrated on first start; empty skips it.
	LegacyPath   string
	DefaultModel string
	// AccessToken is used until a token is stored in settings.
	AccessToken string
	// Temperature nil means defaultTemperature; zero is greedy sampling.
	Temperature *float64
	MaxTokens   int
	Publisher   EventPublisher
	Logger      zerolog.Logger
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (c *Config) applyDefaults() error {
	if c.Store == nil {
		return errors.New("manager: store is required")
	}
	if c.Loader == nil {
		return errors.New("manager: loader is required")
	}
	if c.Catalog == nil {
		c.Catalog = registry.New(registry.Builtin())
	}
	if c.Tier == nil {
		c.Tier = assetcache.Unsupported{}
	}
	if c.DefaultModel == "" {
		c.DefaultModel = registry.DefaultModelID
	}
	if c.Temperature == nil {
		t := defaultTemperature
		c.Temperature = &t
	} else if *c.Temperature < 0 {
		return fmt.Errorf("manager: temperature %v is negative", *c.Temperature)
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}
