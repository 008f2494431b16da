// Package registry is the model catalog: the models shipped with the daemon,
// optionally replaced from a file, plus the models the user added.
package registry

import "hochat/pkg/types"

// DefaultModelID is selected on first start.
const DefaultModelID = "Llama-3.2-1B-Instruct-q4f32_1-MLC"

// Builtin returns a fresh copy of the shipped catalog.
func Builtin() []types.Model {
	return []types.Model{
		{
			ID:          "Llama-3.2-1B-Instruct-q4f32_1-MLC",
			Name:        "Llama 3.2 1B",
			Size:        "~650 MB",
			Description: "Fast and lightweight",
			Recommended: true,
		},
		{
			ID:          "Llama-3.2-3B-Instruct-q4f32_1-MLC",
			Name:        "Llama 3.2 3B",
			Size:        "~1.9 GB",
			Description: "Balanced, better quality",
		},
		{
			ID:          "Phi-3.5-mini-instruct-q4f16_1-MLC",
			Name:        "Phi 3.5 Mini",
			Size:        "~2.2 GB",
			Description: "Excellent for code",
		},
		{
			ID:          "Qwen2.5-1.5B-Instruct-q4f16_1-MLC",
			Name:        "Qwen 2.5 1.5B",
			Size:        "~950 MB",
			Description: "Multilingual",
		},
	}
}

// Catalog is an immutable list of available models.
type Catalog struct {
	models []types.Model
	byID   map[string]int
}

// New builds a catalog. Later entries with a duplicate id are dropped.
func New(models []types.Model) *Catalog {
	c := &Catalog{byID: make(map[string]int, len(models))}
	for _, m := range models {
		if m.ID == "" {
			continue
		}
		if _, dup := c.byID[m.ID]; dup {
			continue
		}
		c.byID[m.ID] = len(c.models)
		c.models = append(c.models, m)
	}
	return c
}

// Models returns the catalog in display order.
func (c *Catalog) Models() []types.Model {
	out := make([]types.Model, len(c.models))
	copy(out, c.models)
	return out
}

// Lookup returns the model with id.
func (c *Catalog) Lookup(id string) (types.Model, bool) {
	i, ok := c.byID[id]
	if !ok {
		return types.Model{}, false
	}
	return c.models[i], true
}

// With returns the catalog followed by the custom models. Custom entries
// that shadow a catalog id are ignored.
func (c *Catalog) With(custom []types.Model) *Catalog {
	all := make([]types.Model, 0, len(c.models)+len(custom))
	all = append(all, c.models...)
	for _, m := range custom {
		m.Custom = true
		m.Recommended = false
		all = append(all, m)
	}
	return New(all)
}
