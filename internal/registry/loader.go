package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"hochat/internal/common/fsutil"
	"hochat/pkg/types"
)

type catalogFile struct {
	Models []types.Model `json:"models" yaml:"models"`
}

// LoadFile reads a catalog from a .yaml/.yml or .json file. The file holds
// either a top-level list of models or an object with a models key.
func LoadFile(path string) ([]types.Model, error) {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var models []types.Model
	switch strings.ToLower(filepath.Ext(p)) {
	case ".yaml", ".yml":
		models, err = decodeYAML(b)
	case ".json":
		models, err = decodeJSON(b)
	default:
		return nil, fmt.Errorf("unsupported catalog extension: %s", filepath.Ext(p))
	}
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", p, err)
	}
	for i, m := range models {
		if strings.TrimSpace(m.ID) == "" {
			return nil, fmt.Errorf("catalog %s: entry %d has no id", p, i)
		}
		if m.Name == "" {
			models[i].Name = m.ID
		}
	}
	return models, nil
}

func decodeYAML(b []byte) ([]types.Model, error) {
	var list []types.Model
	if err := yaml.Unmarshal(b, &list); err == nil {
		return list, nil
	}
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return f.Models, nil
}

func decodeJSON(b []byte) ([]types.Model, error) {
	var list []types.Model
	if err := json.Unmarshal(b, &list); err == nil {
		return list, nil
	}
	var f catalogFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return f.Models, nil
}

// Load returns the builtin catalog, or the one in path when path is set.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return New(Builtin()), nil
	}
	models, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return New(models), nil
}
