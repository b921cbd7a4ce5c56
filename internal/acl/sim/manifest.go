package sim

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Manifest stands in for an offline model file. It declares what the runtime
// would otherwise read from the compiled model: memory requirements and the
// byte size of every input and output tensor.
type Manifest struct {
	WorkSize   uint64   `json:"work_size" yaml:"work_size" toml:"work_size"`
	WeightSize uint64   `json:"weight_size" yaml:"weight_size" toml:"weight_size"`
	Inputs     []uint64 `json:"inputs" yaml:"inputs" toml:"inputs"`
	Outputs    []uint64 `json:"outputs" yaml:"outputs" toml:"outputs"`
}

func (m Manifest) validate() error {
	if m.WorkSize == 0 || m.WeightSize == 0 {
		return fmt.Errorf("work_size and weight_size must be > 0")
	}
	if len(m.Inputs) == 0 || len(m.Outputs) == 0 {
		return fmt.Errorf("at least one input and one output are required")
	}
	for i, n := range m.Inputs {
		if n == 0 {
			return fmt.Errorf("input %d has zero size", i)
		}
	}
	for i, n := range m.Outputs {
		if n == 0 {
			return fmt.Errorf("output %d has zero size", i)
		}
	}
	return nil
}

// LoadManifest reads a manifest based on its extension.
// Supports: .yaml/.yml, .json, .toml
func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &m)
	case ".json":
		err = json.Unmarshal(b, &m)
	case ".toml":
		err = toml.Unmarshal(b, &m)
	default:
		return m, fmt.Errorf("unsupported manifest extension: %s", ext)
	}
	if err != nil {
		return m, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return m, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}
