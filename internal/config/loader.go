package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"omrun/internal/common/fsutil"
)

// Config holds the parameters of a run or a server.
// Zero values mean "unspecified"; Defaults and Merge fill them in.
type Config struct {
	Backend      string   `json:"backend" yaml:"backend" toml:"backend"`
	DeviceID     int      `json:"device_id" yaml:"device_id" toml:"device_id"`
	ACLConfig    string   `json:"acl_config" yaml:"acl_config" toml:"acl_config"`
	Model        string   `json:"model" yaml:"model" toml:"model"`
	Inputs       []string `json:"inputs" yaml:"inputs" toml:"inputs"`
	TopK         int      `json:"top_k" yaml:"top_k" toml:"top_k"`
	NoRank       bool     `json:"no_rank" yaml:"no_rank" toml:"no_rank"`
	DumpDir      string   `json:"dump_dir" yaml:"dump_dir" toml:"dump_dir"`
	OutputDType  string   `json:"output_dtype" yaml:"output_dtype" toml:"output_dtype"`
	Addr         string   `json:"addr" yaml:"addr" toml:"addr"`
	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	LogLevel     string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat    string   `json:"log_format" yaml:"log_format" toml:"log_format"`
	SimRunMode   string   `json:"sim_run_mode" yaml:"sim_run_mode" toml:"sim_run_mode"`
	ORTLibrary   string   `json:"ort_library" yaml:"ort_library" toml:"ort_library"`
}

// Defaults returns the values used when neither a file nor a flag sets them.
func Defaults() Config {
	return Config{
		Backend:     "acl",
		TopK:        5,
		OutputDType: "float32",
		Addr:        ":8080",
		LogLevel:    "info",
		LogFormat:   "auto",
		SimRunMode:  "host",
	}
}

// Merge returns c with every non-zero field of over applied on top.
func (c Config) Merge(over Config) Config {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Backend, over.Backend)
	set(&c.ACLConfig, over.ACLConfig)
	set(&c.Model, over.Model)
	set(&c.DumpDir, over.DumpDir)
	set(&c.OutputDType, over.OutputDType)
	set(&c.Addr, over.Addr)
	set(&c.LogLevel, over.LogLevel)
	set(&c.LogFormat, over.LogFormat)
	set(&c.SimRunMode, over.SimRunMode)
	set(&c.ORTLibrary, over.ORTLibrary)
	if over.DeviceID != 0 {
		c.DeviceID = over.DeviceID
	}
	if over.TopK != 0 {
		c.TopK = over.TopK
	}
	if over.NoRank {
		c.NoRank = true
	}
	if over.MaxBodyBytes != 0 {
		c.MaxBodyBytes = over.MaxBodyBytes
	}
	if len(over.Inputs) > 0 {
		c.Inputs = append([]string(nil), over.Inputs...)
	}
	return c
}

// ExpandPaths expands a leading '~' in every path field.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.ACLConfig, &c.Model, &c.DumpDir, &c.ORTLibrary} {
		v, err := fsutil.ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = v
	}
	inputs, err := fsutil.ExpandAll(c.Inputs)
	if err != nil {
		return err
	}
	c.Inputs = inputs
	return nil
}

// RankK is the number of elements to rank per output; 0 when ranking is off.
func (c Config) RankK() int {
	if c.NoRank {
		return 0
	}
	return c.TopK
}

// Validate rejects values no backend can use.
func (c Config) Validate() error {
	if c.DeviceID < 0 {
		return fmt.Errorf("device_id must be >= 0, got %d", c.DeviceID)
	}
	if c.TopK < 0 {
		return fmt.Errorf("top_k must be >= 0, got %d", c.TopK)
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes must be >= 0, got %d", c.MaxBodyBytes)
	}
	switch c.LogFormat {
	case "", "auto", "json", "console":
	default:
		return fmt.Errorf("unsupported log_format %q", c.LogFormat)
	}
	return nil
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return cfg, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
