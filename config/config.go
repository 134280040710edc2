package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Chain holds the node's chain-level settings.
type Chain struct {
	// DataDir is where the state store and the state id anchor live.
	DataDir string `json:"dataDir" toml:"dataDir"`
	// BlockGasLimit caps the cumulative gas of a block.
	BlockGasLimit uint64 `json:"blockGasLimit" toml:"blockGasLimit"`
	// MigrationBlock designates the stake contract migration height; zero
	// disables migration.
	MigrationBlock uint64 `json:"migrationBlock" toml:"migrationBlock"`
	// FeederBufferSize is the capacity of feeder query channels.
	FeederBufferSize int `json:"feederBufferSize" toml:"feederBufferSize"`
	// GenerationTimeoutMillis bounds block generation upstream of the core.
	GenerationTimeoutMillis uint64 `json:"generationTimeoutMillis" toml:"generationTimeoutMillis"`
	// LogFile, when set, routes logs through a rotating file writer.
	LogFile string `json:"logFile" toml:"logFile"`
}

// Default returns the chain defaults applied underneath any loaded file.
func Default() Chain {
	return Chain{
		DataDir:                 ".rusk",
		BlockGasLimit:           5_000_000_000,
		FeederBufferSize:        64,
		GenerationTimeoutMillis: 5_000,
	}
}

// Load reads a chain config from a TOML or JSON file, layering it over the
// defaults.
func Load(path string) (Chain, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, errors.New("config: path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml", ".tml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("config: decode toml: %w", err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("config: decode json: %w", err)
		}
	default:
		return cfg, fmt.Errorf("config: unsupported extension %q", ext)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the settings for consistency.
func (c Chain) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("config: dataDir required")
	}
	if c.BlockGasLimit == 0 {
		return errors.New("config: blockGasLimit must be positive")
	}
	if c.FeederBufferSize <= 0 {
		return errors.New("config: feederBufferSize must be positive")
	}
	return nil
}
