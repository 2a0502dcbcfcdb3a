package main

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/javi11/archivemeta/internal/logging"
)

// Config is the optional TOML configuration of the tool.
type Config struct {
	Log     logging.Config `toml:"log"`
	Inspect InspectConfig  `toml:"inspect"`
	Writer  WriterConfig   `toml:"writer"`
}

type InspectConfig struct {
	MaxEOCDProbes    int  `toml:"max_eocd_probes"`
	SevenZipFallback bool `toml:"sevenzip_fallback"`
}

type WriterConfig struct {
	AESStrength      int `toml:"aes_strength"`
	CompressionLevel int `toml:"compression_level"`
}

func defaultConfig() Config {
	return Config{
		Log:     logging.Config{Level: "info", Format: "console", Output: "stderr"},
		Inspect: InspectConfig{MaxEOCDProbes: 1024, SevenZipFallback: true},
		Writer:  WriterConfig{AESStrength: 3, CompressionLevel: -1},
	}
}

// loadConfig reads path over the defaults. An empty path returns defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}
