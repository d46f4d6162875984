package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// LoadFile decodes a TOML file over cfg. Keys absent from the file keep
// their current values.
func LoadFile(path string, cfg *Config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys in config file %s: %v", path, undecoded)
	}
	return nil
}
