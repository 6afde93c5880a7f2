package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// applyGenesisFile overlays staking parameters from a YAML genesis document.
// Fields absent from the document keep their TOML values.
func (s *Staking) applyGenesisFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read genesis file: %w", err)
	}
	overlay := *s
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("decode genesis file %s: %w", path, err)
	}
	overlay.GenesisFile = s.GenesisFile
	overlay.Paused = s.Paused
	*s = overlay
	return nil
}
