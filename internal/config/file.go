package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrConfigFile wraps every failure to read or decode a --config file.
var ErrConfigFile = errors.New("config file")

// LoadFile overlays the YAML document at path onto cfg. Keys absent from the
// file keep their current value; unknown keys are rejected so typos surface
// instead of silently falling back to defaults. An empty file is accepted.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigFile, err)
	}
	return decodeYAML(data, path, cfg)
}

func decodeYAML(data []byte, name string, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w %s: %v", ErrConfigFile, name, err)
	}
	return nil
}
