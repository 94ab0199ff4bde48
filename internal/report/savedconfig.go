package report

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"
)

// SavedConfig is one named report definition. Query runs against
// Datasource, or against the generator's default datasource when empty.
type SavedConfig struct {
	Title       string            `yaml:"title"`
	Description string            `yaml:"description"`
	Datasource  string            `yaml:"datasource"`
	Query       string            `yaml:"query"`
	Limit       int               `yaml:"limit"`
	Details     map[string]string `yaml:"details"`
}

type savedConfigsDocument struct {
	Configs map[string]SavedConfig `yaml:"configs"`
}

// LoadSavedConfigs reads a YAML or JSON saved-configs file.
func LoadSavedConfigs(path string) (map[string]SavedConfig, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: saved configs path is empty", ErrInvalidConfig)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseSavedConfigs(b)
}

func parseSavedConfigs(b []byte) (map[string]SavedConfig, error) {
	var doc savedConfigsDocument
	if len(bytes.TrimSpace(b)) == 0 {
		return map[string]SavedConfig{}, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if doc.Configs == nil {
		doc.Configs = map[string]SavedConfig{}
	}
	for name, c := range doc.Configs {
		if strings.TrimSpace(c.Query) == "" {
			return nil, fmt.Errorf("%w: %q has no query", ErrInvalidConfig, name)
		}
		if c.Limit < 0 {
			return nil, fmt.Errorf("%w: %q has negative limit", ErrInvalidConfig, name)
		}
	}
	return doc.Configs, nil
}

// SavedConfigNames lists the configurations in path, sorted.
func SavedConfigNames(path string) ([]string, error) {
	cfgs, err := LoadSavedConfigs(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cfgs))
	for k := range cfgs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

func lookupSavedConfig(path, ref string) (SavedConfig, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return SavedConfig{}, ErrEmptyReference
	}
	cfgs, err := LoadSavedConfigs(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return SavedConfig{}, fmt.Errorf("%w: %q (no saved configs file)", ErrConfigNotFound, ref)
		}
		return SavedConfig{}, err
	}
	c, ok := cfgs[ref]
	if !ok {
		return SavedConfig{}, fmt.Errorf("%w: %q", ErrConfigNotFound, ref)
	}
	if strings.TrimSpace(c.Title) == "" {
		c.Title = ref
	}
	return c, nil
}
