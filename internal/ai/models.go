package ai

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelSet names the models one provider uses per generation kind. Empty
// fields fall back to the compiled-in defaults.
type ModelSet struct {
	Default    string `yaml:"default"`
	Reasoning  string `yaml:"reasoning"`
	Structured string `yaml:"structured"`
	Embedding  string `yaml:"embedding"`
}

type modelsFile struct {
	Providers map[string]ModelSet `yaml:"providers"`
}

// loadModelSets reads per-provider model overrides from a YAML file.
func loadModelSets(path string) (map[Provider]ModelSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models file: %w", err)
	}
	var f modelsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse models file %s: %w", path, err)
	}
	out := make(map[Provider]ModelSet, len(f.Providers))
	for name, set := range f.Providers {
		out[Provider(name)] = set
	}
	return out, nil
}

type modelKind int

const (
	kindDefault modelKind = iota
	kindReasoning
	kindStructured
	kindEmbedding
)

// modelOverride returns the configured model for a provider and kind, or the
// given fallback when no override exists. An empty fallback defers to the
// backend's own default.
func (s *Service) modelOverride(p Provider, kind modelKind, fallback string) string {
	set, ok := s.models[p]
	if !ok {
		return fallback
	}
	var m string
	switch kind {
	case kindReasoning:
		m = set.Reasoning
	case kindStructured:
		m = set.Structured
	case kindEmbedding:
		m = set.Embedding
	default:
		m = set.Default
	}
	if m == "" {
		return fallback
	}
	return m
}
