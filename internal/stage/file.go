package stage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// pipelinesFile is the on-disk shape of a pipelines.yaml file:
//
//	pipelines:
//	  - name: research
//	    stages:
//	      - name: idea
//	        next: draft
//	      - name: draft
//	        terminal: true
type pipelinesFile struct {
	Pipelines []Pipeline `yaml:"pipelines"`
}

// LoadFile reads custom pipeline definitions from a YAML file. Every
// pipeline is validated; the first invalid one fails the whole load so
// a broken file never half-applies.
func LoadFile(path string) ([]Pipeline, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from config
	if err != nil {
		return nil, fmt.Errorf("failed to read pipelines file: %w", err)
	}
	var f pipelinesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse pipelines file: %w", err)
	}
	for _, p := range f.Pipelines {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid pipelines file: %w", err)
		}
	}
	return f.Pipelines, nil
}

// LoadGraph builds a Graph from the built-ins plus the pipelines file
// at path. An empty path yields the built-ins alone.
func LoadGraph(path string) (*Graph, error) {
	if path == "" {
		return NewGraph()
	}
	custom, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewGraph(custom...)
}
