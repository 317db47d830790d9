// Package stage defines pipelines and the transition rules between
// their stages.
//
// A pipeline is an ordered list of stages. Each non-terminal stage has
// a default next stage (the orchestrator's happy path) and a derived
// set of allowed transitions. Terminal stages accept no outbound
// transitions.
//
// Built-in pipelines cover the common cases; additional pipelines can
// be loaded from a YAML file (see LoadFile).
package stage

import "fmt"

// StageDef describes one stage of a pipeline.
type StageDef struct {
	Name     string `yaml:"name"`
	Next     string `yaml:"next,omitempty"`
	Terminal bool   `yaml:"terminal,omitempty"`

	// To restricts outbound transitions to exactly these stages (plus
	// terminal stages). Empty means the default rules apply.
	To []string `yaml:"to,omitempty"`

	// Color is the display color for board rendering (ANSI 256 code
	// or hex string understood by lipgloss).
	Color string `yaml:"color,omitempty"`
}

// Pipeline is a named ordered list of stages. The first stage is the
// entry stage for new items.
type Pipeline struct {
	Name   string     `yaml:"name"`
	Stages []StageDef `yaml:"stages"`
}

// ConfigError reports a reference to an unknown pipeline or stage, or
// an invalid pipeline definition.
type ConfigError struct {
	Pipeline string
	Stage    string
	Reason   string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Stage != "":
		return fmt.Sprintf("pipeline %q: stage %q: %s", e.Pipeline, e.Stage, e.Reason)
	case e.Pipeline != "":
		return fmt.Sprintf("pipeline %q: %s", e.Pipeline, e.Reason)
	default:
		return fmt.Sprintf("pipeline config: %s", e.Reason)
	}
}

// Entry returns the entry stage name for new items.
func (p Pipeline) Entry() string {
	if len(p.Stages) == 0 {
		return ""
	}
	return p.Stages[0].Name
}

// Validate checks the pipeline definition for structural problems:
// missing stages, duplicate names, dangling next/to references, or no
// terminal stage.
func (p Pipeline) Validate() error {
	if p.Name == "" {
		return &ConfigError{Reason: "pipeline name is required"}
	}
	if len(p.Stages) == 0 {
		return &ConfigError{Pipeline: p.Name, Reason: "at least one stage is required"}
	}
	names := make(map[string]bool, len(p.Stages))
	terminal := false
	for _, s := range p.Stages {
		if s.Name == "" {
			return &ConfigError{Pipeline: p.Name, Reason: "stage name is required"}
		}
		if names[s.Name] {
			return &ConfigError{Pipeline: p.Name, Stage: s.Name, Reason: "duplicate stage name"}
		}
		names[s.Name] = true
		if s.Terminal {
			terminal = true
		}
	}
	if !terminal {
		return &ConfigError{Pipeline: p.Name, Reason: "at least one terminal stage is required"}
	}
	for _, s := range p.Stages {
		if s.Terminal && s.Next != "" {
			return &ConfigError{Pipeline: p.Name, Stage: s.Name, Reason: "terminal stage cannot have a next stage"}
		}
		if s.Next != "" && !names[s.Next] {
			return &ConfigError{Pipeline: p.Name, Stage: s.Name, Reason: fmt.Sprintf("next references unknown stage %q", s.Next)}
		}
		for _, t := range s.To {
			if !names[t] {
				return &ConfigError{Pipeline: p.Name, Stage: s.Name, Reason: fmt.Sprintf("to references unknown stage %q", t)}
			}
		}
	}
	return nil
}
