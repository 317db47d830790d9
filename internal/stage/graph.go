package stage

import "slices"

// Graph holds compiled pipelines and answers transition queries.
type Graph struct {
	pipelines map[string]Pipeline
	// transitions[pipeline][from] is the set of allowed targets.
	transitions map[string]map[string]map[string]struct{}
}

// NewGraph compiles the built-in pipelines plus any custom ones. A
// custom pipeline with a built-in's name replaces it. Every pipeline
// must validate; the first failure aborts compilation.
func NewGraph(custom ...Pipeline) (*Graph, error) {
	g := &Graph{
		pipelines:   make(map[string]Pipeline),
		transitions: make(map[string]map[string]map[string]struct{}),
	}
	for _, p := range Builtins() {
		if err := g.add(p); err != nil {
			return nil, err
		}
	}
	for _, p := range custom {
		if err := g.add(p); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Graph) add(p Pipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}
	g.pipelines[p.Name] = p
	g.transitions[p.Name] = compile(p)
	return nil
}

// compile derives the allowed-transition sets for one pipeline:
//
//   - explicit To lists are honored verbatim (plus terminal stages)
//   - otherwise a non-terminal stage may advance to its next stage,
//     move backward to any earlier non-terminal stage (rework), or
//     jump to any terminal stage
//   - terminal stages allow nothing out
func compile(p Pipeline) map[string]map[string]struct{} {
	terminals := make([]string, 0, 2)
	index := make(map[string]int, len(p.Stages))
	for i, s := range p.Stages {
		index[s.Name] = i
		if s.Terminal {
			terminals = append(terminals, s.Name)
		}
	}

	out := make(map[string]map[string]struct{}, len(p.Stages))
	for i, s := range p.Stages {
		targets := make(map[string]struct{})
		if s.Terminal {
			out[s.Name] = targets
			continue
		}
		if len(s.To) > 0 {
			for _, t := range s.To {
				targets[t] = struct{}{}
			}
		} else {
			if s.Next != "" {
				targets[s.Next] = struct{}{}
			}
			for j := 0; j < i; j++ {
				if !p.Stages[j].Terminal {
					targets[p.Stages[j].Name] = struct{}{}
				}
			}
		}
		for _, t := range terminals {
			targets[t] = struct{}{}
		}
		delete(targets, s.Name)
		out[s.Name] = targets
	}
	return out
}

// Pipeline returns the named pipeline definition.
func (g *Graph) Pipeline(name string) (Pipeline, error) {
	p, ok := g.pipelines[name]
	if !ok {
		return Pipeline{}, &ConfigError{Pipeline: name, Reason: "unknown pipeline"}
	}
	return p, nil
}

// Pipelines returns the known pipeline names, sorted.
func (g *Graph) Pipelines() []string {
	names := make([]string, 0, len(g.pipelines))
	for name := range g.pipelines {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Stages returns the stage definitions of a pipeline in order.
func (g *Graph) Stages(pipeline string) ([]StageDef, error) {
	p, err := g.Pipeline(pipeline)
	if err != nil {
		return nil, err
	}
	out := make([]StageDef, len(p.Stages))
	copy(out, p.Stages)
	return out, nil
}

// Entry returns the entry stage for new items in a pipeline.
func (g *Graph) Entry(pipeline string) (string, error) {
	p, err := g.Pipeline(pipeline)
	if err != nil {
		return "", err
	}
	return p.Entry(), nil
}

// ValidTransition reports whether from → to is allowed. Unknown
// pipelines or stages return a ConfigError; a known but disallowed
// transition returns (false, nil).
func (g *Graph) ValidTransition(pipeline, from, to string) (bool, error) {
	trans, ok := g.transitions[pipeline]
	if !ok {
		return false, &ConfigError{Pipeline: pipeline, Reason: "unknown pipeline"}
	}
	targets, ok := trans[from]
	if !ok {
		return false, &ConfigError{Pipeline: pipeline, Stage: from, Reason: "unknown stage"}
	}
	if _, ok := trans[to]; !ok {
		return false, &ConfigError{Pipeline: pipeline, Stage: to, Reason: "unknown stage"}
	}
	_, allowed := targets[to]
	return allowed, nil
}

// DefaultNext returns the default next stage from the given stage, or
// "" when the stage is terminal or has no next.
func (g *Graph) DefaultNext(pipeline, from string) (string, error) {
	p, err := g.Pipeline(pipeline)
	if err != nil {
		return "", err
	}
	for _, s := range p.Stages {
		if s.Name == from {
			return s.Next, nil
		}
	}
	return "", &ConfigError{Pipeline: pipeline, Stage: from, Reason: "unknown stage"}
}

// IsTerminal reports whether the stage is terminal in the pipeline.
func (g *Graph) IsTerminal(pipeline, stage string) (bool, error) {
	p, err := g.Pipeline(pipeline)
	if err != nil {
		return false, err
	}
	for _, s := range p.Stages {
		if s.Name == stage {
			return s.Terminal, nil
		}
	}
	return false, &ConfigError{Pipeline: pipeline, Stage: stage, Reason: "unknown stage"}
}

// Known reports whether the stage exists in the pipeline at all.
func (g *Graph) Known(pipeline, stage string) bool {
	trans, ok := g.transitions[pipeline]
	if !ok {
		return false
	}
	_, ok = trans[stage]
	return ok
}

// Color returns the display color configured for a stage, or "" when
// none is set.
func (g *Graph) Color(pipeline, stage string) string {
	p, ok := g.pipelines[pipeline]
	if !ok {
		return ""
	}
	for _, s := range p.Stages {
		if s.Name == stage {
			return s.Color
		}
	}
	return ""
}
