package stage

// DefaultPipeline is the pipeline assigned to items that do not name
// one.
const DefaultPipeline = "dev"

// Builtins returns the built-in pipeline definitions.
//
// "dev" models the orchestrated development flow: items advance
// queued → planning → coding → testing → review → done, with errored
// and cancelled reachable from any non-terminal stage.
//
// "basic" is a plain three-column board.
func Builtins() []Pipeline {
	return []Pipeline{
		{
			Name: "dev",
			Stages: []StageDef{
				{Name: "queued", Next: "planning", Color: "245"},
				{Name: "planning", Next: "coding", Color: "39"},
				{Name: "coding", Next: "testing", Color: "214"},
				{Name: "testing", Next: "review", Color: "135"},
				{Name: "review", Next: "done", Color: "220"},
				{Name: "done", Terminal: true, Color: "42"},
				{Name: "errored", Terminal: true, Color: "196"},
				{Name: "cancelled", Terminal: true, Color: "240"},
			},
		},
		{
			Name: "basic",
			Stages: []StageDef{
				{Name: "todo", Next: "doing", Color: "245"},
				{Name: "doing", Next: "done", Color: "39"},
				{Name: "done", Terminal: true, Color: "42"},
			},
		},
	}
}
