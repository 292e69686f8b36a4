package delay

import "github.com/ciroautuori/automato/pkg/protocol"

// Factory creates delay step executors.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (*Factory) ID() string {
	return "delay"
}

func (*Factory) Create(config map[string]any) (protocol.StepExecutor, error) {
	return NewStep(config)
}

func (*Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"seconds": map[string]any{
				"type":             "number",
				"exclusiveMinimum": 0,
				"description":      "How long to pause before the next step.",
			},
		},
		"required": []string{"seconds"},
	}
}
