package transform

import "github.com/ciroautuori/automato/pkg/protocol"

// Factory creates transform step executors.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (*Factory) ID() string {
	return "transform"
}

func (*Factory) Create(config map[string]any) (protocol.StepExecutor, error) {
	return NewStep(config)
}

func (*Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "Template expression producing the step output. JSON documents are decoded into structured values.",
			},
		},
		"required": []string{"expression"},
	}
}
