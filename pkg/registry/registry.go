// Package registry holds the statically registered table of step executor
// factories, keyed by step type.
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ciroautuori/automato/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

type Registry struct {
	logger    *slog.Logger
	factories map[string]protocol.StepExecutorFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		factories: make(map[string]protocol.StepExecutorFactory),
	}
}

// Register adds a step executor factory. A later registration for the same
// step type replaces the earlier one.
func (r *Registry) Register(factory protocol.StepExecutorFactory) {
	r.factories[factory.ID()] = factory
}

// StepTypes returns the registered step types.
func (r *Registry) StepTypes() []string {
	types := make([]string, 0, len(r.factories))
	for stepType := range r.factories {
		types = append(types, stepType)
	}

	return types
}

// Create instantiates an executor for the given step type.
func (r *Registry) Create(stepType string, config map[string]any) (protocol.StepExecutor, error) {
	factory, ok := r.factories[stepType]
	if !ok {
		return nil, fmt.Errorf("step type %q not registered", stepType)
	}

	return factory.Create(config)
}

// ValidateConfig checks a step config against the factory's JSON schema.
// Called at definition activation so malformed configs are rejected before
// any execution starts.
func (r *Registry) ValidateConfig(stepType string, config map[string]any) error {
	factory, ok := r.factories[stepType]
	if !ok {
		return fmt.Errorf("step type %q not registered", stepType)
	}

	schema := factory.Schema()
	if schema == nil {
		return nil
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("failed to marshal schema for step type %q: %w", stepType, err)
	}

	if config == nil {
		config = map[string]any{}
	}

	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config for step type %q: %w", stepType, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(configJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to validate config for step type %q: %w", stepType, err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("invalid config for step type %q: %s", stepType, strings.Join(details, "; "))
	}

	return nil
}
