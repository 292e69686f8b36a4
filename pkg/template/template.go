// Package template renders step configuration values against the execution
// context, so configs can reference trigger input and earlier step outputs.
package template

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/ciroautuori/automato/pkg/models"
)

// RenderWithContext renders input against the execution context. The data
// root exposes input_data, step_results and execution identity.
func RenderWithContext(input string, executionCtx models.ExecutionContext) (any, error) {
	data := map[string]any{
		"input_data":   executionCtx.InputData,
		"step_results": executionCtx.StepResults,
		"trigger_type": string(executionCtx.TriggerType),
		"execution": map[string]any{
			"id":            executionCtx.ExecutionID,
			"definition_id": executionCtx.DefinitionID,
			"step_id":       executionCtx.StepID,
		},
	}

	return Render(input, data)
}

// Render executes a text/template with the given data. Results that look
// like JSON documents are decoded so templated configs can produce
// structured values, not only strings.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("step").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %q: %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template %q: %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any
		if err := json.Unmarshal([]byte(result), &jsonResult); err == nil {
			return jsonResult, nil
		}
	}

	return result, nil
}

// RenderString renders a template and coerces the result back to a string.
func RenderString(templateStr string, executionCtx models.ExecutionContext) (string, error) {
	rendered, err := RenderWithContext(templateStr, executionCtx)
	if err != nil {
		return "", err
	}

	switch v := rendered.(type) {
	case string:
		return v, nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode rendered value: %w", err)
		}

		return string(encoded), nil
	}
}
