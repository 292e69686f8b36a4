package web

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsBody_ToModel(t *testing.T) {
	t.Parallel()

	var body *SettingsBody

	assert.Nil(t, body.toModel())

	body = &SettingsBody{MaxRetries: 2, RetryDelaySeconds: 30, TimeoutSeconds: 120}
	settings := body.toModel()
	require.NotNil(t, settings)
	assert.Equal(t, 2, settings.MaxRetries)
	assert.Equal(t, 30, settings.RetryDelaySeconds)
	assert.Equal(t, 120, settings.TimeoutSeconds)
}

func TestCreateDefinitionRequest_Validation(t *testing.T) {
	t.Parallel()

	validate := validator.New(validator.WithRequiredStructEnabled())

	tests := []struct {
		name        string
		request     CreateDefinitionRequest
		expectError bool
	}{
		{
			name:    "valid manual definition",
			request: CreateDefinitionRequest{Name: "Welcome Flow", TriggerType: "manual"},
		},
		{
			name:        "missing trigger type",
			request:     CreateDefinitionRequest{Name: "Welcome Flow"},
			expectError: true,
		},
		{
			name:        "trigger type outside the enum",
			request:     CreateDefinitionRequest{Name: "Welcome Flow", TriggerType: "carrier-pigeon"},
			expectError: true,
		},
		{
			name:        "negative retry settings",
			request:     CreateDefinitionRequest{Name: "Welcome Flow", TriggerType: "manual", Settings: &SettingsBody{MaxRetries: -1}},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := validate.Struct(tt.request)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
