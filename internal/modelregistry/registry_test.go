package modelregistry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKnownModels(t *testing.T) {
	r := New()

	tests := []struct {
		modelID   string
		vendor    Vendor
		headerKey string
	}{
		{"gemini-2.5-flash", VendorGoogle, "x-google-api-key"},
		{"gpt-4o", VendorOpenAI, "x-openai-api-key"},
		{"claude-4-sonnet", VendorAnthropic, "x-anthropic-api-key"},
		{"meta-llama/llama-4-scout-17b-16e-instruct", VendorGroq, "x-groq-api-key"},
	}

	for _, tt := range tests {
		e, err := r.Resolve(tt.modelID)
		require.NoError(t, err, tt.modelID)
		assert.Equal(t, tt.vendor, e.Vendor)
		assert.Equal(t, tt.headerKey, e.HeaderKey)
	}
}

func TestResolveEmptyFallsBackToDefault(t *testing.T) {
	r := New()
	e, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, DefaultModelID, e.ID)
}

func TestResolveUnknownModel(t *testing.T) {
	r := New()
	_, err := r.Resolve("gpt-99-ultra")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownModel))
}

func TestCredentialResolutionOrder(t *testing.T) {
	creds := Credentials{Override: "user-key", Default: "server-key"}
	assert.Equal(t, "user-key", creds.APIKey())
	assert.True(t, creds.HasOverride())

	creds = Credentials{Default: "server-key"}
	assert.Equal(t, "server-key", creds.APIKey())
	assert.False(t, creds.HasOverride())
}

func TestModelsListedInRegistrationOrder(t *testing.T) {
	r := New()
	all := r.Models()
	require.NotEmpty(t, all)
	assert.Equal(t, "gemini-2.5-flash", all[0].ID)

	seen := map[string]bool{}
	for _, e := range all {
		assert.False(t, seen[e.ID], "duplicate model id %s", e.ID)
		seen[e.ID] = true
	}
}
