package suggestion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeflow/internal/config"
	"homeflow/internal/logger"
	pkgerrors "homeflow/pkg/errors"
)

type stubGenerator struct {
	name  string
	out   Generated
	err   error
	calls int
}

func (g *stubGenerator) Name() string { return g.name }

func (g *stubGenerator) Generate(context.Context, GenerationContext) (Generated, error) {
	g.calls++
	return g.out, g.err
}

func TestFallbackGenerator_UsesSecondaryOnFailure(t *testing.T) {
	primary := &stubGenerator{name: "primary", err: errors.New("rate limited")}
	secondary := &stubGenerator{name: "secondary", out: Generated{Type: "efficiency", Title: "Shorter delay", Confidence: 0.7}}

	g := NewFallbackGenerator(config.CircuitBreakerConfig{}, logger.NopLogger(), primary, secondary)
	out, err := g.Generate(context.Background(), GenerationContext{AutomationID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, "Shorter delay", out.Title)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
}

func TestFallbackGenerator_PrimaryWins(t *testing.T) {
	primary := &stubGenerator{name: "primary", out: Generated{Type: "safety", Title: "Lock at night", Confidence: 0.9}}
	secondary := &stubGenerator{name: "secondary"}

	g := NewFallbackGenerator(config.CircuitBreakerConfig{}, logger.NopLogger(), primary, secondary)
	_, err := g.Generate(context.Background(), GenerationContext{})
	require.NoError(t, err)
	assert.Zero(t, secondary.calls)
}

func TestFallbackGenerator_AllFail(t *testing.T) {
	g := NewFallbackGenerator(config.CircuitBreakerConfig{Enabled: true}, logger.NopLogger(),
		&stubGenerator{name: "primary", err: errors.New("timeout")},
		&stubGenerator{name: "secondary", err: errors.New("bad gateway")},
	)
	_, err := g.Generate(context.Background(), GenerationContext{AutomationID: "a1"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsGenerationFailed(err))
}

func TestParseGenerated(t *testing.T) {
	out, err := parseGenerated("```json\n{\"type\":\"performance\",\"title\":\"Debounce motion\",\"description\":\"d\",\"configuration\":{\"delay\":30},\"confidence\":0.8}\n```")
	require.NoError(t, err)
	assert.Equal(t, "Debounce motion", out.Title)
	assert.JSONEq(t, `{"delay":30}`, string(out.Configuration))

	_, err = parseGenerated(`{"type":"cosmetic","title":"x","confidence":0.5}`)
	assert.Error(t, err)
	_, err = parseGenerated(`{"type":"safety","title":"x","confidence":1.5}`)
	assert.Error(t, err)
	_, err = parseGenerated(`{"type":"safety","confidence":0.5}`)
	assert.Error(t, err)
	_, err = parseGenerated(`not json`)
	assert.Error(t, err)
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	content := `{"type":"efficiency","title":"Turn off idle lights","description":"Lights stay on for 30 minutes","current_value":"30m","suggested_value":"10m","configuration":{"off_after":"10m"},"confidence":0.82}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]interface{}{"role": "assistant", "content": content},
			}},
		})
	}))
	defer srv.Close()

	g := NewOpenAIGenerator("primary", config.LLMConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1/", Model: "gpt-4o-mini"}, 0)
	out, err := g.Generate(context.Background(), GenerationContext{AutomationID: "a1", Name: "Hall lights"})
	require.NoError(t, err)
	assert.Equal(t, "Turn off idle lights", out.Title)
	assert.InDelta(t, 0.82, out.Confidence, 1e-9)
}
