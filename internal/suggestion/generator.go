package suggestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"

	"homeflow/internal/automation"
	"homeflow/internal/config"
	"homeflow/internal/logger"
	"homeflow/pkg/circuitbreaker"
	pkgerrors "homeflow/pkg/errors"
	"homeflow/pkg/metrics"
)

// GenerationContext is everything a generator may look at.
type GenerationContext struct {
	AutomationID  string                   `json:"automation_id"`
	Name          string                   `json:"name"`
	State         string                   `json:"state"`
	Configuration json.RawMessage          `json:"configuration"`
	Stats         automation.StatsSnapshot `json:"stats"`
	UserPatterns  []string                 `json:"user_patterns,omitempty"`
	Preferences   map[string]string        `json:"preferences,omitempty"`
}

// Generated is a generator's proposal before estimation and review.
type Generated struct {
	Type           string          `json:"type" jsonschema:"enum=performance,enum=efficiency,enum=safety,enum=user_experience"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	CurrentValue   string          `json:"current_value"`
	SuggestedValue string          `json:"suggested_value"`
	Configuration  json.RawMessage `json:"configuration" jsonschema:"type=object"`
	Confidence     float64         `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

type Generator interface {
	Name() string
	Generate(ctx context.Context, gc GenerationContext) (Generated, error)
}

const systemPrompt = `You review home automations and propose one concrete improvement.
Answer with a single JSON object matching the schema. "configuration" must be the full
replacement automation configuration. "confidence" is your confidence between 0 and 1.`

// OpenAIGenerator asks a chat completion model for a suggestion.
type OpenAIGenerator struct {
	name    string
	client  openai.Client
	model   string
	limiter *rate.Limiter
	schema  interface{}
}

func NewOpenAIGenerator(name string, cfg config.LLMConfig, requestsPerMinute int) *OpenAIGenerator {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}

	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Limit(float64(requestsPerMinute) / 60)
	}

	reflector := jsonschema.Reflector{AllowAdditionalProperties: false, DoNotReference: true}

	return &OpenAIGenerator{
		name:    name,
		client:  openai.NewClient(opts...),
		model:   model,
		limiter: rate.NewLimiter(limit, 1),
		schema:  reflector.Reflect(&Generated{}),
	}
}

func (g *OpenAIGenerator) Name() string {
	return g.name
}

func (g *OpenAIGenerator) Generate(ctx context.Context, gc GenerationContext) (Generated, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Generated{}, fmt.Errorf("rate limiter: %w", err)
	}

	prompt, err := json.MarshalIndent(gc, "", "  ")
	if err != nil {
		return Generated{}, fmt.Errorf("marshal generation context: %w", err)
	}

	params := openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(string(prompt)),
		},
		MaxCompletionTokens: openai.Int(1200),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "automation_suggestion",
					Description: openai.String("One automation improvement"),
					Schema:      g.schema,
				},
			},
		},
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Generated{}, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Generated{}, fmt.Errorf("no choices in response")
	}

	return parseGenerated(resp.Choices[0].Message.Content)
}

func parseGenerated(content string) (Generated, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimSuffix(strings.TrimPrefix(content, "```"), "```")

	var out Generated
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return Generated{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if out.Title == "" {
		return Generated{}, fmt.Errorf("response has no title")
	}
	if _, err := ParseType(out.Type); err != nil {
		return Generated{}, err
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return Generated{}, fmt.Errorf("confidence %v out of range", out.Confidence)
	}
	if len(out.Configuration) > 0 && !json.Valid(out.Configuration) {
		return Generated{}, fmt.Errorf("configuration is not valid JSON")
	}
	return out, nil
}

type guardedGenerator struct {
	generator Generator
	breaker   *circuitbreaker.Breaker
}

// FallbackGenerator tries each generator in order, each behind its own
// circuit breaker, and returns the first success.
type FallbackGenerator struct {
	chain  []guardedGenerator
	logger logger.Logger
}

func NewFallbackGenerator(cbCfg config.CircuitBreakerConfig, log logger.Logger, generators ...Generator) *FallbackGenerator {
	f := &FallbackGenerator{logger: log}
	for _, g := range generators {
		f.chain = append(f.chain, guardedGenerator{
			generator: g,
			breaker:   circuitbreaker.FromConfig("suggestion-"+g.Name(), cbCfg),
		})
	}
	return f
}

func (f *FallbackGenerator) Name() string {
	return "fallback"
}

func (f *FallbackGenerator) Generate(ctx context.Context, gc GenerationContext) (Generated, error) {
	var errs []string
	for _, link := range f.chain {
		name := link.generator.Name()
		start := time.Now()

		out, err := circuitbreaker.Run(ctx, link.breaker, func() (Generated, error) {
			return link.generator.Generate(ctx, gc)
		})
		metrics.ObserveSuggestionGeneratorDuration(name, time.Since(start))
		if err == nil {
			metrics.IncSuggestionGeneratorRequest(name, "success")
			return out, nil
		}

		if circuitbreaker.IsRejected(err) {
			metrics.IncSuggestionGeneratorRequest(name, "skipped")
			f.logger.DebugwCtx(ctx, "Suggestion generator skipped, breaker open", "generator", name)
		} else {
			metrics.IncSuggestionGeneratorRequest(name, "error")
			f.logger.WarnwCtx(ctx, "Suggestion generator failed", "generator", name, "error", err)
		}
		errs = append(errs, fmt.Sprintf("%s: %v", name, err))

		if ctx.Err() != nil {
			break
		}
	}

	return Generated{}, pkgerrors.ErrGenerationFailed.
		WithMessage("all suggestion generators failed").
		WithDetail("automation_id", gc.AutomationID).
		WithDetail("errors", errs)
}
