// Package rationale produces the human-readable explanation attached to each
// stage's decision. A structured JSON rationale is requested from an LLM and
// replaced by a deterministic fallback when the response cannot be used.
package rationale

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/Sahmey2004/xtern/internal/llm"
	"github.com/Sahmey2004/xtern/internal/schemas"
	schemafiles "github.com/Sahmey2004/xtern/schemas"
)

// Explainer is what stages depend on.
type Explainer interface {
	Explain(ctx context.Context, req Request) (Result, error)
	Notes(ctx context.Context, req NotesRequest) (NotesResult, error)
}

// FallbackRecorder counts responses that were replaced by the fallback.
type FallbackRecorder interface {
	RecordRationaleFallback(stage string)
}

// Request asks for a JSON rationale.
type Request struct {
	// Stage is the audit name used in error messages.
	Stage             string
	Prompt            string
	Fallback          string
	DefaultConfidence float64
	Tier              llm.ModelTier
}

// Result is a usable rationale. When ParseError is non-empty the text is the
// fallback.
type Result struct {
	Text       string
	Confidence float64
	Flags      []string
	LLMUsed    bool
	ParseError string
}

// NotesRequest asks for plain-text notes.
type NotesRequest struct {
	Stage    string
	Prompt   string
	Fallback string
	Tier     llm.ModelTier
}

// NotesResult is the notes text and how it was produced.
type NotesResult struct {
	Text     string
	LLMUsed  bool
	LLMError string
}

// Generator implements Explainer over an llm.Client.
type Generator struct {
	client       llm.Client
	providerName string
	schema       string
	logger       *zap.Logger
	fallbacks    FallbackRecorder
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithFallbackRecorder sets the fallback counter.
func WithFallbackRecorder(r FallbackRecorder) Option {
	return func(g *Generator) { g.fallbacks = r }
}

// WithProviderName sets the display name used in error messages.
func WithProviderName(name string) Option {
	return func(g *Generator) { g.providerName = name }
}

// New creates a Generator.
func New(client llm.Client, opts ...Option) *Generator {
	g := &Generator{
		client:       client,
		providerName: "OpenRouter",
		schema:       schemafiles.Rationale(),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ProviderDisplayName maps a configured provider to the name used in messages.
func ProviderDisplayName(p llm.Provider) string {
	switch p {
	case llm.ProviderGemini:
		return "Gemini"
	default:
		return "OpenRouter"
	}
}

type rationaleResponse struct {
	Rationale  string   `json:"rationale"`
	Confidence *float64 `json:"confidence"`
	Flags      []string `json:"flags"`
}

// Explain requests a JSON rationale. Any client error is returned as an
// *UnreachableError. An unusable response yields the fallback with
// ParseError set and a nil error.
func (g *Generator) Explain(ctx context.Context, req Request) (Result, error) {
	tier := req.Tier
	if tier == "" {
		tier = llm.TierStandard
	}

	raw, err := g.client.GenerateJSON(ctx, req.Prompt, tier)
	if err != nil {
		g.logger.Warn("rationale request failed",
			zap.String("stage", req.Stage),
			zap.Error(err),
		)
		return Result{}, &UnreachableError{Stage: req.Stage, Provider: g.providerName, Cause: err}
	}

	parsed, parseErr := g.parse(raw)
	if parseErr != nil {
		g.logger.Info("rationale response unusable, using fallback",
			zap.String("stage", req.Stage),
			zap.String("reason", parseErr.Detail),
		)
		if g.fallbacks != nil {
			g.fallbacks.RecordRationaleFallback(req.Stage)
		}
		return Result{
			Text:       req.Fallback,
			Confidence: req.DefaultConfidence,
			LLMUsed:    true,
			ParseError: parseErr.Error(),
		}, nil
	}

	confidence := req.DefaultConfidence
	if parsed.Confidence != nil {
		confidence = *parsed.Confidence
	}
	return Result{
		Text:       strings.TrimSpace(parsed.Rationale),
		Confidence: confidence,
		Flags:      parsed.Flags,
		LLMUsed:    true,
	}, nil
}

func (g *Generator) parse(raw string) (*rationaleResponse, *ParseError) {
	cleaned := llm.CleanJSONBlock(raw)
	if cleaned == "" {
		return nil, &ParseError{Provider: g.providerName, Detail: "empty response"}
	}
	if !json.Valid([]byte(cleaned)) {
		return nil, &ParseError{Provider: g.providerName, Detail: "response is not valid JSON"}
	}
	if err := schemas.ValidateJSONString(g.schema, cleaned); err != nil {
		var validationErr *schemas.ValidationError
		if errors.As(err, &validationErr) {
			return nil, &ParseError{Provider: g.providerName, Detail: validationErr.Summary()}
		}
		return nil, &ParseError{Provider: g.providerName, Detail: err.Error()}
	}

	var out rationaleResponse
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, &ParseError{Provider: g.providerName, Detail: err.Error()}
	}
	if strings.TrimSpace(out.Rationale) == "" {
		return nil, &ParseError{Provider: g.providerName, Detail: "rationale is blank"}
	}
	return &out, nil
}

// Notes requests plain-text notes. Configuration and connectivity failures
// are returned as *UnreachableError; any other failure yields the fallback
// with LLMError set.
func (g *Generator) Notes(ctx context.Context, req NotesRequest) (NotesResult, error) {
	tier := req.Tier
	if tier == "" {
		tier = llm.TierStandard
	}

	text, err := g.client.GenerateContent(ctx, req.Prompt, tier)
	if err != nil {
		if isConnectivity(err) {
			return NotesResult{}, &UnreachableError{Stage: req.Stage, Provider: g.providerName, Cause: err}
		}
		g.logger.Info("notes request failed, using fallback",
			zap.String("stage", req.Stage),
			zap.Error(err),
		)
		if g.fallbacks != nil {
			g.fallbacks.RecordRationaleFallback(req.Stage)
		}
		return NotesResult{Text: req.Fallback, LLMError: err.Error()}, nil
	}

	text = strings.TrimSpace(text)
	if text == "" {
		if g.fallbacks != nil {
			g.fallbacks.RecordRationaleFallback(req.Stage)
		}
		return NotesResult{Text: req.Fallback, LLMUsed: true, LLMError: "empty response"}, nil
	}
	return NotesResult{Text: text, LLMUsed: true}, nil
}
