package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single tool call, process start to exit.
const DefaultTimeout = 30 * time.Second

// DefaultClientName is reported to servers in the initialize handshake.
const DefaultClientName = "xtern-mcp-client"

// Invoker calls a named operation on a provider and returns its JSON result.
type Invoker interface {
	Invoke(ctx context.Context, provider Provider, operation string, args any) (json.RawMessage, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, provider Provider, operation string, args any) (json.RawMessage, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, provider Provider, operation string, args any) (json.RawMessage, error) {
	return f(ctx, provider, operation, args)
}

// Metrics receives one observation per tool call.
type Metrics interface {
	RecordToolCall(provider, operation, outcome string, d time.Duration)
}

// StdioClient starts a fresh server process for every call.
type StdioClient struct {
	registry   *Registry
	timeout    time.Duration
	clientName string
	logger     *zap.Logger
	metrics    Metrics
}

// Option configures a StdioClient.
type Option func(*StdioClient)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *StdioClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClientName overrides DefaultClientName.
func WithClientName(name string) Option {
	return func(c *StdioClient) {
		if name != "" {
			c.clientName = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *StdioClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *StdioClient) { c.metrics = m }
}

// NewStdioClient creates a client over the given registry.
func NewStdioClient(registry *Registry, opts ...Option) *StdioClient {
	c := &StdioClient{
		registry:   registry,
		timeout:    DefaultTimeout,
		clientName: DefaultClientName,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "mcp"))
	return c
}

// Invoke implements Invoker.
func (c *StdioClient) Invoke(ctx context.Context, provider Provider, operation string, args any) (json.RawMessage, error) {
	ctx, span := otel.Tracer("xtern/mcp").Start(ctx, "mcp."+string(provider)+"/"+operation)
	defer span.End()
	span.SetAttributes(
		attribute.String("mcp.provider", string(provider)),
		attribute.String("mcp.operation", operation),
	)

	start := time.Now()
	result, err := c.invoke(ctx, provider, operation, args)
	elapsed := time.Since(start)

	outcome := outcomeLabel(err)
	if c.metrics != nil {
		c.metrics.RecordToolCall(string(provider), operation, outcome, elapsed)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		c.logger.Warn("tool call failed",
			zap.String("provider", string(provider)),
			zap.String("operation", operation),
			zap.String("outcome", outcome),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, err
	}

	c.logger.Debug("tool call completed",
		zap.String("provider", string(provider)),
		zap.String("operation", operation),
		zap.Duration("elapsed", elapsed),
		zap.Int("result_bytes", len(result)),
	)
	return result, nil
}

func (c *StdioClient) invoke(ctx context.Context, provider Provider, operation string, args any) (json.RawMessage, error) {
	spec, err := c.registry.Lookup(provider)
	if err != nil {
		return nil, err
	}

	artifact := spec.ArtifactPath()
	if _, err := os.Stat(artifact); err != nil {
		return nil, &UnavailableError{Provider: provider, Path: artifact, Dir: spec.Dir}
	}

	frames, err := EncodeFrames(c.clientName, operation, args)
	if err != nil {
		return nil, &TransportError{Provider: provider, Operation: operation, Message: "encode request", Cause: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmdArgs := append(append([]string(nil), spec.Args...), artifact)
	cmd := exec.CommandContext(callCtx, spec.Command, cmdArgs...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdin = bytes.NewReader(frames)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil, &TransportError{
			Provider:  provider,
			Operation: operation,
			Timeout:   true,
			Stderr:    stderr.String(),
			Cause:     callCtx.Err(),
		}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && exitErr.ExitCode() > 0 {
			return nil, &TransportError{
				Provider:  provider,
				Operation: operation,
				ExitCode:  exitErr.ExitCode(),
				Stderr:    stderr.String(),
				Cause:     runErr,
			}
		}
		return nil, &TransportError{
			Provider:  provider,
			Operation: operation,
			Message:   "process failed",
			Stderr:    stderr.String(),
			Cause:     runErr,
		}
	}

	return DecodeResult(stdout.Bytes(), provider, operation)
}

// outcomeLabel classifies an invocation result for metrics.
func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var (
		unavailable *UnavailableError
		transport   *TransportError
		provider    *ProviderError
		tool        *ToolError
	)
	switch {
	case errors.As(err, &unavailable):
		return "unavailable"
	case errors.As(err, &transport):
		if transport.Timeout {
			return "timeout"
		}
		return "transport_error"
	case errors.As(err, &provider):
		return "provider_error"
	case errors.As(err, &tool):
		return "tool_error"
	default:
		return "error"
	}
}
