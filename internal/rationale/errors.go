package rationale

import (
	"errors"
	"fmt"

	"github.com/Sahmey2004/xtern/internal/llm"
)

// UnreachableError means the generator could not obtain a response at all.
// Stages treat it as fatal.
type UnreachableError struct {
	Stage    string
	Provider string
	Cause    error
}

func (e *UnreachableError) Error() string {
	if e.Connectivity() {
		return fmt.Sprintf("%s could not reach %s: %v", e.Stage, e.Provider, e.Cause)
	}
	return fmt.Sprintf("%s %s request failed: %v", e.Stage, e.Provider, e.Cause)
}

func (e *UnreachableError) Unwrap() error {
	return e.Cause
}

// Connectivity reports whether the cause was configuration or transport
// rather than a rejected request.
func (e *UnreachableError) Connectivity() bool {
	return isConnectivity(e.Cause)
}

// ParseError describes a response that arrived but could not be used.
type ParseError struct {
	Provider string
	Detail   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s response parse failed: %s", e.Provider, e.Detail)
}

func isConnectivity(err error) bool {
	var cfgErr *llm.ConfigError
	var connErr *llm.ConnectivityError
	return errors.As(err, &cfgErr) || errors.As(err, &connErr)
}
