package llm

import "fmt"

// ConfigError means the client cannot be used at all (missing key, bad provider).
type ConfigError struct {
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("llm config error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("llm config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ConnectivityError means the provider could not be reached.
type ConnectivityError struct {
	Provider Provider
	Cause    error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("llm connectivity error: %s: %v", e.Provider, e.Cause)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Cause
}

// ResponseError means the provider answered but the request failed.
type ResponseError struct {
	Provider   Provider
	StatusCode int
	Message    string
}

func (e *ResponseError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm response error: %s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm response error: %s: %s", e.Provider, e.Message)
}
