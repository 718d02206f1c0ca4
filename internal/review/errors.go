package review

import "fmt"

// InvalidRequestError means a review request failed validation before any
// provider was called.
type InvalidRequestError struct {
	Message string
	Cause   error
}

func (e *InvalidRequestError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid review request: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("invalid review request: %s", e.Message)
}

func (e *InvalidRequestError) Unwrap() error {
	return e.Cause
}

// ProviderCallError wraps a failed PO provider call.
type ProviderCallError struct {
	Operation string
	Cause     error
}

func (e *ProviderCallError) Error() string {
	return fmt.Sprintf("po/%s failed: %v", e.Operation, e.Cause)
}

func (e *ProviderCallError) Unwrap() error {
	return e.Cause
}
