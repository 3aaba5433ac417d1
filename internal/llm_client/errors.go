package llm_client

import (
	"errors"
	"fmt"
)

var ErrNotInitialized = errors.New("llm provider not initialized")

type ErrorKind string

const (
	KindUnavailable ErrorKind = "GatewayUnavailable"
	KindTimeout     ErrorKind = "GatewayTimeout"
	KindUnparsable  ErrorKind = "UnparsableResult"
)

// GatewayError is the only error type Complete returns.
type GatewayError struct {
	Kind ErrorKind
	Err  error
	// Raw holds the model output for unparsable results.
	Raw string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// KindOf returns the gateway failure kind of err, or "" if it is not one.
func KindOf(err error) ErrorKind {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}
