package agent

import "fmt"

// ModelEndpointError wraps transport, timeout, and malformed-response
// failures from the model endpoint. The turn fails, but everything
// persisted before the call (the user message, any tool results) remains,
// so retrying the same input does not lose context.
type ModelEndpointError struct {
	Err error
}

func (e *ModelEndpointError) Error() string {
	return fmt.Sprintf("model endpoint: %v", e.Err)
}

func (e *ModelEndpointError) Unwrap() error {
	return e.Err
}
