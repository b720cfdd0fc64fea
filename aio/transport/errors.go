package transport

import "fmt"

// PanicError wraps a value recovered from a panic in business processing
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("transport: panic in business processing: %v", e.Value)
}

// Unwrap returns the panic value if it is an error, so errors.Is and errors.As
// can match the cause
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
