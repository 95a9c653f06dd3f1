package signalr

import "fmt"

// ParseError means a decoded map doesn't have the shape of any known message
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unrecognized server message: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return nil }
