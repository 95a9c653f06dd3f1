package connection

import "fmt"

// ClosedError is the reason a Connection stopped on its own, rather than through Close
type ClosedError struct {
	Reason   string
	InnerErr error
}

func (e *ClosedError) Error() string {
	if e.InnerErr != nil {
		return fmt.Sprintf("connection closed: %s: %s", e.Reason, e.InnerErr)
	}
	return fmt.Sprintf("connection closed: %s", e.Reason)
}

func (e *ClosedError) Unwrap() error { return e.InnerErr }

// The ProtocolVersionError is returned when the server negotiated a protocol we don't speak
type ProtocolVersionError struct {
	Version string
}

func (e *ProtocolVersionError) Error() string {
	return fmt.Sprintf("server protocol version %s is not supported, we support %s", e.Version, supportedProtocols)
}

func (e *ProtocolVersionError) Unwrap() error { return nil }
