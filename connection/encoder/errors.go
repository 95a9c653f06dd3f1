package encoder

import "fmt"

type DecodeError struct {
	Text     string
	InnerErr error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode message %q: %s", truncate(e.Text), e.InnerErr)
}

func (e *DecodeError) Unwrap() error { return e.InnerErr }

func truncate(text string) string {
	const limit = 64
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
