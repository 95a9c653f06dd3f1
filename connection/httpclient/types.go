package httpclient

type RequestState int32

const (
	Initial RequestState = iota
	Queued
	Processing
	Finished
	Error
	Aborted
	ConnectionTimedOut
	TimedOut
)

func (s RequestState) String() string {
	switch s {
	case Initial:
		return "Initial"
	case Queued:
		return "Queued"
	case Processing:
		return "Processing"
	case Finished:
		return "Finished"
	case Error:
		return "Error"
	case Aborted:
		return "Aborted"
	case ConnectionTimedOut:
		return "ConnectionTimedOut"
	case TimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

type Response struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) DataAsText() string {
	return string(r.Body)
}
