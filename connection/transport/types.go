package transport

type State int32

const (
	Initial State = iota
	Connecting
	Reconnecting
	Started
	Closing
	Closed
	Aborted
)

func (s State) String() string {
	switch s {
	case Initial:
		return "Initial"
	case Connecting:
		return "Connecting"
	case Reconnecting:
		return "Reconnecting"
	case Started:
		return "Started"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether the state ends the current attempt
func (s State) IsTerminal() bool {
	return s == Closing || s == Closed || s == Aborted
}

type Type string

const (
	WebSocket Type = "webSockets"
	LongPoll  Type = "longPolling"
)

type RequestType int

const (
	Negotiate RequestType = iota
	Connect
	Start
	Poll
	Send
	Reconnect
	Abort
	Ping
)

func (r RequestType) String() string {
	switch r {
	case Negotiate:
		return "negotiate"
	case Connect:
		return "connect"
	case Start:
		return "start"
	case Poll:
		return "poll"
	case Send:
		return "send"
	case Reconnect:
		return "reconnect"
	case Abort:
		return "abort"
	case Ping:
		return "ping"
	default:
		return "unknown"
	}
}
