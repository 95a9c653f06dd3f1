package transport

import (
	"net/http"
	"net/url"
	"time"

	"bastionzero.com/bzsignalr/connection/encoder"
	"bastionzero.com/bzsignalr/connection/messenger/signalr"
)

// Request is what the Connection may customise before a request or handshake goes out
type Request interface {
	Headers() http.Header
	URL() *url.URL
}

// Connection is the owner of a Transport. Transports call it from engine goroutines.
type Connection interface {
	BuildUri(requestType RequestType, transport *Transport) (*url.URL, error)
	PrepareRequest(request Request, requestType RequestType)
	OnMessage(message signalr.ServerMessage)
	Error(reason string)

	ConnectionTimeout() time.Duration
	LongPollDelay() time.Duration
	JsonEncoder() encoder.JsonEncoder
}

// A Connection implementing StateListener is told about every state transition
type StateListener interface {
	OnTransportStateChanged(transport *Transport, old State, new State)
}

// A Connection implementing AbortListener is told when an abort has finished
type AbortListener interface {
	TransportAborted(transport *Transport)
}

// Hooks is the per-kind behaviour of a Transport
type Hooks interface {
	Connect()
	Stop()
	SendText(text string)

	// Started runs once per successful attempt, before any message is forwarded
	Started()
	Aborted()
}
