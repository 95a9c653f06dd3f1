package transporter

import (
	"net/http"
	"net/url"
)

// Handlers are the callbacks a Socket fires from its own goroutine. Any of them may be nil.
type Handlers struct {
	OnOpen    func(socket Socket)
	OnMessage func(socket Socket, text string)
	OnClosed  func(socket Socket, code int, message string)
	OnError   func(socket Socket, reason string)
}

// Socket is a single full duplex connection. Open and Close never block on the network
// and every outcome is reported through Handlers.
type Socket interface {
	Open()
	Send(text string) error
	Close()
	IsOpen() bool
	SetHandlers(handlers Handlers)

	// Handshake request customisation, only meaningful before Open
	Headers() http.Header
	URL() *url.URL
}

type Factory func(target *url.URL) Socket
