package websocket

import (
	"fmt"
	"sync/atomic"

	"bastionzero.com/bzsignalr/connection/httpclient"
	"bastionzero.com/bzsignalr/connection/transport"
	"bastionzero.com/bzsignalr/connection/transporter"
	"bastionzero.com/bzsignalr/logger"
)

const Name = "WebSocket"

type tracked struct {
	socket transporter.Socket
}

// Transport runs the connection over a single socket. Callbacks from any socket other
// than the one currently tracked are ignored.
type Transport struct {
	*transport.Transport

	factory transporter.Factory
	current atomic.Pointer[tracked]
}

func New(
	logger *logger.Logger,
	connection transport.Connection,
	client *httpclient.Client,
	factory transporter.Factory,
) *Transport {
	t := &Transport{
		factory: factory,
	}
	t.Transport = transport.New(logger, Name, transport.WebSocket, connection, client, t)

	return t
}

// Socket returns the tracked socket, or nil
func (t *Transport) Socket() transporter.Socket {
	if h := t.current.Load(); h != nil {
		return h.socket
	}
	return nil
}

func (t *Transport) isCurrent(socket transporter.Socket) bool {
	h := t.current.Load()
	return h != nil && h.socket == socket
}

func (t *Transport) Connect() {
	if t.current.Load() != nil {
		t.Logger().Errorf("Refusing to connect while a socket is still open")
		return
	}

	requestType := t.BeginConnect()

	uri, err := t.Connection().BuildUri(requestType, t.Transport)
	if err != nil {
		t.Connection().Error("Connect - failed to build uri: " + err.Error())
		return
	}

	socket := t.factory(uri)
	if !t.current.CompareAndSwap(nil, &tracked{socket: socket}) {
		t.Logger().Errorf("Another socket was opened while we were connecting")
		return
	}

	socket.SetHandlers(transporter.Handlers{
		OnOpen:    t.onOpen,
		OnMessage: t.onMessage,
		OnClosed:  t.onClosed,
		OnError:   t.onError,
	})
	t.Connection().PrepareRequest(socket, requestType)

	t.Logger().Infof("Opening websocket to %s", uri.Host)
	socket.Open()
}

func (t *Transport) onOpen(socket transporter.Socket) {
	if !t.isCurrent(socket) {
		return
	}

	t.OnConnected()
}

func (t *Transport) onMessage(socket transporter.Socket, text string) {
	if !t.isCurrent(socket) {
		return
	}

	message := transport.Parse(t.Connection().JsonEncoder(), text)
	if message == nil {
		t.Logger().Debugf("Dropping frame we could not decode: %q", text)
		return
	}

	t.Connection().OnMessage(message)
}

func (t *Transport) onClosed(socket transporter.Socket, code int, message string) {
	h := t.current.Load()
	if h == nil || h.socket != socket || !t.current.CompareAndSwap(h, nil) {
		return
	}

	if t.CompareAndSwapState(transport.Closing, transport.Closed) {
		t.Logger().Infof("Websocket closed")
		return
	}

	reason := fmt.Sprintf("%d : %s", code, message)
	t.Logger().Errorf("Websocket closed unexpectedly: %s", reason)
	t.Connection().Error(reason)
}

func (t *Transport) onError(socket transporter.Socket, reason string) {
	h := t.current.Load()
	if h == nil || h.socket != socket {
		return
	}

	// the engine reports nothing further after an error
	if t.current.CompareAndSwap(h, nil) {
		socket.SetHandlers(transporter.Handlers{})
		socket.Close()
	}

	if state := t.State(); state == transport.Closing || state == transport.Closed {
		t.FinishAbort()
		return
	}

	t.Logger().Errorf("Websocket error: %s", reason)
	t.Connection().Error(reason)
}

func (t *Transport) SendText(text string) {
	socket := t.Socket()
	if socket == nil || !socket.IsOpen() {
		t.Logger().Errorf("Dropping message because the websocket is not open")
		return
	}

	if err := socket.Send(text); err != nil {
		t.Logger().Errorf("Failed to send message: %s", err)
	}
}

func (t *Transport) Started() {}

func (t *Transport) Aborted() {
	if h := t.current.Swap(nil); h != nil && h.socket.IsOpen() {
		h.socket.Close()
	}
}

func (t *Transport) Stop() {
	h := t.current.Swap(nil)
	if h == nil {
		return
	}

	t.Logger().Infof("Stopping")
	h.socket.SetHandlers(transporter.Handlers{})
	h.socket.Close()
}
