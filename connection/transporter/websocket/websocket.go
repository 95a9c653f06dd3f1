/*
Package websocket wraps a single gorilla websocket connection behind the callback
driven transporter.Socket contract. Dialing and reading happen on tomb-managed goroutines
so that Open and Close return immediately and every outcome, including the server's close
code, is delivered through the registered handlers.
*/
package websocket

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	gorilla "github.com/gorilla/websocket"
	"gopkg.in/tomb.v2"

	"bastionzero.com/bzsignalr/connection/transporter"
	"bastionzero.com/bzsignalr/logger"
)

const (
	HttpsOnlyWebsocketScheme = "wss"
	HttpWebsocketScheme      = "ws"

	defaultHandshakeTimeout = 20 * time.Second

	// how long we wait for the server to answer our close frame
	closeGracePeriod = 2 * time.Second
	writeTimeout     = 5 * time.Second
)

type Options struct {
	HandshakeTimeout time.Duration
}

type Websocket struct {
	tmb    tomb.Tomb
	logger *logger.Logger
	dialer *gorilla.Dialer

	url     *url.URL
	headers http.Header

	lock     sync.Mutex
	handlers transporter.Handlers
	client   *gorilla.Conn

	// serialises writers, gorilla allows only one at a time
	writeLock sync.Mutex

	opened  atomic.Bool
	open    atomic.Bool
	closing atomic.Bool
}

func New(logger *logger.Logger, target *url.URL, options Options) *Websocket {
	if options.HandshakeTimeout <= 0 {
		options.HandshakeTimeout = defaultHandshakeTimeout
	}

	dialer := *gorilla.DefaultDialer
	dialer.HandshakeTimeout = options.HandshakeTimeout

	return &Websocket{
		logger:  logger,
		dialer:  &dialer,
		url:     target,
		headers: http.Header{},
	}
}

func NewFactory(logger *logger.Logger, options Options) transporter.Factory {
	return func(target *url.URL) transporter.Socket {
		return New(logger, target, options)
	}
}

func (w *Websocket) Headers() http.Header { return w.headers }
func (w *Websocket) URL() *url.URL        { return w.url }
func (w *Websocket) IsOpen() bool         { return w.open.Load() }

func (w *Websocket) SetHandlers(handlers transporter.Handlers) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.handlers = handlers
}

func (w *Websocket) getHandlers() transporter.Handlers {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.handlers
}

func (w *Websocket) Open() {
	if w.closing.Load() || w.opened.Swap(true) {
		w.logger.Infof("Ignoring open of a websocket that was already opened or closed")
		return
	}

	w.tmb.Go(w.run)
}

func (w *Websocket) Send(text string) error {
	w.lock.Lock()
	client := w.client
	w.lock.Unlock()

	if client == nil || !w.open.Load() {
		return fmt.Errorf("cannot send message because websocket is not open")
	}

	w.writeLock.Lock()
	defer w.writeLock.Unlock()

	client.SetWriteDeadline(time.Now().Add(writeTimeout))
	return client.WriteMessage(gorilla.TextMessage, []byte(text))
}

// Close starts a graceful close. The OnClosed handler fires once the server answers,
// or once the grace period runs out.
func (w *Websocket) Close() {
	if w.closing.Swap(true) {
		return
	}

	w.lock.Lock()
	client := w.client
	w.lock.Unlock()

	if client != nil {
		message := gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, "")
		if err := client.WriteControl(gorilla.CloseMessage, message, time.Now().Add(writeTimeout)); err != nil {
			w.logger.Debugf("failed to send close frame: %s", err)
		}
	}

	w.tmb.Kill(nil)
}

func (w *Websocket) run() error {
	connUrl := *w.url
	switch connUrl.Scheme {
	case "https":
		connUrl.Scheme = HttpsOnlyWebsocketScheme
	case "http":
		connUrl.Scheme = HttpWebsocketScheme
	}

	client, _, err := w.dialer.DialContext(w.tmb.Context(nil), connUrl.String(), w.headers)
	if err != nil {
		if w.closing.Load() {
			w.fireClosed(gorilla.CloseNormalClosure, "")
		} else {
			w.fireError(fmt.Sprintf("error dialing websocket: %s", err))
		}
		return nil
	}

	w.lock.Lock()
	w.client = client
	w.lock.Unlock()

	// Close may have been called mid-dial, before there was a client to send a close frame on
	if w.closing.Load() {
		client.Close()
		w.fireClosed(gorilla.CloseNormalClosure, "")
		return nil
	}

	readDone := make(chan struct{})
	w.tmb.Go(func() error {
		select {
		case <-readDone:
			return nil
		case <-w.tmb.Dying():
		}

		select {
		case <-readDone:
		case <-time.After(closeGracePeriod):
			w.logger.Infof("Server never answered our close frame, dropping the connection")
			client.Close()
		}
		return nil
	})

	w.open.Store(true)
	w.logger.Infof("Websocket connection started")
	w.fireOpen()

	w.receive(client)

	close(readDone)
	w.tmb.Kill(nil)
	return nil
}

func (w *Websocket) receive(client *gorilla.Conn) {
	defer client.Close()
	defer w.open.Store(false)

	for {
		messageType, rawMessage, err := client.ReadMessage()
		if err != nil {
			w.open.Store(false)

			var closeErr *gorilla.CloseError
			if errors.As(err, &closeErr) {
				w.logger.Infof("Websocket connection closed with %d: %s", closeErr.Code, closeErr.Text)
				w.fireClosed(closeErr.Code, closeErr.Text)
			} else if w.closing.Load() {
				w.logger.Infof("Websocket connection closed")
				w.fireClosed(gorilla.CloseNormalClosure, "")
			} else {
				w.logger.Error(err)
				w.fireError(err.Error())
			}
			return
		}

		if messageType == gorilla.TextMessage || messageType == gorilla.BinaryMessage {
			w.fireMessage(string(rawMessage))
		}
	}
}

func (w *Websocket) fireOpen() {
	if handler := w.getHandlers().OnOpen; handler != nil {
		handler(w)
	}
}

func (w *Websocket) fireMessage(text string) {
	if handler := w.getHandlers().OnMessage; handler != nil {
		handler(w, text)
	}
}

func (w *Websocket) fireClosed(code int, message string) {
	if handler := w.getHandlers().OnClosed; handler != nil {
		handler(w, code, message)
	}
}

func (w *Websocket) fireError(reason string) {
	if handler := w.getHandlers().OnError; handler != nil {
		handler(w, reason)
	}
}
