package tests

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bastionzero.com/bzsignalr/logger"
)

// WebsocketServer echoes every frame back to the client that sent it
type WebsocketServer struct {
	logger *logger.Logger

	lock sync.Mutex
	conn *websocket.Conn

	// Requests holds the handshake request of every accepted connection
	Requests chan *http.Request
}

func NewWebsocketServer(logger *logger.Logger) *WebsocketServer {
	return &WebsocketServer{
		logger:   logger,
		Requests: make(chan *http.Request, 10),
	}
}

func (w *WebsocketServer) Serve(writer http.ResponseWriter, request *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		w.logger.Errorf("failed to upgrade websocket: %s", err)
		return
	}

	w.lock.Lock()
	w.conn = conn
	w.lock.Unlock()

	select {
	case w.Requests <- request:
	default:
	}

	defer conn.Close()

	for {
		if messageType, message, err := conn.ReadMessage(); err != nil {
			w.logger.Debugf("websocket server stopped reading: %s", err)
			return
		} else if err := w.write(messageType, message); err != nil {
			w.logger.Errorf("failed to write to websocket connection: %s", err)
			return
		}
	}
}

// Push sends a text frame to the connected client
func (w *WebsocketServer) Push(text string) error {
	return w.write(websocket.TextMessage, []byte(text))
}

func (w *WebsocketServer) write(messageType int, message []byte) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.conn == nil {
		return websocket.ErrCloseSent
	}
	return w.conn.WriteMessage(messageType, message)
}

func (w *WebsocketServer) ForceClose() {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.conn != nil {
		w.conn.Close()
	}
}

// Close performs a graceful close with the given code and reason
func (w *WebsocketServer) Close(code int, reason string) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.conn == nil {
		return
	}

	message := websocket.FormatCloseMessage(code, reason)
	w.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
}
