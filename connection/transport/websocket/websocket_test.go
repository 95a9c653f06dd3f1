package websocket

import (
	"net/url"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"

	"bastionzero.com/bzsignalr/connection/encoder"
	"bastionzero.com/bzsignalr/connection/httpclient"
	"bastionzero.com/bzsignalr/connection/messenger/signalr"
	"bastionzero.com/bzsignalr/connection/transport"
	"bastionzero.com/bzsignalr/connection/transporter"
	"bastionzero.com/bzsignalr/logger"
)

func TestWebSocketTransport(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "WebSocket Transport Suite")
}

var _ = Describe("WebSocket Transport", func() {
	var ws *Transport
	var conn *transport.MockConnection
	var sockets []*transporter.MockSocket

	logger := logger.MockLogger(GinkgoWriter)
	connectUrl, _ := url.Parse("ws://localhost/signalr/connect")
	reconnectUrl, _ := url.Parse("ws://localhost/signalr/reconnect")

	newSocket := func(target *url.URL) transporter.Socket {
		socket := &transporter.MockSocket{}
		socket.On("Open").Return()
		socket.On("Close").Return()
		socket.On("IsOpen").Return(true).Maybe()
		socket.On("Send", mock.Anything).Return(nil).Maybe()
		sockets = append(sockets, socket)
		return socket
	}

	latest := func() *transporter.MockSocket {
		Expect(sockets).ToNot(BeEmpty())
		return sockets[len(sockets)-1]
	}

	open := func() {
		ws.Connect()
		latest().Handlers().OnOpen(latest())
		Expect(ws.State()).To(Equal(transport.Started))
	}

	BeforeEach(func() {
		sockets = nil

		conn = &transport.MockConnection{}
		conn.On("BuildUri", transport.Connect, mock.Anything).Return(connectUrl, nil).Maybe()
		conn.On("BuildUri", transport.Reconnect, mock.Anything).Return(reconnectUrl, nil).Maybe()
		conn.On("PrepareRequest", mock.Anything, mock.Anything).Return().Maybe()
		conn.On("ConnectionTimeout").Return(30 * time.Second).Maybe()
		conn.On("JsonEncoder").Return(encoder.NewGJSONEncoder()).Maybe()
		conn.On("OnMessage", mock.Anything).Return().Maybe()
		conn.On("Error", mock.Anything).Return().Maybe()

		ws = New(logger, conn, httpclient.New(logger, httpclient.Options{}), newSocket)
	})

	Context("Connecting", func() {
		It("opens one socket and lets the connection prepare the handshake", func() {
			ws.Connect()

			Expect(sockets).To(HaveLen(1))
			Expect(ws.State()).To(Equal(transport.Connecting))
			latest().AssertCalled(GinkgoT(), "Open")
			conn.AssertCalled(GinkgoT(), "PrepareRequest", latest(), transport.Connect)
		})

		It("starts when the socket opens", func() {
			open()
			Expect(ws.Type()).To(Equal(transport.WebSocket))
		})

		It("refuses to connect while a socket exists", func() {
			ws.Connect()
			ws.Connect()
			Expect(sockets).To(HaveLen(1))
		})

		It("reports uri failures", func() {
			conn.ExpectedCalls = nil
			conn.On("BuildUri", transport.Connect, mock.Anything).Return(nil, url.InvalidHostError("bad"))
			conn.On("Error", mock.Anything).Return()

			ws.Connect()
			Expect(sockets).To(BeEmpty())
			conn.AssertCalled(GinkgoT(), "Error", mock.MatchedBy(func(reason string) bool {
				return len(reason) > 0
			}))
		})
	})

	Context("Messages", func() {
		BeforeEach(func() {
			open()
		})

		It("forwards decoded frames", func() {
			latest().Handlers().OnMessage(latest(), `{"C":"d-5","M":[{"H":"chat","M":"said","A":["hi"]}]}`)

			conn.AssertCalled(GinkgoT(), "OnMessage", mock.MatchedBy(func(message signalr.ServerMessage) bool {
				multi, ok := message.(*signalr.MultiMessage)
				return ok && multi.MessageId == "d-5" && len(multi.Data) == 1
			}))
		})

		It("drops frames it cannot decode", func() {
			latest().Handlers().OnMessage(latest(), `{"C":`)
			conn.AssertNotCalled(GinkgoT(), "OnMessage", mock.Anything)
		})

		It("sends text frames while open", func() {
			ws.Send(map[string]interface{}{"H": "chat"})
			latest().AssertCalled(GinkgoT(), "Send", `{"H":"chat"}`)
		})

		It("drops sends once the socket is no longer open", func() {
			socket := latest()
			socket.ExpectedCalls = nil
			socket.On("IsOpen").Return(false)

			ws.Send("hello")
			socket.AssertNotCalled(GinkgoT(), "Send", mock.Anything)
		})
	})

	Context("Closing", func() {
		BeforeEach(func() {
			open()
		})

		It("closes quietly when we asked it to", func() {
			ws.SetState(transport.Closing)
			latest().Handlers().OnClosed(latest(), 1000, "")

			Expect(ws.State()).To(Equal(transport.Closed))
			Expect(ws.Socket()).To(BeNil())
			conn.AssertNotCalled(GinkgoT(), "Error", mock.Anything)
		})

		It("reports an unexpected close with its code and message", func() {
			latest().Handlers().OnClosed(latest(), 1006, "abnormal closure")

			Expect(ws.State()).To(Equal(transport.Started))
			Expect(ws.Socket()).To(BeNil())
			conn.AssertCalled(GinkgoT(), "Error", "1006 : abnormal closure")
		})

		It("reports socket errors and releases the socket", func() {
			socket := latest()
			socket.Handlers().OnError(socket, "connection reset")

			Expect(ws.Socket()).To(BeNil())
			socket.AssertCalled(GinkgoT(), "Close")
			conn.AssertCalled(GinkgoT(), "Error", "connection reset")
		})

		It("treats an error while closing as the end of the abort", func() {
			ws.SetState(transport.Closing)
			latest().Handlers().OnError(latest(), "read failed")

			Expect(ws.State()).To(Equal(transport.Aborted))
			conn.AssertNotCalled(GinkgoT(), "Error", mock.Anything)
		})
	})

	Context("Stopping", func() {
		BeforeEach(func() {
			open()
		})

		It("detaches handlers and closes the socket", func() {
			socket := latest()
			ws.Stop()
			ws.Stop()

			Expect(ws.Socket()).To(BeNil())
			Expect(socket.Handlers().OnClosed).To(BeNil())
			socket.AssertNumberOfCalls(GinkgoT(), "Close", 1)
		})

		It("ignores callbacks from a socket that was replaced", func() {
			stale := latest()
			staleHandlers := stale.Handlers()

			ws.Reconnect()
			Expect(sockets).To(HaveLen(2))
			Expect(ws.State()).To(Equal(transport.Reconnecting))
			conn.AssertCalled(GinkgoT(), "BuildUri", transport.Reconnect, ws.Transport)

			staleHandlers.OnOpen(stale)
			staleHandlers.OnMessage(stale, `{}`)
			staleHandlers.OnClosed(stale, 1006, "late")

			Expect(ws.State()).To(Equal(transport.Reconnecting))
			Expect(ws.Socket()).To(BeIdenticalTo(transporter.Socket(latest())))
			conn.AssertNotCalled(GinkgoT(), "OnMessage", mock.Anything)
			conn.AssertNotCalled(GinkgoT(), "Error", mock.Anything)

			latest().Handlers().OnOpen(latest())
			Expect(ws.State()).To(Equal(transport.Started))
		})
	})
})
