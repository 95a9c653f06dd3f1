package websocket

import (
	"net/url"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"bastionzero.com/bzsignalr/connection/transporter"
	"bastionzero.com/bzsignalr/logger"
	"bastionzero.com/bzsignalr/tests"
)

func TestWebsocket(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Websocket Suite")
}

type closeEvent struct {
	code    int
	message string
}

var _ = Describe("Websocket", func() {
	var echo *tests.WebsocketServer
	var server *tests.MockServer
	var socket *Websocket

	var opened chan struct{}
	var messages chan string
	var closed chan closeEvent
	var failures chan string

	logger := logger.MockLogger(GinkgoWriter)

	handlers := func() transporter.Handlers {
		return transporter.Handlers{
			OnOpen:    func(s transporter.Socket) { opened <- struct{}{} },
			OnMessage: func(s transporter.Socket, text string) { messages <- text },
			OnClosed:  func(s transporter.Socket, code int, message string) { closed <- closeEvent{code, message} },
			OnError:   func(s transporter.Socket, reason string) { failures <- reason },
		}
	}

	BeforeEach(func() {
		opened = make(chan struct{}, 1)
		messages = make(chan string, 10)
		closed = make(chan closeEvent, 1)
		failures = make(chan string, 1)

		echo = tests.NewWebsocketServer(logger)
		server = tests.NewMockServer(tests.MockHandler{
			Endpoint:    "/signalr/connect",
			HandlerFunc: echo.Serve,
		})

		target, err := url.Parse(server.Url + "/signalr/connect?transport=webSockets")
		Expect(err).ToNot(HaveOccurred())

		socket = New(logger, target, Options{HandshakeTimeout: 5 * time.Second})
		socket.SetHandlers(handlers())
	})

	AfterEach(func() {
		socket.Close()
		echo.ForceClose()
		server.Close()
	})

	Context("Opening", func() {
		It("reports the open and sends the handshake headers", func() {
			socket.Headers().Set("X-Signalr-Test", "hello")
			socket.Open()

			Eventually(opened).Should(Receive())
			Expect(socket.IsOpen()).To(BeTrue())

			request := <-echo.Requests
			Expect(request.Header.Get("X-Signalr-Test")).To(Equal("hello"))
			Expect(request.URL.Query().Get("transport")).To(Equal("webSockets"))
		})

		It("reports dial failures as errors", func() {
			target, _ := url.Parse("http://localhost:0/signalr/connect")
			broken := New(logger, target, Options{HandshakeTimeout: time.Second})
			broken.SetHandlers(handlers())
			broken.Open()

			Eventually(failures).Should(Receive(ContainSubstring("error dialing websocket")))
			Expect(broken.IsOpen()).To(BeFalse())
		})
	})

	Context("Messaging", func() {
		BeforeEach(func() {
			socket.Open()
			Eventually(opened).Should(Receive())
		})

		It("receives what the server sends", func() {
			Expect(socket.Send(`{"H":"hub","M":"echo","A":[],"I":0}`)).To(Succeed())
			Eventually(messages).Should(Receive(Equal(`{"H":"hub","M":"echo","A":[],"I":0}`)))

			Expect(echo.Push(`{}`)).To(Succeed())
			Eventually(messages).Should(Receive(Equal(`{}`)))
		})

		It("refuses to send after closing", func() {
			socket.Close()
			Eventually(closed).Should(Receive())
			Expect(socket.Send("late")).ToNot(Succeed())
		})
	})

	Context("Closing", func() {
		BeforeEach(func() {
			socket.Open()
			Eventually(opened).Should(Receive())
		})

		It("surfaces the server's close code and reason", func() {
			echo.Close(4000, "going away")

			var event closeEvent
			Eventually(closed).Should(Receive(&event))
			Expect(event.code).To(Equal(4000))
			Expect(event.message).To(Equal("going away"))
			Expect(socket.IsOpen()).To(BeFalse())
		})

		It("finishes a close it started with a normal closure", func() {
			socket.Close()

			var event closeEvent
			Eventually(closed, closeGracePeriod*2).Should(Receive(&event))
			Expect(event.code).To(Equal(gorilla.CloseNormalClosure))
		})

		It("fires nothing once handlers are detached", func() {
			socket.SetHandlers(transporter.Handlers{})
			socket.Close()

			Consistently(closed, closeGracePeriod).ShouldNot(Receive())
		})

		It("cannot be reopened", func() {
			socket.Close()
			Eventually(closed, closeGracePeriod*2).Should(Receive())

			socket.Open()
			Consistently(opened, "200ms").ShouldNot(Receive())
		})
	})
})
