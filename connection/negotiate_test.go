package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"bastionzero.com/bzsignalr/connection/httpclient"
	"bastionzero.com/bzsignalr/logger"
	"bastionzero.com/bzsignalr/tests"
)

const negotiateBody = `{"Url":"/signalr","ConnectionToken":"tok+en/=","ConnectionId":"abc-123","KeepAliveTimeout":20.0,"DisconnectTimeout":30.0,"ConnectionTimeout":110.0,"TryWebSockets":true,"ProtocolVersion":"1.5","TransportConnectTimeout":5.0,"LongPollDelay":0.5}`

var _ = Describe("Negotiation", func() {
	logger := logger.MockLogger(GinkgoWriter)

	Context("Parsing", func() {
		It("reads every field and converts timeouts from seconds", func() {
			result, err := ParseNegotiationResult([]byte(negotiateBody))
			Expect(err).ToNot(HaveOccurred())

			Expect(result.ConnectionToken).To(Equal("tok+en/="))
			Expect(result.ConnectionId).To(Equal("abc-123"))
			Expect(result.TryWebSockets).To(BeTrue())
			Expect(result.KeepAliveTimeout).To(Equal(20 * time.Second))
			Expect(result.DisconnectTimeout).To(Equal(30 * time.Second))
			Expect(result.ConnectionTimeout).To(Equal(110 * time.Second))
			Expect(result.TransportConnectTimeout).To(Equal(5 * time.Second))
			Expect(result.LongPollDelay).To(Equal(500 * time.Millisecond))
		})

		It("allows servers that don't send keep alives", func() {
			result, err := ParseNegotiationResult([]byte(`{"ConnectionToken":"t","ProtocolVersion":"1.3","KeepAliveTimeout":null}`))
			Expect(err).ToNot(HaveOccurred())
			Expect(result.KeepAliveTimeout).To(BeZero())
		})

		It("rejects unsupported protocol versions", func() {
			_, err := ParseNegotiationResult([]byte(`{"ConnectionToken":"t","ProtocolVersion":"2.1"}`))

			var versionErr *ProtocolVersionError
			Expect(errors.As(err, &versionErr)).To(BeTrue())
			Expect(versionErr.Version).To(Equal("2.1"))
		})

		It("rejects responses without a token", func() {
			_, err := ParseNegotiationResult([]byte(`{"ProtocolVersion":"1.5"}`))
			Expect(err).To(HaveOccurred())
		})

		It("rejects malformed responses", func() {
			_, err := ParseNegotiationResult([]byte(`{"ConnectionToken":`))
			Expect(err).To(HaveOccurred())
		})
	})

	Context("Requesting", func() {
		var server *tests.MockServer
		var client *httpclient.Client

		BeforeEach(func() {
			client = httpclient.New(logger, httpclient.Options{})
		})

		AfterEach(func() {
			server.Close()
		})

		It("negotiates with the service", func() {
			server = tests.NewMockServer(tests.MockHandler{
				Endpoint: "/signalr/negotiate",
				HandlerFunc: func(w http.ResponseWriter, r *http.Request) {
					if r.URL.Query().Get("clientProtocol") != ClientProtocol || r.Header.Get("Authorization") != "Bearer x" {
						w.WriteHeader(http.StatusBadRequest)
						return
					}
					fmt.Fprint(w, negotiateBody)
				},
			})

			result, err := Negotiate(context.Background(), logger, client, server.Url+"/signalr", `[{"name":"chathub"}]`, http.Header{"Authorization": {"Bearer x"}})
			Expect(err).ToNot(HaveOccurred())
			Expect(result.ConnectionId).To(Equal("abc-123"))
		})

		It("fails on a server error", func() {
			server = tests.NewMockServer(tests.MockHandler{
				Endpoint: "/signalr/negotiate",
				HandlerFunc: func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusForbidden)
				},
			})

			_, err := Negotiate(context.Background(), logger, client, server.Url+"/signalr", "", nil)
			Expect(err).To(MatchError(ContainSubstring("403")))
		})

		It("gives up when the context is cancelled", func() {
			server = tests.NewMockServer(tests.MockHandler{
				Endpoint: "/signalr/negotiate",
				HandlerFunc: func(w http.ResponseWriter, r *http.Request) {
					<-r.Context().Done()
				},
			})

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			_, err := Negotiate(ctx, logger, client, server.Url+"/signalr", "", nil)
			Expect(err).To(MatchError(ContainSubstring("cancelled")))
		})
	})
})
