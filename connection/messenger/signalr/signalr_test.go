package signalr

import (
	"errors"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	orderedmap "github.com/wk8/go-ordered-map"

	"bastionzero.com/bzsignalr/connection/encoder"
)

func TestSignalR(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "SignalR Message Suite")
}

var _ = Describe("Server messages", func() {
	enc := encoder.NewStreamEncoder()

	decode := func(text string) *orderedmap.OrderedMap {
		decoded, err := enc.DecodeMessage(text)
		Expect(err).ToNot(HaveOccurred())
		return decoded
	}

	Context("Keep alive", func() {
		It("is an empty object", func() {
			message, err := FromMap(decode(`{}`))
			Expect(err).ToNot(HaveOccurred())
			Expect(message.Type()).To(Equal(KeepAlive))
		})
	})

	Context("Multi messages", func() {
		When("The server sends an initialization envelope with a poll delay", func() {
			var multi *MultiMessage

			BeforeEach(func() {
				message, err := FromMap(decode(`{"C":"s-0,2CDDE7A|1,23ADE88|2,297B01B|3,3997404|4,33239B5","S":1,"G":"groups-token","L":2000,"M":[]}`))
				Expect(err).ToNot(HaveOccurred())
				Expect(message.Type()).To(Equal(Multiple))
				multi = message.(*MultiMessage)
			})

			It("reads the bookkeeping fields", func() {
				Expect(multi.MessageId).To(Equal("s-0,2CDDE7A|1,23ADE88|2,297B01B|3,3997404|4,33239B5"))
				Expect(multi.IsInitialization).To(BeTrue())
				Expect(multi.GroupsToken).To(Equal("groups-token"))
				Expect(multi.ShouldReconnect).To(BeFalse())
				Expect(multi.Data).To(BeEmpty())
			})

			It("carries the poll delay hint", func() {
				Expect(multi.PollDelay).ToNot(BeNil())
				Expect(*multi.PollDelay).To(Equal(2 * time.Second))
			})
		})

		When("The envelope has no poll delay", func() {
			It("leaves the hint empty", func() {
				message, err := FromMap(decode(`{"C":"d-1","M":["hello"]}`))
				Expect(err).ToNot(HaveOccurred())
				Expect(message.(*MultiMessage).PollDelay).To(BeNil())
			})
		})

		When("The envelope carries hub calls and plain data", func() {
			var multi *MultiMessage

			BeforeEach(func() {
				message, err := FromMap(decode(`{"C":"d-2","T":1,"M":[{"H":"ChatHub","M":"broadcast","A":["bob","hi"]},"plain",{"other":true}]}`))
				Expect(err).ToNot(HaveOccurred())
				multi = message.(*MultiMessage)
			})

			It("asks the client to reconnect", func() {
				Expect(multi.ShouldReconnect).To(BeTrue())
			})

			It("decodes each item into its variant", func() {
				Expect(multi.Data).To(HaveLen(3))

				call, ok := multi.Data[0].(*MethodCallMessage)
				Expect(ok).To(BeTrue())
				Expect(call.Hub).To(Equal("ChatHub"))
				Expect(call.Method).To(Equal("broadcast"))
				Expect(call.Arguments).To(Equal([]interface{}{"bob", "hi"}))

				Expect(multi.Data[1]).To(Equal(&DataMessage{Data: "plain"}))
				Expect(multi.Data[2].Type()).To(Equal(Data))
			})
		})

		It("rejects a poll delay that isn't a number", func() {
			_, err := FromMap(decode(`{"C":"d-3","L":{"oops":1}}`))
			Expect(err).To(HaveOccurred())
		})

		DescribeTable("rejects a poll delay that can't pace polls",
			func(text string) {
				_, err := FromMap(decode(text))

				var parseErr *ParseError
				Expect(errors.As(err, &parseErr)).To(BeTrue())
				Expect(parseErr.Reason).To(ContainSubstring("out of range"))
			},
			Entry("negative", `{"C":"x","L":-5000}`),
			Entry("too large for a duration", `{"C":"x","L":1e300}`),
			Entry("not a number", `{"C":"x","L":"NaN"}`),
			Entry("infinite", `{"C":"x","L":"+Inf"}`),
		)

		It("accepts a zero poll delay", func() {
			message, err := FromMap(decode(`{"C":"x","L":0}`))
			Expect(err).ToNot(HaveOccurred())
			Expect(*message.(*MultiMessage).PollDelay).To(BeZero())
		})
	})

	Context("Invocation responses", func() {
		It("decodes results", func() {
			message, err := FromMap(decode(`{"I":"7","R":42,"S":{"room":"lobby"}}`))
			Expect(err).ToNot(HaveOccurred())

			result := message.(*ResultMessage)
			Expect(result.InvocationId).To(Equal("7"))
			Expect(result.ReturnValue).To(Equal(float64(42)))

			room, ok := result.State.Get("room")
			Expect(ok).To(BeTrue())
			Expect(room).To(Equal("lobby"))
		})

		It("decodes failures", func() {
			message, err := FromMap(decode(`{"I":"8","E":"hub exploded","H":true,"D":{"code":3},"T":"stack"}`))
			Expect(err).ToNot(HaveOccurred())

			failure := message.(*FailureMessage)
			Expect(failure.InvocationId).To(Equal("8"))
			Expect(failure.ErrorMessage).To(Equal("hub exploded"))
			Expect(failure.IsHubError).To(BeTrue())
			Expect(failure.StackTrace).To(Equal("stack"))
			Expect(failure.AdditionalData).ToNot(BeNil())
		})

		It("decodes progress", func() {
			message, err := FromMap(decode(`{"I":"P|9","P":{"I":"9","D":"50%"}}`))
			Expect(err).ToNot(HaveOccurred())

			progress := message.(*ProgressMessage)
			Expect(progress.InvocationId).To(Equal("9"))
			Expect(progress.Progress).To(Equal("50%"))
		})

		It("accepts numeric invocation ids", func() {
			message, err := FromMap(decode(`{"I":12,"R":null}`))
			Expect(err).ToNot(HaveOccurred())
			Expect(message.(*ResultMessage).InvocationId).To(Equal("12"))
		})
	})

	Context("Unknown shapes", func() {
		It("are rejected", func() {
			_, err := FromMap(decode(`{"unexpected":"value"}`))
			Expect(err).To(HaveOccurred())

			var parseErr *ParseError
			Expect(err).To(BeAssignableToTypeOf(parseErr))
		})

		It("rejects a nil map", func() {
			_, err := FromMap(nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("Message type names", func() {
		It("renders every variant", func() {
			Expect(Multiple.String()).To(Equal("Multiple"))
			Expect(KeepAlive.String()).To(Equal("KeepAlive"))
			Expect(MessageType(99).String()).To(Equal("Invalid"))
		})
	})
})
