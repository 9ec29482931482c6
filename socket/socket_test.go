package socket_test

import (
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kekchpek/live-capture-net/socket"
)

func TestSocket(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Socket Package Suite")
}

var _ = Describe("ConnState", func() {
	DescribeTable("String representations",
		func(state socket.ConnState, expected string) {
			Expect(state.String()).To(Equal(expected))
		},
		Entry("dial", socket.ConnectionDial, "Dial Connection"),
		Entry("new", socket.ConnectionNew, "New Connection"),
		Entry("read", socket.ConnectionRead, "Read Incoming Stream"),
		Entry("handler", socket.ConnectionHandler, "Run HandlerFunc"),
		Entry("write", socket.ConnectionWrite, "Write Outgoing Steam"),
		Entry("close", socket.ConnectionClose, "Close Connection"),
	)

	It("returns an empty string for an unknown state", func() {
		Expect(socket.ConnState(255).String()).To(Equal(""))
	})
})

var _ = Describe("ErrorFilter", func() {
	It("passes nil through unchanged", func() {
		Expect(socket.ErrorFilter(nil)).To(BeNil())
	})

	DescribeTable("suppresses expected shutdown errors",
		func(msg string) {
			Expect(socket.ErrorFilter(errors.New(msg))).To(BeNil())
		},
		Entry("closed connection", "use of closed network connection"),
		Entry("eof", "unexpected EOF"),
		Entry("context canceled", "context canceled"),
		Entry("operation canceled", "operation was canceled"),
	)

	It("passes unexpected errors through unchanged", func() {
		err := errors.New("boom")
		Expect(socket.ErrorFilter(err)).To(MatchError(err))
	})
})
