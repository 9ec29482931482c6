package socket_test

import (
	"context"
	"io"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kekchpek/live-capture-net/socket"
	"github.com/kekchpek/live-capture-net/socket/config"
	libptc "github.com/kekchpek/live-capture-net/network/protocol"
)

func TestSocketTCP(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Socket/TCP Package Suite")
}

func echoHandler(ctx socket.Context) {
	_, _ = io.Copy(ctx, ctx)
}

var _ = Describe("ClientTCP/ServerTCP", func() {
	var (
		srv     socket.ServerTCP
		address string
	)

	BeforeEach(func() {
		var err error
		address = fixedTestAddr
		srv, err = socket.NewServerTCP(config.Server{Network: libptc.NetworkTCP, Address: address}, echoHandler)
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		if srv != nil {
			_ = srv.Shutdown(context.Background())
		}
	})

	It("rejects an empty client address", func() {
		cli, err := socket.NewClientTCP("")
		Expect(err).To(MatchError(socket.ErrTCPAddress))
		Expect(cli).To(BeNil())
	})

	It("reports not-connected before Connect", func() {
		cli, err := socket.NewClientTCP("127.0.0.1:1")
		Expect(err).ToNot(HaveOccurred())
		Expect(cli.IsConnected()).To(BeFalse())

		_, werr := cli.Write([]byte("x"))
		Expect(werr).To(MatchError(socket.ErrTCPConnection))
	})

	It("fails to listen without a handler", func() {
		noHandler, err := socket.NewServerTCP(config.Server{Network: libptc.NetworkTCP, Address: "127.0.0.1:0"}, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(noHandler.Listen(context.Background())).To(MatchError(socket.ErrTCPServerHandler))
	})

	It("echoes data over a live connection", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		Expect(srv.Listen(ctx)).To(Succeed())
		Eventually(srv.IsRunning).Should(BeTrue())

		cli, err := socket.NewClientTCP(address)
		Expect(err).ToNot(HaveOccurred())
		defer func() { _ = cli.Close() }()

		Expect(cli.Connect(ctx)).To(Succeed())

		msg := []byte("hello\n")
		n, err := cli.Write(msg)
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(len(msg)))

		resp := make([]byte, len(msg))
		_, err = io.ReadFull(cli, resp)
		Expect(err).ToNot(HaveOccurred())
		Expect(resp).To(Equal(msg))
	})
})

const fixedTestAddr = "127.0.0.1:18426"
