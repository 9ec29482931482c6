package socket_test

import (
	"context"
	"net"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kekchpek/live-capture-net/socket"
	"github.com/kekchpek/live-capture-net/socket/config"
	libptc "github.com/kekchpek/live-capture-net/network/protocol"
)

func TestSocketUDP(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Socket/UDP Package Suite")
}

var _ = Describe("ClientUDP/ServerUDP", func() {
	const addr = "127.0.0.1:18427"

	var srv socket.ServerUDP

	AfterEach(func() {
		if srv != nil {
			_ = srv.Shutdown(context.Background())
		}
	})

	It("rejects an empty client address", func() {
		cli, err := socket.NewClientUDP("")
		Expect(err).To(MatchError(socket.ErrUDPAddress))
		Expect(cli).To(BeNil())
	})

	It("fails to write before connecting", func() {
		cli, err := socket.NewClientUDP("127.0.0.1:1")
		Expect(err).ToNot(HaveOccurred())

		_, werr := cli.Write([]byte("x"))
		Expect(werr).To(MatchError(socket.ErrUDPConnection))
	})

	It("delivers a datagram to the server handler", func() {
		received := make(chan []byte, 1)
		var err error
		srv, err = socket.NewServerUDP(
			config.Server{Network: libptc.NetworkUDP, Address: addr},
			func(from net.Addr, payload []byte) {
				received <- payload
			},
		)
		Expect(err).ToNot(HaveOccurred())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		Expect(srv.Listen(ctx)).To(Succeed())
		Eventually(srv.IsRunning).Should(BeTrue())

		cli, err := socket.NewClientUDP(addr)
		Expect(err).ToNot(HaveOccurred())
		defer func() { _ = cli.Close() }()

		Expect(cli.Connect(ctx)).To(Succeed())

		msg := []byte("ping")
		n, err := cli.Write(msg)
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(len(msg)))

		Eventually(received, 2*time.Second).Should(Receive(Equal(msg)))
	})
})
