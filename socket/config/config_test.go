package config_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kekchpek/live-capture-net/socket/config"
	libptc "github.com/kekchpek/live-capture-net/network/protocol"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Socket/Config Package Suite")
}

var _ = Describe("Client", func() {
	It("validates a well-formed TCP address", func() {
		c := config.Client{Network: libptc.NetworkTCP, Address: "localhost:8080"}
		Expect(c.Validate()).To(Succeed())
	})

	It("validates a well-formed UDP address", func() {
		c := config.Client{Network: libptc.NetworkUDP, Address: "127.0.0.1:9000"}
		Expect(c.Validate()).To(Succeed())
	})

	It("rejects an unresolvable address", func() {
		c := config.Client{Network: libptc.NetworkTCP, Address: "not an address"}
		Expect(c.Validate()).To(HaveOccurred())
	})

	It("rejects an unsupported network protocol", func() {
		c := config.Client{Network: libptc.NetworkEmpty, Address: "localhost:8080"}
		Expect(c.Validate()).To(MatchError(config.ErrInvalidNetwork))
	})
})

var _ = Describe("Server", func() {
	It("validates a bind address", func() {
		s := config.Server{Network: libptc.NetworkTCP, Address: ":8080"}
		Expect(s.Validate()).To(Succeed())
	})

	It("rejects an invalid bind address", func() {
		s := config.Server{Network: libptc.NetworkUDP, Address: "garbage"}
		Expect(s.Validate()).To(HaveOccurred())
	})
})
