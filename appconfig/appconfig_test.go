package appconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kekchpek/live-capture-net/appconfig"
	libptc "github.com/kekchpek/live-capture-net/network/protocol"
)

func TestAppConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "AppConfig Package Suite")
}

var _ = Describe("Load", func() {
	It("returns documented defaults with no config file", func() {
		cfg, err := appconfig.Load("")
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.Logging.Level).To(Equal("info"))
		Expect(cfg.Server.Network).To(Equal(libptc.NetworkTCP))
		Expect(cfg.Metrics.Enabled).To(BeFalse())
	})

	It("decodes a YAML file, including the NetworkProtocol hook", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "config.yaml")
		yaml := "server:\n  network: udp\n  port: 9000\nclient:\n  server_host: 127.0.0.1\n  server_port: 9000\nlogging:\n  level: debug\n"
		Expect(os.WriteFile(path, []byte(yaml), 0o600)).To(Succeed())

		cfg, err := appconfig.Load(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.Server.Network).To(Equal(libptc.NetworkUDP))
		Expect(cfg.Server.Port).To(Equal(9000))
		Expect(cfg.Client.ServerHost).To(Equal("127.0.0.1"))
		Expect(cfg.Logging.Level).To(Equal("debug"))
	})

	It("fails on a missing config file", func() {
		_, err := appconfig.Load(filepath.Join(GinkgoT().TempDir(), "missing.yaml"))
		Expect(err).To(MatchError(appconfig.ErrRead))
	})
})
