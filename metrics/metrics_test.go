package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kekchpek/live-capture-net/metrics"
)

func TestMetrics(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Metrics Package Suite")
}

var _ = Describe("Collector", func() {
	It("registers every collector exactly once", func() {
		c := metrics.New("test_once")
		reg := prometheus.NewRegistry()

		Expect(c.Register(reg)).To(Succeed())
		Expect(c.Register(reg)).To(MatchError(metrics.ErrAlreadyRegistered))
	})

	It("counts sent and received traffic per channel", func() {
		c := metrics.New("test_traffic")
		reg := prometheus.NewRegistry()
		Expect(c.Register(reg)).To(Succeed())

		c.ObserveSend("RELIABLE_ORDERED", 1024)
		c.ObserveReceive("UNRELIABLE_UNORDERED", 64)

		Expect(testutilCounterValue(c.MessagesSent.WithLabelValues("RELIABLE_ORDERED"))).To(Equal(1.0))
		Expect(testutilCounterValue(c.BytesSent.WithLabelValues("RELIABLE_ORDERED"))).To(Equal(1024.0))
		Expect(testutilCounterValue(c.MessagesRecv.WithLabelValues("UNRELIABLE_UNORDERED"))).To(Equal(1.0))
	})

	It("labels handshake outcomes and disconnect reasons", func() {
		c := metrics.New("test_labels")
		reg := prometheus.NewRegistry()
		Expect(c.Register(reg)).To(Succeed())

		c.ObserveHandshake(true)
		c.ObserveHandshake(false)
		c.ObserveDisconnect("TIMEOUT")

		Expect(testutilCounterValue(c.Handshakes.WithLabelValues("success"))).To(Equal(1.0))
		Expect(testutilCounterValue(c.Handshakes.WithLabelValues("failure"))).To(Equal(1.0))
		Expect(testutilCounterValue(c.Disconnects.WithLabelValues("TIMEOUT"))).To(Equal(1.0))
	})
})

func testutilCounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	_ = c.Write(&m)
	return m.GetCounter().GetValue()
}
