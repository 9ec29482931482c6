package ticker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/kekchpek/live-capture-net/runner/ticker"
)

func TestTicker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Runner/Ticker Package Suite")
}

var _ = Describe("Ticker", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("is not running before Start", func() {
		tk := New(10*time.Millisecond, func(context.Context, *time.Ticker) error { return nil })
		Expect(tk.IsRunning()).To(BeFalse())
		Expect(tk.Uptime()).To(BeZero())
	})

	It("accepts a nil function without panicking", func() {
		Expect(func() { New(10*time.Millisecond, nil) }).NotTo(Panic())
	})

	It("invokes the function periodically while running", func() {
		var count int32
		tk := New(10*time.Millisecond, func(context.Context, *time.Ticker) error {
			atomic.AddInt32(&count, 1)
			return nil
		})

		Expect(tk.Start(ctx)).To(Succeed())
		Expect(tk.IsRunning()).To(BeTrue())

		Eventually(func() int32 { return atomic.LoadInt32(&count) }, time.Second).Should(BeNumerically(">=", int32(2)))

		Expect(tk.Stop(ctx)).To(Succeed())
		Expect(tk.IsRunning()).To(BeFalse())
	})

	It("tracks uptime once started", func() {
		tk := New(5*time.Millisecond, func(context.Context, *time.Ticker) error { return nil })
		Expect(tk.Start(ctx)).To(Succeed())

		time.Sleep(20 * time.Millisecond)
		Expect(tk.Uptime()).To(BeNumerically(">=", 1*time.Millisecond))

		_ = tk.Stop(ctx)
	})

	It("stops ticking once stopped", func() {
		var count int32
		tk := New(5*time.Millisecond, func(context.Context, *time.Ticker) error {
			atomic.AddInt32(&count, 1)
			return nil
		})

		Expect(tk.Start(ctx)).To(Succeed())
		Eventually(func() int32 { return atomic.LoadInt32(&count) }, time.Second).Should(BeNumerically(">=", int32(1)))

		Expect(tk.Stop(ctx)).To(Succeed())
		after := atomic.LoadInt32(&count)

		Consistently(func() int32 { return atomic.LoadInt32(&count) }, 50*time.Millisecond, 10*time.Millisecond).Should(Equal(after))
	})
})
