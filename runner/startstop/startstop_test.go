package startstop_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/kekchpek/live-capture-net/runner/startstop"
)

func TestStartStop(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Runner/StartStop Package Suite")
}

var _ = Describe("StartStop", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("is not running and has zero uptime before Start", func() {
		r := New(func(context.Context) error { return nil }, func(context.Context) error { return nil })
		Expect(r.IsRunning()).To(BeFalse())
		Expect(r.Uptime()).To(BeZero())
	})

	It("runs the start function until the context it receives is cancelled", func() {
		var running atomic.Bool

		start := func(c context.Context) error {
			running.Store(true)
			<-c.Done()
			running.Store(false)
			return nil
		}
		stop := func(context.Context) error { return nil }

		r := New(start, stop)
		Expect(r.Start(ctx)).To(Succeed())

		Eventually(func() bool { return running.Load() && r.IsRunning() }, time.Second).Should(BeTrue())

		Expect(r.Stop(ctx)).To(Succeed())
		Eventually(r.IsRunning, time.Second).Should(BeFalse())
		Eventually(func() bool { return running.Load() }, time.Second).Should(BeFalse())
	})

	It("stops the previous instance when started again", func() {
		var startCount atomic.Int32

		start := func(c context.Context) error {
			startCount.Add(1)
			<-c.Done()
			return nil
		}
		stop := func(context.Context) error { return nil }

		r := New(start, stop)
		Expect(r.Start(ctx)).To(Succeed())
		Eventually(r.IsRunning, time.Second).Should(BeTrue())

		Expect(r.Start(ctx)).To(Succeed())
		Eventually(func() int32 { return startCount.Load() }, time.Second).Should(BeNumerically(">", int32(1)))

		_ = r.Stop(ctx)
	})

	It("is idempotent when stopped while not running", func() {
		r := New(func(context.Context) error { return nil }, func(context.Context) error { return nil })
		Expect(r.Stop(ctx)).To(Succeed())
	})

	It("records an error from the stop function without failing Stop itself", func() {
		want := errors.New("stop failed")
		var running atomic.Bool

		start := func(c context.Context) error {
			running.Store(true)
			<-c.Done()
			return nil
		}
		stop := func(context.Context) error { return want }

		r := New(start, stop)
		Expect(r.Start(ctx)).To(Succeed())
		Eventually(func() bool { return running.Load() }, time.Second).Should(BeTrue())

		Expect(r.Stop(ctx)).To(Succeed())
		Eventually(r.ErrorsLast, time.Second).Should(MatchError(want))
	})

	It("records an error when the start function is nil", func() {
		r := New(nil, func(context.Context) error { return nil })
		Expect(r.Start(ctx)).To(Succeed())
		Eventually(r.ErrorsLast, time.Second).ShouldNot(BeNil())
		Expect(r.ErrorsLast().Error()).To(ContainSubstring("invalid start function"))
	})

	It("restarts by stopping then starting again", func() {
		var startCount atomic.Int32

		start := func(c context.Context) error {
			startCount.Add(1)
			<-c.Done()
			return nil
		}
		stop := func(context.Context) error { return nil }

		r := New(start, stop)
		Expect(r.Start(ctx)).To(Succeed())
		Eventually(r.IsRunning, time.Second).Should(BeTrue())

		prev := startCount.Load()
		Expect(r.Restart(ctx)).To(Succeed())
		Eventually(func() int32 { return startCount.Load() }, time.Second).Should(BeNumerically(">", prev))

		_ = r.Stop(ctx)
	})
})
