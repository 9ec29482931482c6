package endpoint_test

import (
	"context"
	"net"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kekchpek/live-capture-net/conn"
	"github.com/kekchpek/live-capture-net/endpoint"
	"github.com/kekchpek/live-capture-net/message"
	"github.com/kekchpek/live-capture-net/remote"
	"github.com/kekchpek/live-capture-net/wire"
)

func TestEndpoint(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Endpoint Package Suite")
}

func newPair() (net.Conn, net.Conn) { return net.Pipe() }

// drain continuously reads and discards from c, standing in for a real
// peer socket that would otherwise keep up with this module's 1s
// heartbeat traffic on an unbuffered net.Pipe.
func drain(c net.Conn) {
	buf := make([]byte, 4096)
	for {
		if _, err := c.Read(buf); err != nil {
			return
		}
	}
}

var _ = Describe("Endpoint", func() {
	var (
		ep       *endpoint.Endpoint
		registry *remote.Registry
		peerID   remote.ID
		rem      *remote.Remote
	)

	BeforeEach(func() {
		registry = remote.NewRegistry()
		ep = endpoint.New(endpoint.Options{LocalID: remote.NewID(), Registry: registry})
		peerID = remote.NewID()
		var err error
		rem, err = registry.Create(peerID, &net.TCPAddr{Port: 1}, &net.UDPAddr{Port: 2})
		Expect(err).ToNot(HaveOccurred())
	})

	It("buffers a message arriving before any handler is registered, then delivers it in order on registration", func() {
		sA, sB := newPair()
		dA, dB := newPair()
		defer func() { _ = sA.Close(); _ = sB.Close(); _ = dA.Close(); _ = dB.Close() }()

		go drain(dB)
		c := ep.AdoptConnection(context.Background(), rem, sA, dA, true)
		defer func() { _ = c.Close(conn.ReasonGraceful) }()

		frame1 := wire.EncodeFrame(peerID, wire.PacketGeneric, []byte("one"))
		frame2 := wire.EncodeFrame(peerID, wire.PacketGeneric, []byte("two"))
		_, err := sB.Write(frame1)
		Expect(err).ToNot(HaveOccurred())
		_, err = sB.Write(frame2)
		Expect(err).ToNot(HaveOccurred())

		time.Sleep(50 * time.Millisecond) // let both frames land in the buffer

		var received [][]byte
		done := make(chan struct{}, 2)
		err = ep.RegisterMessageHandler(peerID, func(msg *message.Message) {
			received = append(received, append([]byte(nil), msg.Payload()...))
			done <- struct{}{}
		}, true)
		Expect(err).ToNot(HaveOccurred())

		Eventually(done, time.Second).Should(Receive())
		Eventually(done, time.Second).Should(Receive())
		Expect(received).To(Equal([][]byte{[]byte("one"), []byte("two")}))
	})

	It("rejects registering a handler for REMOTE_ALL", func() {
		err := ep.RegisterMessageHandler(remote.REMOTE_ALL, func(*message.Message) {}, true)
		Expect(err).To(MatchError(endpoint.ErrInvalidRemote))
	})

	It("rejects registering a handler for an unknown remote", func() {
		err := ep.RegisterMessageHandler(remote.NewID(), func(*message.Message) {}, true)
		Expect(err).To(MatchError(endpoint.ErrUnknownRemote))
	})

	It("refuses to overwrite an existing handler with a different one", func() {
		sA, sB := newPair()
		dA, dB := newPair()
		defer func() { _ = sA.Close(); _ = sB.Close(); _ = dA.Close(); _ = dB.Close() }()

		go drain(dB)
		c := ep.AdoptConnection(context.Background(), rem, sA, dA, true)
		defer func() { _ = c.Close(conn.ReasonGraceful) }()

		Expect(ep.RegisterMessageHandler(peerID, func(*message.Message) {}, true)).To(Succeed())
		err := ep.RegisterMessageHandler(peerID, func(*message.Message) {}, true)
		Expect(err).To(MatchError(endpoint.ErrHandlerExists))
	})

	It("fires remote_connected once and remote_disconnected with GRACEFUL on close", func() {
		sA, sB := newPair()
		dA, dB := newPair()
		defer func() { _ = sB.Close(); _ = dB.Close() }()

		connected := make(chan remote.ID, 1)
		disconnected := make(chan conn.Reason, 1)
		ep.Events().OnRemoteConnected(func(r *remote.Remote) { connected <- r.ID() })
		ep.Events().OnRemoteDisconnected(func(r *remote.Remote, reason conn.Reason) { disconnected <- reason })

		go drain(dB)
		c := ep.AdoptConnection(context.Background(), rem, sA, dA, true)

		Eventually(connected, time.Second).Should(Receive(Equal(peerID)))

		Expect(c.Close(conn.ReasonGraceful)).To(Succeed())
		Eventually(disconnected, time.Second).Should(Receive(Equal(conn.ReasonGraceful)))
	})

	It("replaces a prior connection for the same remote with RECONNECTED", func() {
		s1A, s1B := newPair()
		d1A, d1B := newPair()
		s2A, s2B := newPair()
		d2A, d2B := newPair()
		defer func() {
			_ = s1B.Close()
			_ = d1B.Close()
			_ = s2A.Close()
			_ = s2B.Close()
			_ = d2A.Close()
			_ = d2B.Close()
		}()

		reasons := make(chan conn.Reason, 2)
		ep.Events().OnRemoteDisconnected(func(_ *remote.Remote, reason conn.Reason) { reasons <- reason })

		go drain(d1B)
		go drain(d2B)
		first := ep.AdoptConnection(context.Background(), rem, s1A, d1A, true)
		second := ep.AdoptConnection(context.Background(), rem, s2A, d2A, true)
		defer func() { _ = second.Close(conn.ReasonGraceful) }()

		Eventually(reasons, time.Second).Should(Receive(Equal(conn.ReasonReconnected)))
		Expect(first.Status()).To(Equal(conn.StatusClosed))
		Expect(second.Status()).To(Equal(conn.StatusEstablished))
	})

	It("SendMessage returns false for an unregistered remote", func() {
		pool := ep.MessagePool()
		msg := pool.Acquire(remote.NewID(), wire.ChannelReliableOrdered, wire.PacketGeneric, 1)
		Expect(ep.SendMessage(msg)).To(BeFalse())
	})

	It("delivers a single-target SendMessage over the stream socket", func() {
		sA, sB := newPair()
		dA, dB := newPair()
		defer func() { _ = sA.Close(); _ = sB.Close(); _ = dA.Close(); _ = dB.Close() }()

		go drain(dB)
		c := ep.AdoptConnection(context.Background(), rem, sA, dA, true)
		defer func() { _ = c.Close(conn.ReasonGraceful) }()

		pool := ep.MessagePool()
		msg := pool.Acquire(peerID, wire.ChannelReliableOrdered, wire.PacketGeneric, 3)
		_, _ = msg.Write([]byte("abc"))

		readDone := make(chan []byte, 1)
		go func() {
			buf := make([]byte, 256)
			n, _ := sB.Read(buf)
			readDone <- buf[:n]
		}()

		Expect(ep.SendMessage(msg)).To(BeTrue())

		var got []byte
		Eventually(readDone, time.Second).Should(Receive(&got))
		_, payload, err := wire.DecodeFrame(got)
		Expect(err).ToNot(HaveOccurred())
		Expect(payload).To(Equal([]byte("abc")))
	})

	It("Stop closes every connection and empties the remote table", func() {
		sA, sB := newPair()
		dA, dB := newPair()
		defer func() { _ = sB.Close(); _ = dB.Close() }()

		closedReason := make(chan conn.Reason, 1)
		ep.Events().OnRemoteDisconnected(func(_ *remote.Remote, reason conn.Reason) { closedReason <- reason })

		go drain(dB)
		c := ep.AdoptConnection(context.Background(), rem, sA, dA, true)

		stopped := make(chan struct{}, 1)
		ep.Events().OnStopped(func() { stopped <- struct{}{} })

		Expect(ep.Stop(true)).To(Succeed())

		Eventually(closedReason, time.Second).Should(Receive(Equal(conn.ReasonGraceful)))
		Eventually(stopped, time.Second).Should(Receive())
		Expect(c.Status()).To(Equal(conn.StatusClosed))
		Expect(ep.RegisterMessageHandler(peerID, func(*message.Message) {}, false)).To(MatchError(endpoint.ErrUnknownRemote))
	})
})
