package netclient_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kekchpek/live-capture-net/message"
	"github.com/kekchpek/live-capture-net/netclient"
	"github.com/kekchpek/live-capture-net/remote"
	"github.com/kekchpek/live-capture-net/wire"
)

func TestNetClient(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Netclient Package Suite")
}

// fakeServer is a minimal hand-rolled stand-in for netserver: it accepts
// exactly one stream connection and shares one datagram socket, enough to
// drive a client through a real handshake over real sockets.
type fakeServer struct {
	id       remote.ID
	ln       net.Listener
	udp      *net.UDPConn
	streamEP net.Addr
	dgramEP  net.Addr

	accepted chan net.Conn
}

func newFakeServer() *fakeServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).ToNot(HaveOccurred())

	udp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	Expect(err).ToNot(HaveOccurred())

	fs := &fakeServer{
		id:       remote.NewID(),
		ln:       ln,
		udp:      udp,
		streamEP: ln.Addr(),
		dgramEP:  udp.LocalAddr(),
		accepted: make(chan net.Conn, 1),
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		fs.accepted <- conn
	}()

	return fs
}

func (fs *fakeServer) port() int {
	return fs.ln.Addr().(*net.TCPAddr).Port
}

// handshake performs the server side of the INITIALIZATION exchange on the
// accepted connection: read the client's frame, then answer with its own.
func (fs *fakeServer) handshake(sc net.Conn) (remote.ID, error) {
	_, _, rd, err := wire.ReadInitialization(sc)
	if err != nil {
		return remote.ID{}, err
	}

	payload := wire.EncodeInitialization(wire.ProtocolVersion, wire.RemoteData{
		ID:       fs.id,
		StreamEP: fs.streamEP,
		DgramEP:  fs.dgramEP,
	})
	frame := wire.EncodeFrame(fs.id, wire.PacketInitialization, payload)
	_, err = sc.Write(frame)
	return rd.ID, err
}

func (fs *fakeServer) close() {
	_ = fs.ln.Close()
	_ = fs.udp.Close()
}

var _ = Describe("Client", func() {
	It("rejects an empty host", func() {
		c := netclient.New(netclient.Options{LocalID: remote.NewID()})
		err := c.Connect(context.Background(), "", 1234, 0)
		Expect(err).To(MatchError(netclient.ErrInvalidAddress))
	})

	It("rejects an out-of-range port", func() {
		c := netclient.New(netclient.Options{LocalID: remote.NewID()})
		err := c.Connect(context.Background(), "127.0.0.1", 70000, 0)
		Expect(err).To(MatchError(netclient.ErrInvalidAddress))
	})

	It("rejects a local port already bound by another process", func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).ToNot(HaveOccurred())
		defer func() { _ = ln.Close() }()
		port := ln.Addr().(*net.TCPAddr).Port

		c := netclient.New(netclient.Options{LocalID: remote.NewID()})
		err = c.Connect(context.Background(), "127.0.0.1", 9999, port)
		Expect(err).To(MatchError(netclient.ErrPortInUse))
	})

	It("connects, completes the handshake, and reaches CONNECTED", func() {
		fs := newFakeServer()
		defer fs.close()

		localID := remote.NewID()
		c := netclient.New(netclient.Options{LocalID: localID})

		connected := make(chan remote.ID, 1)
		c.Events().OnRemoteConnected(func(r *remote.Remote) { connected <- r.ID() })

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		err := c.Connect(ctx, "127.0.0.1", fs.port(), 0)
		Expect(err).ToNot(HaveOccurred())

		var sc net.Conn
		Eventually(fs.accepted, time.Second).Should(Receive(&sc))
		defer func() { _ = sc.Close() }()

		gotClientID, err := fs.handshake(sc)
		Expect(err).ToNot(HaveOccurred())
		Expect(gotClientID).To(Equal(localID))

		Eventually(connected, time.Second).Should(Receive(Equal(fs.id)))
		Eventually(c.State, time.Second).Should(Equal(netclient.StateConnected))

		_ = c.Stop(context.Background())
	})

	It("delivers a message sent after the handshake to the server's stream connection", func() {
		fs := newFakeServer()
		defer fs.close()

		c := netclient.New(netclient.Options{LocalID: remote.NewID()})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		Expect(c.Connect(ctx, "127.0.0.1", fs.port(), 0)).To(Succeed())

		var sc net.Conn
		Eventually(fs.accepted, time.Second).Should(Receive(&sc))
		defer func() { _ = sc.Close() }()

		_, err := fs.handshake(sc)
		Expect(err).ToNot(HaveOccurred())

		Eventually(c.State, time.Second).Should(Equal(netclient.StateConnected))

		pool := c.MessagePool()
		msg := pool.Acquire(fs.id, wire.ChannelReliableOrdered, wire.PacketGeneric, 5)
		_, _ = msg.Write([]byte("hello"))
		Expect(c.SendMessage(msg)).To(BeTrue())

		header := make([]byte, wire.HeaderSize)
		_, err = io.ReadFull(sc, header)
		Expect(err).ToNot(HaveOccurred())
		h, decErr := wire.DecodeHeader(header)
		Expect(decErr).ToNot(HaveOccurred())
		Expect(h.PacketType).To(Equal(wire.PacketGeneric))

		payload := make([]byte, h.DataLength)
		_, err = io.ReadFull(sc, payload)
		Expect(err).ToNot(HaveOccurred())
		Expect(payload).To(Equal([]byte("hello")))

		_ = c.Stop(context.Background())
	})

	It("SendMessage returns false before any connection exists", func() {
		c := netclient.New(netclient.Options{LocalID: remote.NewID()})
		pool := c.MessagePool()
		msg := pool.Acquire(remote.NewID(), wire.ChannelReliableOrdered, wire.PacketGeneric, 1)
		Expect(c.SendMessage(msg)).To(BeFalse())
	})

	It("rejects registering a handler before any remote is known", func() {
		c := netclient.New(netclient.Options{LocalID: remote.NewID()})
		err := c.RegisterMessageHandler(remote.NewID(), func(*message.Message) {}, true)
		Expect(err).To(HaveOccurred())
	})
})
