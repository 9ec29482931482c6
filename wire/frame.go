// Package wire implements the on-wire frame format shared by the stream and
// datagram transports: a fixed 24-byte header (sender id, packet type,
// payload length) followed by the payload, plus the handshake payload codec
// (protocol version + remote identity + both endpoints).
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	liberr "github.com/kekchpek/live-capture-net/errors"
	"github.com/kekchpek/live-capture-net/remote"
)

const (
	// HeaderSize is the fixed size, in bytes, of a frame header.
	HeaderSize = 24

	// DatagramMax is the largest payload a single UDP frame may carry.
	DatagramMax = 65507 - HeaderSize

	// LargePayloadThreshold is the payload size above which a Message's
	// backing buffer is released back to the OS allocator instead of
	// retained by the pool.
	LargePayloadThreshold = 8 * 1024
)

// PacketType classifies the payload carried by a Frame.
type PacketType uint32

const (
	PacketInvalid PacketType = iota
	PacketInitialization
	PacketGeneric
	PacketHeartbeat
	PacketDisconnect
)

func (t PacketType) String() string {
	switch t {
	case PacketInitialization:
		return "INITIALIZATION"
	case PacketGeneric:
		return "GENERIC"
	case PacketHeartbeat:
		return "HEARTBEAT"
	case PacketDisconnect:
		return "DISCONNECT"
	default:
		return "INVALID"
	}
}

// Channel is the in-process routing enum for an outbound send; the wire
// format never needs it since the transport that delivered a frame already
// tells the receiver which channel it rode in on.
type Channel uint8

const (
	ChannelReliableOrdered Channel = iota
	ChannelUnreliableUnordered
)

func (c Channel) String() string {
	if c == ChannelUnreliableUnordered {
		return "UNRELIABLE_UNORDERED"
	}
	return "RELIABLE_ORDERED"
}

const (
	ErrCodeShortHeader = liberr.MinPkgWire + iota
	ErrCodeShortPayload
	ErrCodePayloadTooLarge
)

var (
	// ErrShortHeader is returned when fewer than HeaderSize bytes are
	// available to decode a frame header.
	ErrShortHeader = liberr.New(ErrCodeShortHeader, "frame header truncated")
	// ErrShortPayload is returned when the declared payload length exceeds
	// the bytes actually available.
	ErrShortPayload = liberr.New(ErrCodeShortPayload, "frame payload truncated")
	// ErrPayloadTooLarge describes a payload larger than DatagramMax.
	// EncodeFrame does not check payload size and does not return it.
	ErrPayloadTooLarge = liberr.New(ErrCodePayloadTooLarge, "frame payload exceeds datagram maximum")
)

// Header is the decoded, fixed-size prefix of a Frame.
type Header struct {
	SenderID   remote.ID
	PacketType PacketType
	DataLength uint32
}

// EncodeHeader writes h into the first HeaderSize bytes of dst, which must
// be at least that long.
func EncodeHeader(dst []byte, h Header) {
	copy(dst[0:16], h.SenderID[:])
	binary.LittleEndian.PutUint32(dst[16:20], uint32(h.PacketType))
	binary.LittleEndian.PutUint32(dst[20:24], h.DataLength)
}

// DecodeHeader reads a Header from the first HeaderSize bytes of src.
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, ErrShortHeader
	}

	var h Header
	copy(h.SenderID[:], src[0:16])
	h.PacketType = PacketType(binary.LittleEndian.Uint32(src[16:20]))
	h.DataLength = binary.LittleEndian.Uint32(src[20:24])
	return h, nil
}

// EncodeFrame returns the full wire representation of a header plus payload.
func EncodeFrame(senderID remote.ID, kind PacketType, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	EncodeHeader(buf, Header{SenderID: senderID, PacketType: kind, DataLength: uint32(len(payload))})
	copy(buf[HeaderSize:], payload)
	return buf
}

// DecodeFrame splits a full wire buffer into its header and payload. The
// returned payload aliases src.
func DecodeFrame(src []byte) (Header, []byte, error) {
	h, err := DecodeHeader(src)
	if err != nil {
		return Header{}, nil, err
	}

	if uint32(len(src)-HeaderSize) < h.DataLength {
		return Header{}, nil, ErrShortPayload
	}

	return h, src[HeaderSize : HeaderSize+int(h.DataLength)], nil
}

// Version is the four-part protocol version carried by the handshake's
// INITIALIZATION payload.
type Version struct {
	Major, Minor, Build, Revision int32
}

// ProtocolVersion is the version this module's wire format implements.
var ProtocolVersion = Version{Major: 0, Minor: 1, Build: 1, Revision: 0}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.Revision)
}

// Equal reports whether v and o name the same protocol version.
func (v Version) Equal(o Version) bool {
	return v == o
}

func encodeInt32(dst []byte, v int32) {
	binary.LittleEndian.PutUint32(dst, uint32(v))
}

func decodeInt32(src []byte) int32 {
	return int32(binary.LittleEndian.Uint32(src))
}

// EncodeVersion writes v as 16 little-endian bytes.
func EncodeVersion(v Version) []byte {
	buf := make([]byte, 16)
	encodeInt32(buf[0:4], v.Major)
	encodeInt32(buf[4:8], v.Minor)
	encodeInt32(buf[8:12], v.Build)
	encodeInt32(buf[12:16], v.Revision)
	return buf
}

// DecodeVersion reads a Version from its 16-byte encoding.
func DecodeVersion(src []byte) (Version, error) {
	if len(src) < 16 {
		return Version{}, ErrShortPayload
	}
	return Version{
		Major:    decodeInt32(src[0:4]),
		Minor:    decodeInt32(src[4:8]),
		Build:    decodeInt32(src[8:12]),
		Revision: decodeInt32(src[12:16]),
	}, nil
}

const endpointSize = 1 + 4 + 2

// EncodeEndpoint serializes a (family byte + 4-byte IPv4 address + 2-byte
// big-endian port) endpoint, as carried inside RemoteData. Only IPv4
// addresses are supported on the wire, matching the original protocol.
func EncodeEndpoint(addr net.Addr) []byte {
	buf := make([]byte, endpointSize)

	host, port := splitAddr(addr)
	buf[0] = 1 // address family: IPv4
	ip4 := host.To4()
	if ip4 != nil {
		copy(buf[1:5], ip4)
	}
	binary.BigEndian.PutUint16(buf[5:7], uint16(port))
	return buf
}

func splitAddr(addr net.Addr) (net.IP, int) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP, a.Port
	case *net.UDPAddr:
		return a.IP, a.Port
	default:
		return net.IPv4zero, 0
	}
}

// DecodeEndpoint is the inverse of EncodeEndpoint.
func DecodeEndpoint(src []byte) (net.IP, uint16, error) {
	if len(src) < endpointSize {
		return nil, 0, ErrShortPayload
	}
	ip := net.IPv4(src[1], src[2], src[3], src[4])
	port := binary.BigEndian.Uint16(src[5:7])
	return ip, port, nil
}

// RemoteData is the payload identifying a peer during handshake: its id
// followed by its stream and datagram endpoints.
type RemoteData struct {
	ID       remote.ID
	StreamEP net.Addr
	DgramEP  net.Addr
}

// EncodeRemoteData serializes r as 16 id bytes followed by two endpoints.
func EncodeRemoteData(r RemoteData) []byte {
	buf := make([]byte, 16+endpointSize*2)
	copy(buf[0:16], r.ID[:])
	copy(buf[16:16+endpointSize], EncodeEndpoint(r.StreamEP))
	copy(buf[16+endpointSize:16+2*endpointSize], EncodeEndpoint(r.DgramEP))
	return buf
}

// DecodeRemoteData reads back an id and its two endpoints (the stream
// endpoint as a *net.TCPAddr, the datagram endpoint as a *net.UDPAddr).
func DecodeRemoteData(src []byte) (id remote.ID, streamEP, dgramEP net.Addr, err error) {
	if len(src) < 16+2*endpointSize {
		return remote.ID{}, nil, nil, ErrShortPayload
	}

	copy(id[:], src[0:16])

	sip, sport, err := DecodeEndpoint(src[16 : 16+endpointSize])
	if err != nil {
		return remote.ID{}, nil, nil, err
	}
	dip, dport, err := DecodeEndpoint(src[16+endpointSize : 16+2*endpointSize])
	if err != nil {
		return remote.ID{}, nil, nil, err
	}

	streamEP = &net.TCPAddr{IP: sip, Port: int(sport)}
	dgramEP = &net.UDPAddr{IP: dip, Port: int(dport)}
	return id, streamEP, dgramEP, nil
}

// EncodeInitialization builds the full INITIALIZATION payload: protocol
// version followed by RemoteData.
func EncodeInitialization(v Version, r RemoteData) []byte {
	return append(EncodeVersion(v), EncodeRemoteData(r)...)
}

// DecodeInitialization is the inverse of EncodeInitialization.
func DecodeInitialization(src []byte) (Version, RemoteData, error) {
	v, err := DecodeVersion(src)
	if err != nil {
		return Version{}, RemoteData{}, err
	}

	if len(src) < 16 {
		return Version{}, RemoteData{}, ErrShortPayload
	}

	id, streamEP, dgramEP, err := DecodeRemoteData(src[16:])
	if err != nil {
		return Version{}, RemoteData{}, err
	}

	return v, RemoteData{ID: id, StreamEP: streamEP, DgramEP: dgramEP}, nil
}

// ReadInitialization synchronously reads one frame off r and decodes it as
// an INITIALIZATION packet. It is used by the handshake exchange, which
// runs before a stream pipe is handed to a transport.Socket receive loop:
// reading directly here avoids a second goroutine racing the pipe.
func ReadInitialization(r io.Reader) (Header, Version, RemoteData, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Header{}, Version{}, RemoteData{}, err
	}

	h, err := DecodeHeader(header)
	if err != nil {
		return Header{}, Version{}, RemoteData{}, err
	}
	if h.PacketType != PacketInitialization {
		return Header{}, Version{}, RemoteData{}, liberr.New(ErrCodeShortHeader, "expected INITIALIZATION packet")
	}

	payload := make([]byte, h.DataLength)
	if h.DataLength > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Header{}, Version{}, RemoteData{}, err
		}
	}

	v, rd, err := DecodeInitialization(payload)
	if err != nil {
		return Header{}, Version{}, RemoteData{}, err
	}
	return h, v, rd, nil
}
