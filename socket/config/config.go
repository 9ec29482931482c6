// Package config holds the dial/listen configuration for this module's
// socket layer: network protocol, address, and connection-idle timeout.
// Wire encryption is out of scope for this module (see the Non-goals in
// the project's design notes), so unlike the package this one is adapted
// from, there is no TLS sub-configuration here.
package config

import (
	"net"

	liberr "github.com/kekchpek/live-capture-net/errors"
	"github.com/kekchpek/live-capture-net/duration"
	libptc "github.com/kekchpek/live-capture-net/network/protocol"
)

const (
	ErrCodeInvalidNetwork = liberr.MinPkgSocketConfig + iota
	ErrCodeInvalidAddress
)

var (
	// ErrInvalidNetwork is returned when Network does not name a protocol
	// this module's transports understand.
	ErrInvalidNetwork = liberr.New(ErrCodeInvalidNetwork, "invalid or unsupported network protocol")
	// ErrInvalidAddress is returned when Address does not resolve for the
	// configured Network.
	ErrInvalidAddress = liberr.New(ErrCodeInvalidAddress, "invalid address for configured network")
)

// Client configures an outbound dial.
type Client struct {
	Network           libptc.NetworkProtocol
	Address           string
	ConnectTimeout    duration.Duration
}

// Validate resolves Address against Network to catch configuration errors
// before attempting to dial.
func (c Client) Validate() error {
	return validateAddress(c.Network, c.Address)
}

// Server configures an inbound listener.
type Server struct {
	Network        libptc.NetworkProtocol
	Address        string
	ConIdleTimeout duration.Duration
}

// Validate resolves Address against Network to catch configuration errors
// before attempting to listen.
func (s Server) Validate() error {
	return validateAddress(s.Network, s.Address)
}

func validateAddress(proto libptc.NetworkProtocol, address string) error {
	switch proto {
	case libptc.NetworkTCP, libptc.NetworkTCP4, libptc.NetworkTCP6:
		if _, err := net.ResolveTCPAddr(proto.Code(), address); err != nil {
			return liberr.New(ErrCodeInvalidAddress, "invalid tcp address", err)
		}
	case libptc.NetworkUDP, libptc.NetworkUDP4, libptc.NetworkUDP6:
		if _, err := net.ResolveUDPAddr(proto.Code(), address); err != nil {
			return liberr.New(ErrCodeInvalidAddress, "invalid udp address", err)
		}
	case libptc.NetworkUnix, libptc.NetworkUnixGram:
		if _, err := net.ResolveUnixAddr(proto.Code(), address); err != nil {
			return liberr.New(ErrCodeInvalidAddress, "invalid unix address", err)
		}
	default:
		return ErrInvalidNetwork
	}

	return nil
}
