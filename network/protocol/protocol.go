/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package protocol enumerates the network protocols carried by this module's
// dual-channel transport: a reliable, ordered stream protocol and an
// unreliable, unordered datagram protocol, plus the handful of related
// net.Dial/net.Listen protocol strings the transport layer may be asked to
// use in tests or alternate deployments.
package protocol

import (
	"math"
	"strings"
)

// NetworkProtocol identifies a network dial/listen protocol as understood by
// the standard library's net package. The zero value, NetworkEmpty, marks an
// unset or invalid protocol.
type NetworkProtocol uint8

const (
	NetworkEmpty NetworkProtocol = iota
	NetworkUnix
	NetworkTCP
	NetworkTCP4
	NetworkTCP6
	NetworkUDP
	NetworkUDP4
	NetworkUDP6
	NetworkIP
	NetworkIP4
	NetworkIP6
	NetworkUnixGram
)

// String returns the lowercase net-package protocol name, or an empty string
// for NetworkEmpty or an out-of-range value.
func (n NetworkProtocol) String() string {
	switch n {
	case NetworkUnix:
		return "unix"
	case NetworkTCP:
		return "tcp"
	case NetworkTCP4:
		return "tcp4"
	case NetworkTCP6:
		return "tcp6"
	case NetworkUDP:
		return "udp"
	case NetworkUDP4:
		return "udp4"
	case NetworkUDP6:
		return "udp6"
	case NetworkIP:
		return "ip"
	case NetworkIP4:
		return "ip4"
	case NetworkIP6:
		return "ip6"
	case NetworkUnixGram:
		return "unixgram"
	default:
		return ""
	}
}

// Code is an alias of String kept for symmetry with the rest of this
// module's enum types, all of which expose both a display String and a
// config-file Code.
func (n NetworkProtocol) Code() string {
	return n.String()
}

// Int returns the underlying protocol value as an int, or 0 if n does not
// name a known protocol.
func (n NetworkProtocol) Int() int {
	if n.String() == "" {
		return 0
	}
	return int(n)
}

// Int64 is the int64 form of Int.
func (n NetworkProtocol) Int64() int64 {
	return int64(n.Int())
}

// Uint is the uint form of Int.
func (n NetworkProtocol) Uint() uint {
	return uint(n.Int())
}

// Uint64 is the uint64 form of Int.
func (n NetworkProtocol) Uint64() uint64 {
	return uint64(n.Int())
}

// IsStream reports whether n denotes a reliable, ordered, connection-oriented
// protocol (the channel this module's handshake and heartbeat traffic rides
// on).
func (n NetworkProtocol) IsStream() bool {
	switch n {
	case NetworkTCP, NetworkTCP4, NetworkTCP6, NetworkUnix:
		return true
	default:
		return false
	}
}

// IsDatagram reports whether n denotes an unreliable, unordered,
// connectionless protocol.
func (n NetworkProtocol) IsDatagram() bool {
	switch n {
	case NetworkUDP, NetworkUDP4, NetworkUDP6, NetworkUnixGram:
		return true
	default:
		return false
	}
}

func clean(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "`")
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimSuffix(s, `"`)
	return strings.ToLower(s)
}

// Parse converts a protocol name (case-insensitive, tolerant of surrounding
// whitespace and quoting) into a NetworkProtocol. Unknown names return
// NetworkEmpty.
func Parse(s string) NetworkProtocol {
	switch clean(s) {
	case "unix":
		return NetworkUnix
	case "tcp":
		return NetworkTCP
	case "tcp4":
		return NetworkTCP4
	case "tcp6":
		return NetworkTCP6
	case "udp":
		return NetworkUDP
	case "udp4":
		return NetworkUDP4
	case "udp6":
		return NetworkUDP6
	case "ip":
		return NetworkIP
	case "ip4":
		return NetworkIP4
	case "ip6":
		return NetworkIP6
	case "unixgram":
		return NetworkUnixGram
	default:
		return NetworkEmpty
	}
}

// ParseBytes is the []byte form of Parse.
func ParseBytes(p []byte) NetworkProtocol {
	return Parse(string(p))
}

// ParseInt64 converts the numeric encoding produced by Int64 back into a
// NetworkProtocol. Out-of-range or negative values return NetworkEmpty.
func ParseInt64(i int64) NetworkProtocol {
	if i < 0 || i > math.MaxUint8 {
		return NetworkEmpty
	}

	n := NetworkProtocol(i)
	if n.String() == "" {
		return NetworkEmpty
	}
	return n
}
