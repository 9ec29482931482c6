package protocol_test

import (
	"reflect"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/kekchpek/live-capture-net/network/protocol"
)

var _ = Describe("NetworkProtocol", func() {
	Describe("String/Code", func() {
		It("returns the net-package name for known protocols", func() {
			Expect(NetworkTCP.String()).To(Equal("tcp"))
			Expect(NetworkUDP.String()).To(Equal("udp"))
			Expect(NetworkUnixGram.Code()).To(Equal("unixgram"))
		})

		It("returns empty for the zero value and out-of-range values", func() {
			Expect(NetworkEmpty.String()).To(BeEmpty())
			Expect(NetworkProtocol(200).String()).To(BeEmpty())
		})
	})

	Describe("Parse", func() {
		It("is case-insensitive and trims whitespace and quoting", func() {
			Expect(Parse("TCP")).To(Equal(NetworkTCP))
			Expect(Parse("  udp  ")).To(Equal(NetworkUDP))
			Expect(Parse(`"unix"`)).To(Equal(NetworkUnix))
			Expect(Parse("`unixgram`")).To(Equal(NetworkUnixGram))
		})

		It("returns NetworkEmpty for unknown input", func() {
			Expect(Parse("sctp")).To(Equal(NetworkEmpty))
			Expect(Parse("")).To(Equal(NetworkEmpty))
		})
	})

	Describe("Int64 / ParseInt64 roundtrip", func() {
		It("roundtrips every defined protocol", func() {
			all := []NetworkProtocol{
				NetworkUnix, NetworkTCP, NetworkTCP4, NetworkTCP6,
				NetworkUDP, NetworkUDP4, NetworkUDP6,
				NetworkIP, NetworkIP4, NetworkIP6, NetworkUnixGram,
			}
			for _, p := range all {
				Expect(ParseInt64(p.Int64())).To(Equal(p))
			}
		})

		It("rejects negative and overflowing values", func() {
			Expect(ParseInt64(-1)).To(Equal(NetworkEmpty))
			Expect(ParseInt64(1 << 40)).To(Equal(NetworkEmpty))
		})
	})

	Describe("IsStream / IsDatagram", func() {
		It("classifies the stream and datagram channels this module relies on", func() {
			Expect(NetworkTCP.IsStream()).To(BeTrue())
			Expect(NetworkTCP.IsDatagram()).To(BeFalse())
			Expect(NetworkUDP.IsDatagram()).To(BeTrue())
			Expect(NetworkUDP.IsStream()).To(BeFalse())
		})
	})

	Describe("Marshal/Unmarshal", func() {
		It("marshals to a quoted JSON string and back", func() {
			data, err := NetworkTCP.MarshalJSON()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal(`"tcp"`))

			var p NetworkProtocol
			Expect(p.UnmarshalJSON(data)).To(Succeed())
			Expect(p).To(Equal(NetworkTCP))
		})

		It("marshals to YAML as a plain string", func() {
			v, err := NetworkUDP.MarshalYAML()
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("udp"))
		})
	})

	Describe("ViperDecoderHook", func() {
		It("decodes a string into NetworkProtocol", func() {
			hook := ViperDecoderHook()
			var target NetworkProtocol
			result, err := hook(reflect.TypeOf(""), reflect.TypeOf(target), "tcp")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(NetworkTCP))
		})

		It("passes through values destined for other types untouched", func() {
			hook := ViperDecoderHook()
			result, err := hook(reflect.TypeOf(""), reflect.TypeOf(0), "tcp")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal("tcp"))
		})
	})
})
