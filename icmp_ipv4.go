package echoping

import (
	"golang.org/x/net/ipv4"
)

type icmpIPv4Handler struct{}

func (h *icmpIPv4Handler) Policy() Policy {
	return PolicyIPv4
}

func (h *icmpIPv4Handler) RequestType() uint8 {
	return uint8(ipv4.ICMPTypeEcho)
}

func (h *icmpIPv4Handler) ReplyType() uint8 {
	return uint8(ipv4.ICMPTypeEchoReply)
}

func (h *icmpIPv4Handler) Marshal(id, seq uint16, payload []byte) []byte {
	b := buildEcho(h.RequestType(), id, seq, payload)
	fillChecksum(b)
	return b
}

// Extract strips the IPv4 header the kernel delivers ahead of the ICMP
// message. Reports false when the datagram is not IPv4/ICMP shaped.
func (h *icmpIPv4Handler) Extract(datagram []byte) ([]byte, bool) {
	offset, ok := icmpOffsetInV4(datagram)
	if !ok {
		return nil, false
	}
	return datagram[offset:], true
}

func (h *icmpIPv4Handler) VerifyChecksum(msg []byte) bool {
	h2, ok := parseICMP(msg)
	if !ok {
		return false
	}
	return icmpChecksum(msg) == h2.Checksum
}
