package echoping

import (
	"golang.org/x/net/ipv6"
)

type icmpIPv6Handler struct{}

func (h *icmpIPv6Handler) Policy() Policy {
	return PolicyIPv6
}

func (h *icmpIPv6Handler) RequestType() uint8 {
	return uint8(ipv6.ICMPTypeEchoRequest)
}

func (h *icmpIPv6Handler) ReplyType() uint8 {
	return uint8(ipv6.ICMPTypeEchoReply)
}

// Marshal leaves the checksum zero; ICMPv6 checksums cover a pseudo-header
// the kernel fills in on transmission.
func (h *icmpIPv6Handler) Marshal(id, seq uint16, payload []byte) []byte {
	return buildEcho(h.RequestType(), id, seq, payload)
}

// Extract is the identity for IPv6; the kernel hands up the bare ICMP
// message without an IP header.
func (h *icmpIPv6Handler) Extract(datagram []byte) ([]byte, bool) {
	if len(datagram) < icmpHeaderLen {
		return nil, false
	}
	return datagram, true
}

// VerifyChecksum trusts the kernel, which has already validated the
// pseudo-header checksum before delivering the datagram.
func (h *icmpIPv6Handler) VerifyChecksum(msg []byte) bool {
	return true
}
