package echoping

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// loopbackReplyBuffer bounds queued replies; sends beyond it are dropped,
// which to the session looks like packet loss.
const loopbackReplyBuffer = 1024

type loopbackTransport struct {
	wait        time.Duration
	readTimeout time.Duration

	mu      sync.Mutex
	policy  Policy
	replies chan []byte
	closed  chan struct{}
	once    sync.Once
}

// Loopback transport. Every echo request sent is answered by a well-formed
// echo reply after the given wait, including the IPv4 header the kernel
// would deliver. Useful for tests and for exercising a full session without
// socket privileges.
func Loopback(wait time.Duration) Transport {
	return &loopbackTransport{
		wait:        wait,
		readTimeout: defaultReadTimeout,
		replies:     make(chan []byte, loopbackReplyBuffer),
		closed:      make(chan struct{}),
	}
}

func (t *loopbackTransport) Open(policy Policy) error {
	if policy != PolicyIPv4 && policy != PolicyIPv6 {
		return ErrUnsupportedProtocol
	}
	t.mu.Lock()
	t.policy = policy
	t.mu.Unlock()
	return nil
}

func (t *loopbackTransport) Send(addr *net.IPAddr, b []byte) error {
	t.mu.Lock()
	policy := t.policy
	t.mu.Unlock()

	reply := t.reflect(policy, b)
	time.AfterFunc(t.wait, func() {
		select {
		case t.replies <- reply:
		default:
		}
	})
	return nil
}

func (t *loopbackTransport) Recv(buf []byte) (int, error) {
	select {
	case <-t.closed:
		return 0, errPosix("recvfrom", unix.EBADF)
	case reply := <-t.replies:
		return copy(buf, reply), nil
	case <-time.After(t.readTimeout):
		return 0, ErrReadTimeout
	}
}

func (t *loopbackTransport) Close() error {
	t.once.Do(func() {
		close(t.closed)
	})
	return nil
}

// reflect turns an outbound request into the datagram a real peer's reply
// would arrive as: type flipped to the family's reply, checksum refreshed
// for v4, and for v4 a synthetic 20-byte IP header prepended.
func (t *loopbackTransport) reflect(policy Policy, request []byte) []byte {
	msg := make([]byte, len(request))
	copy(msg, request)

	if policy == PolicyIPv6 {
		msg[0] = (&icmpIPv6Handler{}).ReplyType()
		return msg
	}

	msg[0] = (&icmpIPv4Handler{}).ReplyType()
	fillChecksum(msg)

	datagram := make([]byte, ipv4HeaderLen+len(msg))
	datagram[0] = 0x45
	binary.BigEndian.PutUint16(datagram[2:4], uint16(len(datagram)))
	datagram[8] = 64
	datagram[9] = protocolNumberICMP
	copy(datagram[ipv4HeaderLen:], msg)
	return datagram
}
