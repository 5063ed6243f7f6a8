package echoping

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// Transport error.
var (
	ErrUnsupportedProtocol = errors.New("protocol unsupported")

	// ErrReadTimeout reports that no datagram arrived within the transport's
	// read interval. The engine's read loop treats it as a cue to check for
	// shutdown and poll again, never as a failure.
	ErrReadTimeout = errors.New("read timeout")
)

const defaultReadTimeout = 100 * time.Millisecond

// PosixError preserves the errno of a failed socket syscall.
type PosixError struct {
	Op    string
	Errno unix.Errno
}

func (e *PosixError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Errno.Error())
}

func (e *PosixError) Unwrap() error {
	return e.Errno
}

func errPosix(op string, err error) error {
	if errno, ok := err.(unix.Errno); ok {
		return &PosixError{Op: op, Errno: errno}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Transport owns the wire I/O of one ping session. It never interprets
// packet contents.
//
// Recv fills buf with one datagram, returning ErrReadTimeout when nothing
// arrived within the transport's read interval.
type Transport interface {
	Open(policy Policy) error
	Send(addr *net.IPAddr, b []byte) error
	Recv(buf []byte) (int, error)
	Close() error
}

// socketTransport sends and receives over an ICMP datagram socket.
type socketTransport struct {
	fd          int
	readTimeout time.Duration
}

func newSocketTransport(readTimeout time.Duration) *socketTransport {
	if readTimeout == 0 {
		readTimeout = defaultReadTimeout
	}
	return &socketTransport{
		fd:          -1,
		readTimeout: readTimeout,
	}
}

func (t *socketTransport) Open(policy Policy) error {
	var domain, proto int
	switch policy {
	case PolicyIPv4:
		domain, proto = unix.AF_INET, unix.IPPROTO_ICMP
	case PolicyIPv6:
		domain, proto = unix.AF_INET6, unix.IPPROTO_ICMPV6
	default:
		return ErrUnsupportedProtocol
	}

	fd, err := unix.Socket(domain, unix.SOCK_DGRAM, proto)
	if err != nil {
		return errPosix("socket", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return errPosix("fcntl", err)
	}
	unix.CloseOnExec(fd)
	t.fd = fd
	return nil
}

func (t *socketTransport) Send(addr *net.IPAddr, b []byte) error {
	sa, err := sockaddr(addr)
	if err != nil {
		return err
	}
	if err := unix.Sendto(t.fd, b, 0, sa); err != nil {
		return errPosix("sendto", err)
	}
	return nil
}

func (t *socketTransport) Recv(buf []byte) (int, error) {
	pfd := []unix.PollFd{{Fd: int32(t.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, int(t.readTimeout.Milliseconds()))
	if err != nil {
		if err == unix.EINTR {
			return 0, ErrReadTimeout
		}
		return 0, errPosix("poll", err)
	}
	if n == 0 {
		return 0, ErrReadTimeout
	}
	if pfd[0].Revents&unix.POLLNVAL != 0 {
		return 0, errPosix("poll", unix.EBADF)
	}

	nb, _, err := unix.Recvfrom(t.fd, buf, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return 0, ErrReadTimeout
		}
		return 0, errPosix("recvfrom", err)
	}
	return nb, nil
}

func (t *socketTransport) Close() error {
	if t.fd < 0 {
		return nil
	}
	err := unix.Close(t.fd)
	t.fd = -1
	if err != nil {
		return errPosix("close", err)
	}
	return nil
}

// sockaddr converts a resolved address for sendto, preserving the address
// bytes untouched. A v6 zone maps to the interface index when one exists.
func sockaddr(addr *net.IPAddr) (unix.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	if ip6 := addr.IP.To16(); ip6 != nil {
		sa := &unix.SockaddrInet6{}
		copy(sa.Addr[:], ip6)
		if addr.Zone != "" {
			if ifi, err := net.InterfaceByName(addr.Zone); err == nil {
				sa.ZoneId = uint32(ifi.Index)
			}
		}
		return sa, nil
	}
	return nil, ErrUnsupportedProtocol
}
