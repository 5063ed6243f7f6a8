package echoping

import (
	"math/rand"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

type flakyTransport struct {
	next Transport

	chance float64
	rng    *rand.Rand
}

// Flaky adds a chance of forced ENOBUFS to sends.
// Chance is a float in the range 0.0-1.0, where 0 means no send ever fails
// and 1 means every send fails. This is mainly useful for tests, since a
// send failure is the one error a session is expected to survive.
func Flaky(chance float64, next Transport) Transport {
	return &flakyTransport{
		next:   next,
		chance: chance,
	}
}

func (t *flakyTransport) Open(policy Policy) error {
	t.rng = rand.New(rand.NewSource(time.Now().Unix()))
	return t.next.Open(policy)
}

func (t *flakyTransport) Send(addr *net.IPAddr, b []byte) error {
	if t.hasError() {
		return &PosixError{Op: "sendto", Errno: unix.ENOBUFS}
	}
	return t.next.Send(addr, b)
}

func (t *flakyTransport) Recv(buf []byte) (int, error) {
	return t.next.Recv(buf)
}

func (t *flakyTransport) Close() error {
	return t.next.Close()
}

func (t *flakyTransport) hasError() bool {
	n := t.rng.Float64()
	return t.chance > n
}
