package echoping

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Resolution error.
var (
	ErrHostNotFound = errors.New("host not found")
)

// Policy selects which address family a resolved host may bind.
type Policy int

// Address family policies.
const (
	PolicyAny Policy = iota
	PolicyIPv4
	PolicyIPv6
)

func (p Policy) String() string {
	switch p {
	case PolicyAny:
		return "any"
	case PolicyIPv4:
		return "ipv4"
	case PolicyIPv6:
		return "ipv6"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// Accepts reports whether ip belongs to a family the policy allows.
func (p Policy) Accepts(ip net.IP) bool {
	switch p {
	case PolicyIPv4:
		return isIPv4(ip)
	case PolicyIPv6:
		return !isIPv4(ip)
	}
	return true
}

// ResolveError wraps a resolver failure that is not a simple miss.
type ResolveError struct {
	Cause error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolution failed: %v", e.Cause)
}

func (e *ResolveError) Unwrap() error {
	return e.Cause
}

// Resolver looks up the addresses of a host.
// *net.Resolver satisfies it; net.DefaultResolver is the default.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// selectAddr picks the first resolved address the policy accepts, in the
// order the resolver returned them. Returns nil when none are acceptable.
func selectAddr(addrs []net.IPAddr, policy Policy) *net.IPAddr {
	for i := range addrs {
		if policy.Accepts(addrs[i].IP) {
			return &addrs[i]
		}
	}
	return nil
}

// resolveError maps resolver failures onto the library's error kinds.
func resolveError(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return ErrHostNotFound
	}
	return &ResolveError{Cause: err}
}

func isIPv4(ip net.IP) bool {
	return ip.To4() != nil
}
