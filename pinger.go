package echoping

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"sync"
	"time"
)

// Pinger state error.
var (
	ErrAlreadyStarted = errors.New("already started")
	ErrNoHost         = errors.New("no host")
	ErrNoSink         = errors.New("no sink")
	ErrNotActive      = errors.New("not active")
)

// wrapAcceptWindow bounds the reply sequence acceptance test once the
// sequence counter has rolled over: roughly the two-minute maximum packet
// lifetime at one packet per second.
const wrapAcceptWindow = 120

// State of a ping session.
type State int

// Session lifecycle states. StateFailed is the flavour of StateStopped
// reached by emitting a Failed event on the way in; both are terminal, and
// a new Pinger is required to ping again.
const (
	StateIdle State = iota
	StateResolving
	StateActive
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

func (s State) terminal() bool {
	return s == StateStopped || s == StateFailed
}

type familyHandler interface {
	Policy() Policy
	RequestType() uint8
	ReplyType() uint8
	Marshal(id, seq uint16, payload []byte) []byte
	Extract(datagram []byte) ([]byte, bool)
	VerifyChecksum(msg []byte) bool
}

func newFamilyHandler(ip net.IP) familyHandler {
	if isIPv4(ip) {
		return &icmpIPv4Handler{}
	}
	return &icmpIPv6Handler{}
}

// Config for a Pinger.
type Config struct {
	Host   string // Host name or literal address to ping.
	Policy Policy // Address family policy (optional; default any).

	Sink EventFunc // Sink receives the session's events.

	Resolver    Resolver      // Resolver override (optional).
	Transport   Transport     // Transport override (optional).
	ReadTimeout time.Duration // ReadTimeout of the default transport (optional).
}

// Pinger is one ICMP echo session: it resolves its host, opens an ICMP
// datagram socket of the matching family, sends one echo request per
// SendPing call and correlates inbound replies, reporting everything as
// events. A Pinger exclusively owns its socket and resolver handle; once
// stopped it cannot be restarted.
type Pinger struct {
	host   string
	policy Policy
	id     uint16

	resolver  Resolver
	transport Transport
	sink      EventFunc

	mu          sync.Mutex
	cond        *sync.Cond
	state       State
	addr        *net.IPAddr
	handler     familyHandler
	seq         uint16
	wrapped     bool
	cancel      context.CancelFunc
	queue       []Event
	closing     bool
	dispatching bool
	done        chan struct{}
}

// New pinger. Picks a random 16-bit identifier to tag this session's
// packets and performs no I/O.
func New(cfg Config) (*Pinger, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	src := rand.NewSource(time.Now().UnixNano())
	rng := rand.New(src)

	p := &Pinger{
		host:      cfg.Host,
		policy:    cfg.Policy,
		id:        uint16(rng.Intn(math.MaxUint16 + 1)),
		resolver:  cfg.Resolver,
		transport: cfg.Transport,
		sink:      cfg.Sink,
		done:      make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

func validateConfig(cfg *Config) error {
	// Host and Sink required
	if cfg.Host == "" {
		return ErrNoHost
	}
	if cfg.Sink == nil {
		return ErrNoSink
	}
	// Resolver, Transport and ReadTimeout optional
	if cfg.Resolver == nil {
		cfg.Resolver = net.DefaultResolver
	}
	if cfg.Transport == nil {
		cfg.Transport = newSocketTransport(cfg.ReadTimeout)
	}
	return nil
}

// Start begins resolution and, on success, opens the socket and transitions
// the session to Active, reported by a Started event. Resolution and socket
// failures are fatal to the session and arrive as a Failed event. Start is
// rejected on anything but a fresh Pinger.
func (p *Pinger) Start() error {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.state = StateResolving
	p.dispatching = true
	p.mu.Unlock()

	go p.dispatch()
	go p.session(ctx)
	return nil
}

// SendPing builds and sends one echo request carrying the next sequence
// number. A nil payload is substituted with the default 56-byte filler. The
// sequence number advances whether or not the send succeeds; a transport
// failure arrives as a SendFailed event and leaves the session active.
func (p *Pinger) SendPing(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateActive {
		return ErrNotActive
	}

	seq := p.seq
	pkt := p.handler.Marshal(p.id, seq, payload)
	err := p.transport.Send(p.addr, pkt)

	p.seq++
	if p.seq == 0 {
		p.wrapped = true
	}

	if err != nil {
		p.emitLocked(SendFailed{Packet: pkt, Seq: seq, Err: err})
	} else {
		p.emitLocked(Sent{Packet: pkt, Seq: seq})
	}
	return nil
}

// Stop tears the session down: pending resolution is cancelled, the socket
// closed, and the state becomes Stopped. It emits no event and is
// idempotent.
func (p *Pinger) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.terminal() {
		return
	}
	if p.state == StateIdle {
		p.state = StateStopped
		close(p.done) // dispatcher never ran
		return
	}

	p.cancel()
	if p.state == StateActive {
		p.transport.Close()
		p.addr = nil
	}
	p.state = StateStopped
	p.closeQueueLocked()
}

// State of the session.
func (p *Pinger) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Sequence returns the next outbound sequence number.
func (p *Pinger) Sequence() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

// Done is closed once the session has reached a terminal state and every
// pending event has been delivered.
func (p *Pinger) Done() <-chan struct{} {
	return p.done
}

// session resolves the host and brings the socket up. It runs once per
// Pinger; a Stop during resolution is detected by the state check and the
// completion discarded.
func (p *Pinger) session(ctx context.Context) {
	addrs, err := p.resolver.LookupIPAddr(ctx, p.host)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateResolving {
		return
	}
	if err != nil {
		p.failLocked(resolveError(err))
		return
	}
	addr := selectAddr(addrs, p.policy)
	if addr == nil {
		p.failLocked(ErrHostNotFound)
		return
	}

	handler := newFamilyHandler(addr.IP)
	if err := p.transport.Open(handler.Policy()); err != nil {
		p.failLocked(err)
		return
	}

	p.handler = handler
	p.addr = addr
	p.state = StateActive
	p.emitLocked(Started{Addr: addr})

	go p.readLoop()
}

// readLoop delivers inbound datagrams to the validation path until the
// session leaves Active. Read timeouts poll the session state; any other
// read failure is fatal.
func (p *Pinger) readLoop() {
	buf := make([]byte, maxDatagramSize)
	for {
		p.mu.Lock()
		if p.state != StateActive {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		n, err := p.transport.Recv(buf)
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				continue
			}
			p.mu.Lock()
			if p.state == StateActive {
				p.failLocked(err)
			}
			p.mu.Unlock()
			return
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		p.handleDatagram(datagram)
	}
}

// handleDatagram validates one inbound datagram against the session:
// family-specific extraction and checksum, then the reply type, code,
// identifier and sequence gates. Validation failures are not errors; they
// surface as a single Unexpected event carrying the datagram as received.
func (p *Pinger) handleDatagram(datagram []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateActive {
		return
	}

	msg, ok := p.handler.Extract(datagram)
	if !ok {
		p.emitLocked(Unexpected{Packet: datagram})
		return
	}
	hdr, ok := parseICMP(msg)
	if !ok || !p.handler.VerifyChecksum(msg) {
		p.emitLocked(Unexpected{Packet: datagram})
		return
	}
	if hdr.Type != p.handler.ReplyType() || hdr.Code != 0 || hdr.ID != p.id || !p.validSequence(hdr.Seq) {
		p.emitLocked(Unexpected{Packet: datagram})
		return
	}

	p.emitLocked(Received{Packet: msg, Seq: hdr.Seq})
}

// validSequence accepts sequence numbers this session has plausibly
// emitted: strictly below the next outbound number before the counter has
// wrapped, and within a bounded wrapping distance of it afterwards.
func (p *Pinger) validSequence(seq uint16) bool {
	if !p.wrapped {
		return seq < p.seq
	}
	return p.seq-seq < wrapAcceptWindow
}

// failLocked ends the session fatally: resources released, Failed emitted
// as the final event. Callers hold p.mu.
func (p *Pinger) failLocked(err error) {
	p.cancel()
	if p.addr != nil {
		p.transport.Close()
		p.addr = nil
	}
	p.state = StateFailed
	p.emitLocked(Failed{Err: err})
	p.closeQueueLocked()
}

// emitLocked appends to the event queue in engine order. Callers hold p.mu;
// the dispatcher delivers outside it.
func (p *Pinger) emitLocked(e Event) {
	p.queue = append(p.queue, e)
	p.cond.Signal()
}

func (p *Pinger) closeQueueLocked() {
	p.closing = true
	p.cond.Signal()
}

// dispatch drains the event queue into the sink, one event at a time, in
// queue order. It exits, closing Done, once the session is over and the
// queue empty.
func (p *Pinger) dispatch() {
	defer close(p.done)
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closing {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		e := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.sink(e)
	}
}
