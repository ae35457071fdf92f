package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/haukened/dohdec/internal/dns/common/clock"
	"github.com/haukened/dohdec/internal/dns/common/log"
	"github.com/haukened/dohdec/internal/dns/domain"
	"github.com/haukened/dohdec/internal/dns/gateways/wire"
)

// large enough for any UDP datagram
const readBufferSize = 0xffff

// State is the lifecycle state of a multiplexed connection. A torn down
// connection goes straight back to StateIdle.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// session is one live socket with its own pending table and reassembler.
type session struct {
	conn    net.Conn
	frames  *wire.FrameReassembler // nil on datagram transports
	pending *PendingTable

	writeMu sync.Mutex
	closed  sync.Once
}

// muxConn multiplexes lookups over a single lazily dialed socket. It backs
// the UDP, TCP and TLS transports, which differ only in how they dial and
// whether responses are length framed.
type muxConn struct {
	kind           TransportType
	addr           string
	stream         bool
	dial           func(ctx context.Context) (net.Conn, error)
	connectTimeout time.Duration

	codec      wire.DNSCodec
	logger     log.Logger
	observer   Observer
	violations ViolationRecorder
	clock      clock.Clock
	idSource   func() (uint16, error)

	group singleflight.Group

	// mu guards state and current, and is held while a request is
	// registered and while received frames are matched.
	mu      sync.Mutex
	state   State
	current *session
}

func newMuxConn(kind TransportType, addr string, stream bool, opts Options, dial func(ctx context.Context) (net.Conn, error)) *muxConn {
	return &muxConn{
		kind:           kind,
		addr:           addr,
		stream:         stream,
		dial:           dial,
		connectTimeout: opts.ConnectTimeout,
		codec:          opts.Codec,
		logger:         log.With(opts.Logger, map[string]any{"transport": string(kind), "server": addr}),
		observer:       opts.Observer,
		violations:     opts.Violations,
		clock:          opts.Clock,
		idSource:       opts.IDSource,
	}
}

// Kind reports the transport protocol.
func (m *muxConn) Kind() TransportType {
	return m.kind
}

// Address returns the host:port the transport dials.
func (m *muxConn) Address() string {
	return m.addr
}

// State returns the current lifecycle state.
func (m *muxConn) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Pending returns the number of lookups awaiting a response.
func (m *muxConn) Pending() int {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil {
		return 0
	}
	return s.pending.Len()
}

// Lookup sends req over the shared socket, dialing it first if needed, and
// waits for the response with the matching transaction id.
func (m *muxConn) Lookup(ctx context.Context, req domain.LookupRequest) ([]byte, error) {
	req.Stream = m.stream

	s, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}

	entry, pkt, err := m.enqueue(s, req)
	if err != nil {
		return nil, err
	}

	if err := m.write(s, pkt); err != nil {
		// teardown fails this entry too, unless a Close already has
		m.teardown(s, fmt.Errorf(errWriteFailed, domain.ErrConnection, m.kind, m.addr, err))
		res := <-entry.Done()
		return res.Frame, res.Err
	}

	select {
	case res := <-entry.Done():
		return res.Frame, res.Err
	case <-ctx.Done():
		if s.pending.Cancel(entry.ID) {
			m.logger.Debug(map[string]any{"id": entry.ID, "name": req.Name}, "lookup abandoned")
			return nil, ctx.Err()
		}
		// completed while we were cancelling
		res := <-entry.Done()
		return res.Frame, res.Err
	}
}

// Close tears down the socket, failing every pending lookup. It is safe to
// call repeatedly.
func (m *muxConn) Close() error {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s != nil {
		m.teardown(s, domain.ErrClosed)
	}
	return nil
}

// connect returns the live session, dialing at most once for any number of
// concurrent callers. Each caller waits under its own ctx; the dial itself
// is bounded by connectTimeout.
func (m *muxConn) connect(ctx context.Context) (*session, error) {
	m.mu.Lock()
	if s := m.current; s != nil {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	dialCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan("connect", func() (any, error) {
		return m.open(dialCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *muxConn) open(ctx context.Context) (*session, error) {
	m.mu.Lock()
	if s := m.current; s != nil {
		m.mu.Unlock()
		return s, nil
	}
	m.state = StateConnecting
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	conn, err := m.dial(ctx)
	if err != nil {
		m.mu.Lock()
		m.state = StateIdle
		m.mu.Unlock()
		m.logger.Warn(map[string]any{"error": err}, "connect failed")
		return nil, fmt.Errorf(errConnectFailed, domain.ErrConnection, m.kind, m.addr, err)
	}

	s := &session{
		conn:    conn,
		pending: NewPendingTable(m.clock, m.idSource),
	}
	if m.stream {
		s.frames = wire.NewFrameReassembler()
	}

	m.mu.Lock()
	m.current = s
	m.state = StateConnected
	m.mu.Unlock()

	m.observer.Observe(Event{Kind: EventConnect, Transport: m.kind, Addr: m.addr})
	m.logger.Info(map[string]any{"local": conn.LocalAddr().String()}, "connected")

	go m.readLoop(s)
	return s, nil
}

// enqueue assigns a transaction id if the request has none, encodes the
// query and registers it, all under mu.
func (m *muxConn) enqueue(s *session, req domain.LookupRequest) (*PendingEntry, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != s {
		return nil, nil, fmt.Errorf(errConnectionLost, domain.ErrConnection, m.kind, m.addr)
	}
	if req.ID == nil {
		id, err := s.pending.Allocate()
		if err != nil {
			return nil, nil, err
		}
		req.ID = &id
	}
	pkt, err := m.codec.EncodeQuery(req)
	if err != nil {
		return nil, nil, err
	}
	entry, err := s.pending.Register(*req.ID, req)
	if err != nil {
		return nil, nil, err
	}
	return entry, pkt, nil
}

func (m *muxConn) write(s *session, pkt []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	m.observer.Observe(Event{Kind: EventSend, Transport: m.kind, Addr: m.addr, Data: clone(pkt)})
	_, err := s.conn.Write(pkt)
	return err
}

// readLoop owns the receive side of a session until the socket fails.
func (m *muxConn) readLoop(s *session) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			m.observer.Observe(Event{Kind: EventReceive, Transport: m.kind, Addr: m.addr, Data: clone(chunk)})
			if verr := m.deliver(s, chunk); verr != nil {
				m.teardown(s, verr)
				return
			}
		}
		if err != nil {
			m.teardown(s, fmt.Errorf(errRemoteClosed, domain.ErrConnection, m.kind, m.addr, err))
			return
		}
	}
}

// deliver routes every complete message in chunk to its pending entry.
// Late answers to cancelled lookups are dropped. Any other message nobody is
// waiting for is a protocol violation and ends the session.
func (m *muxConn) deliver(s *session, chunk []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var frames [][]byte
	if s.frames != nil {
		frames = s.frames.Push(chunk)
	} else {
		frames = [][]byte{clone(chunk)}
	}

	for _, frame := range frames {
		id, ok := wire.MessageID(frame)
		if ok && s.pending.Resolve(id, frame) {
			continue
		}
		if ok && s.pending.Discard(id) {
			m.logger.Debug(map[string]any{"id": id, "size": len(frame)}, "dropped late response to cancelled lookup")
			continue
		}
		violation := &domain.ProtocolViolationError{Transport: string(m.kind), ID: id, Frame: frame}
		if m.violations != nil {
			m.violations.Record(domain.Violation{
				Transport: string(m.kind),
				Remote:    m.addr,
				ID:        id,
				Frame:     frame,
				At:        m.clock.Now(),
			})
		}
		m.logger.Error(map[string]any{"id": id, "size": len(frame)}, "response matches no pending request")
		return violation
	}
	return nil
}

// teardown closes the socket and then fails whatever was still pending on
// it. Only the first call per session has any effect.
func (m *muxConn) teardown(s *session, cause error) {
	s.closed.Do(func() {
		m.mu.Lock()
		if m.current == s {
			m.current = nil
			m.state = StateIdle
		}
		m.mu.Unlock()

		if err := s.conn.Close(); err != nil {
			m.logger.Debug(map[string]any{"error": err}, "error closing socket")
		}
		rejected := s.pending.RejectAll(cause)

		m.observer.Observe(Event{Kind: EventDisconnect, Transport: m.kind, Addr: m.addr, Err: cause})
		m.logger.Info(map[string]any{"rejected": rejected, "cause": cause.Error()}, "disconnected")
	})
}
