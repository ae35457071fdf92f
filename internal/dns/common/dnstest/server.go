package dnstest

import (
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haukened/dohdec/internal/dns/gateways/wire"
)

// chunkBreaks splits a framed chunky response: the length prefix arrives a
// byte at a time, then five bytes, then the rest.
var chunkBreaks = []int{1, 2, 7}

// Server is a loopback responder. Stream servers speak length-prefixed DNS
// over TCP or TLS; datagram servers speak plain UDP.
type Server struct {
	Host string
	Port int

	listener net.Listener
	packet   net.PacketConn

	accepts atomic.Int64
	queries atomic.Int64

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// NewTCPServer starts a stream responder on 127.0.0.1 and stops it when the
// test ends.
func NewTCPServer(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("dnstest: listen: %v", err)
	}
	return startStream(t, ln)
}

// NewTLSServer is NewTCPServer behind TLS with the given certificate.
func NewTLSServer(t testing.TB, cert tls.Certificate) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("dnstest: listen: %v", err)
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	return startStream(t, tls.NewListener(ln, cfg))
}

// NewUDPServer starts a datagram responder on 127.0.0.1.
func NewUDPServer(t testing.TB) *Server {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("dnstest: listen: %v", err)
	}
	s := &Server{packet: pc, conns: map[net.Conn]struct{}{}}
	s.setAddr(pc.LocalAddr())
	s.wg.Add(1)
	go s.servePackets()
	t.Cleanup(s.Close)
	return s
}

func startStream(t testing.TB, ln net.Listener) *Server {
	s := &Server{listener: ln, conns: map[net.Conn]struct{}{}}
	s.setAddr(ln.Addr())
	s.wg.Add(1)
	go s.accept()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) setAddr(addr net.Addr) {
	host, port, _ := net.SplitHostPort(addr.String())
	s.Host = host
	s.Port, _ = strconv.Atoi(port)
}

// Addr is host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Accepts counts stream connections accepted so far.
func (s *Server) Accepts() int {
	return int(s.accepts.Load())
}

// Queries counts queries received so far, answered or not.
func (s *Server) Queries() int {
	return int(s.queries.Load())
}

// DropConnections closes every open stream connection from the server side.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

// Close stops the server and waits for its goroutines.
func (s *Server) Close() {
	s.once.Do(func() {
		if s.listener != nil {
			_ = s.listener.Close()
		}
		if s.packet != nil {
			_ = s.packet.Close()
		}
		s.DropConnections()
		s.wg.Wait()
	})
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.accepts.Add(1)
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serveStream(conn)
	}
}

func (s *Server) serveStream(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	frames := wire.NewFrameReassembler()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		for _, query := range frames.Push(buf[:n]) {
			s.queries.Add(1)
			out, behaviour := Respond(query)
			if out == nil {
				continue
			}
			framed, ferr := wire.Frame(out)
			if ferr != nil {
				continue
			}
			if werr := writeStream(conn, framed, behaviour); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func writeStream(conn net.Conn, framed []byte, behaviour Behaviour) error {
	if behaviour != Chunked {
		_, err := conn.Write(framed)
		return err
	}
	start := 0
	for _, end := range append(chunkBreaks, len(framed)) {
		if _, err := conn.Write(framed[start:end]); err != nil {
			return err
		}
		start = end
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

func (s *Server) servePackets() {
	defer s.wg.Done()
	buf := make([]byte, 65535)
	for {
		n, from, err := s.packet.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		s.queries.Add(1)
		out, _ := Respond(buf[:n])
		if out == nil {
			continue
		}
		_, _ = s.packet.WriteTo(out, from)
	}
}
