package syslogserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OldManSaturn/siem-saltbuild/internal/logparse"
	"github.com/OldManSaturn/siem-saltbuild/internal/model"
	"github.com/OldManSaturn/siem-saltbuild/internal/shutdown"
)

// TCPListener accepts syslog connections and forwards every line it reads to
// a record sink. Each connection is served by its own goroutine.
type TCPListener struct {
	addr   string
	sink   model.RecordSink
	opts   options
	active atomic.Int64

	mu       sync.Mutex
	listener net.Listener
}

// NewTCPListener creates a listener for addr. Nothing is bound until Listen or Run.
func NewTCPListener(addr string, sink model.RecordSink, opts ...Option) *TCPListener {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &TCPListener{
		addr: addr,
		sink: sink,
		opts: o,
	}
}

// Listen binds the stream listener.
func (l *TCPListener) Listen() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", l.addr, err)
	}
	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()
	log.Printf("syslogserver: TCP syslog listener on %s", ln.Addr())
	return nil
}

// Run binds and serves until the subscription fires (returns nil) or ctx is
// cancelled (returns ctx.Err()). A bind failure is returned immediately.
func (l *TCPListener) Run(ctx context.Context, sub shutdown.Subscription) error {
	if err := l.Listen(); err != nil {
		return err
	}
	return l.Serve(ctx, sub)
}

// Serve runs the accept loop on a bound listener. Connection handlers are not
// joined before Serve returns; they end on peer close, read error, shutdown
// or cancellation.
func (l *TCPListener) Serve(ctx context.Context, sub shutdown.Subscription) error {
	l.mu.Lock()
	ln := l.listener
	l.mu.Unlock()
	if ln == nil {
		return errors.New("syslogserver: tcp listener not bound")
	}
	addr := ln.Addr().String()
	defer ln.Close()
	release := closeOnStop(ctx, sub, ln)
	defer release()

	for {
		conn, err := ln.Accept()
		if err != nil {
			graceful, hard := stopping(ctx, sub)
			switch {
			case graceful:
				log.Printf("syslogserver: shutting down TCP syslog listener on %s", addr)
				return nil
			case hard:
				log.Printf("syslogserver: TCP syslog listener on %s aborted", addr)
				return ctx.Err()
			case errors.Is(err, net.ErrClosed):
				return nil
			}
			log.Printf("syslogserver: TCP accept error on %s: %v", addr, err)
			select {
			case <-time.After(l.opts.acceptBackoff):
			case <-sub.Done():
			case <-ctx.Done():
			}
			continue
		}

		l.active.Add(1)
		go l.handleConnection(ctx, sub, conn)
	}
}

// Addr returns the bound address, or the configured one before Listen.
func (l *TCPListener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return l.listener.Addr().String()
	}
	return l.addr
}

// Bound reports whether Listen has succeeded.
func (l *TCPListener) Bound() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listener != nil
}

// ActiveConnections returns the number of connections currently being served.
func (l *TCPListener) ActiveConnections() int64 {
	return l.active.Load()
}

func (l *TCPListener) handleConnection(ctx context.Context, sub shutdown.Subscription, conn net.Conn) {
	defer l.active.Add(-1)
	defer conn.Close()
	release := closeOnStop(ctx, sub, conn)
	defer release()

	peer := conn.RemoteAddr().String()
	source := "tcp connection " + peer
	buf := make([]byte, l.opts.readBufferSize)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			l.dispatch(source, buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			if graceful, hard := stopping(ctx, sub); graceful || hard {
				return
			}
			log.Printf("syslogserver: TCP read error from %s: %v", peer, err)
			return
		}
		if n == 0 {
			return
		}
	}
}

// dispatch parses one read. Each non-blank line in the chunk is one message;
// a chunk without a newline is a single message. A chunk holding only
// whitespace still yields one record with an empty message.
func (l *TCPListener) dispatch(source string, chunk []byte) {
	raw := model.RawMessage{Protocol: model.ProtocolTCP, Source: source, Payload: chunk}
	for _, line := range splitLines(raw.Text()) {
		persist(l.sink, logparse.Parse(model.ProtocolTCP, source, line))
	}
}

func splitLines(text string) []string {
	parts := strings.Split(text, "\n")
	lines := parts[:0]
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		lines = append(lines, part)
	}
	if len(lines) == 0 && text != "" {
		return []string{text}
	}
	return lines
}
