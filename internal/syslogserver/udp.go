package syslogserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/OldManSaturn/siem-saltbuild/internal/logparse"
	"github.com/OldManSaturn/siem-saltbuild/internal/model"
	"github.com/OldManSaturn/siem-saltbuild/internal/shutdown"
)

// UDPListener receives syslog datagrams. Each datagram is one message,
// truncated to the read buffer size.
type UDPListener struct {
	addr string
	sink model.RecordSink
	opts options

	mu   sync.Mutex
	conn net.PacketConn
}

// NewUDPListener creates a listener for addr. Nothing is bound until Listen or Run.
func NewUDPListener(addr string, sink model.RecordSink, opts ...Option) *UDPListener {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &UDPListener{
		addr: addr,
		sink: sink,
		opts: o,
	}
}

// Listen binds the datagram socket.
func (l *UDPListener) Listen() error {
	conn, err := net.ListenPacket("udp", l.addr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", l.addr, err)
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	log.Printf("syslogserver: UDP syslog listener on %s", conn.LocalAddr())
	return nil
}

// Run binds and serves until the subscription fires (returns nil) or ctx is
// cancelled (returns ctx.Err()). A bind failure is returned immediately.
func (l *UDPListener) Run(ctx context.Context, sub shutdown.Subscription) error {
	if err := l.Listen(); err != nil {
		return err
	}
	return l.Serve(ctx, sub)
}

// Serve runs the receive loop on a bound socket. Receive errors are logged and
// the loop continues.
func (l *UDPListener) Serve(ctx context.Context, sub shutdown.Subscription) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return errors.New("syslogserver: udp listener not bound")
	}
	addr := conn.LocalAddr().String()
	defer conn.Close()
	release := closeOnStop(ctx, sub, conn)
	defer release()

	buf := make([]byte, l.opts.readBufferSize)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			graceful, hard := stopping(ctx, sub)
			switch {
			case graceful:
				log.Printf("syslogserver: shutting down UDP syslog listener on %s", addr)
				return nil
			case hard:
				log.Printf("syslogserver: UDP syslog listener on %s aborted", addr)
				return ctx.Err()
			case errors.Is(err, net.ErrClosed):
				return nil
			}
			log.Printf("syslogserver: UDP receive error on %s: %v", addr, err)
			continue
		}

		// A datagram that fills the buffer may have been cut short; the
		// kernel discards the remainder.
		if n == len(buf) {
			log.Printf("syslogserver: UDP datagram from %s reached the %d byte buffer and may be truncated", from, n)
		}

		persist(l.sink, logparse.ParseRaw(model.RawMessage{
			Protocol: model.ProtocolUDP,
			Source:   from.String(),
			Payload:  buf[:n],
		}))
	}
}

// Addr returns the bound address, or the configured one before Listen.
func (l *UDPListener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return l.conn.LocalAddr().String()
	}
	return l.addr
}

// Bound reports whether Listen has succeeded.
func (l *UDPListener) Bound() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}
