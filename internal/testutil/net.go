package testutil

import (
	"bufio"
	"net"
	"testing"
	"time"
)

type TCPSender struct {
	conn net.Conn
	w    *bufio.Writer
}

func NewTCPSender(addr string) (*TCPSender, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCPSender{conn: conn, w: bufio.NewWriter(conn)}, nil
}

func (s *TCPSender) SendLine(line string) error {
	_, err := s.w.WriteString(line + "\n")
	if err != nil {
		return err
	}
	return s.w.Flush()
}

// Write sends b as a single write without appending a newline.
func (s *TCPSender) Write(b []byte) error {
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	return s.w.Flush()
}

// Conn exposes the underlying connection.
func (s *TCPSender) Conn() net.Conn {
	return s.conn
}

func (s *TCPSender) Close() error {
	return s.conn.Close()
}

// SendDatagram writes payload to addr as one UDP datagram.
func SendDatagram(addr string, payload []byte) error {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write(payload)
	return err
}

// FreePort returns a loopback port that is currently free for both TCP and UDP.
func FreePort(t testing.TB) uint16 {
	t.Helper()
	for attempt := 0; attempt < 20; attempt++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen tcp: %v", err)
		}
		port := ln.Addr().(*net.TCPAddr).Port
		pc, err := net.ListenPacket("udp", ln.Addr().String())
		_ = ln.Close()
		if err != nil {
			continue
		}
		_ = pc.Close()
		return uint16(port)
	}
	t.Fatal("could not find a port free for both tcp and udp")
	return 0
}

// WaitUntil polls cond until it returns true or timeout expires.
func WaitUntil(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out: %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
