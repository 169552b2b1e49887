package syslogserver

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/OldManSaturn/siem-saltbuild/internal/model"
	"github.com/OldManSaturn/siem-saltbuild/internal/shutdown"
	"github.com/OldManSaturn/siem-saltbuild/internal/testutil"
)

func startUDP(t *testing.T, sink model.RecordSink, opts ...Option) (*UDPListener, *shutdown.Signal, context.CancelFunc, <-chan error) {
	t.Helper()
	l := NewUDPListener("127.0.0.1:0", sink, opts...)
	if err := l.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	sig := shutdown.New()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errCh := make(chan error, 1)
	sub := sig.Subscribe()
	go func() { errCh <- l.Serve(ctx, sub) }()
	return l, sig, cancel, errCh
}

func TestUDPListener_OneRecordPerDatagram(t *testing.T) {
	sink := testutil.NewRecordingSink()
	l, sig, _, errCh := startUDP(t, sink)

	conn, err := net.Dial("udp", l.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("Jun  1 12:00:00 myhost sshd: Accepted password for user\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	records := sink.WaitForRecords(t, 1, waitTimeout)
	r := records[0]
	if r.Protocol != model.ProtocolUDP {
		t.Errorf("protocol = %q, want UDP", r.Protocol)
	}
	if r.Source != conn.LocalAddr().String() {
		t.Errorf("source = %q, want sender address %q", r.Source, conn.LocalAddr())
	}
	if r.Message != "Accepted password for user" {
		t.Errorf("message = %q", r.Message)
	}
	if proc, ok := r.Process(); !ok || proc != "sshd" {
		t.Errorf("process = %q/%v, want sshd", proc, ok)
	}

	sig.Broadcast()
	if err := waitErr(t, errCh); err != nil {
		t.Fatalf("Serve after shutdown = %v, want nil", err)
	}
}

func TestUDPListener_OversizedDatagramDoesNotStopListener(t *testing.T) {
	sink := testutil.NewRecordingSink()
	l, _, _, _ := startUDP(t, sink, WithReadBufferSize(16))

	if err := testutil.SendDatagram(l.Addr(), []byte(strings.Repeat("x", 64))); err != nil {
		t.Fatalf("send oversized: %v", err)
	}
	if err := testutil.SendDatagram(l.Addr(), []byte("next")); err != nil {
		t.Fatalf("send next: %v", err)
	}

	testutil.WaitUntil(t, waitTimeout, func() bool {
		for _, r := range sink.Records() {
			if r.Message == "next" {
				return true
			}
		}
		return false
	}, "datagram after an oversized one is received")

	for _, r := range sink.Records() {
		if len(r.Message) > 16 {
			t.Errorf("message of %d bytes exceeds 16 byte buffer", len(r.Message))
		}
	}
}

func TestUDPListener_SinkFailureContinues(t *testing.T) {
	sink := testutil.NewRecordingSink()
	sink.FailNext(1)
	l, _, _, _ := startUDP(t, sink)

	if err := testutil.SendDatagram(l.Addr(), []byte("lost")); err != nil {
		t.Fatalf("send: %v", err)
	}
	sink.WaitForCalls(t, 1, waitTimeout)
	if err := testutil.SendDatagram(l.Addr(), []byte("kept")); err != nil {
		t.Fatalf("send: %v", err)
	}

	records := sink.WaitForRecords(t, 1, waitTimeout)
	if records[0].Message != "kept" {
		t.Fatalf("message = %q, want kept", records[0].Message)
	}
}

func TestUDPListener_BindFailure(t *testing.T) {
	occupied, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer occupied.Close()

	l := NewUDPListener(occupied.LocalAddr().String(), testutil.NewRecordingSink())
	err = l.Run(context.Background(), shutdown.New().Subscribe())
	if err == nil {
		t.Fatal("Run on an occupied port returned nil")
	}
	if !strings.Contains(err.Error(), "listen udp") {
		t.Errorf("error = %v, want listen udp context", err)
	}
}

func TestUDPListener_CancelReturnsContextError(t *testing.T) {
	_, _, cancel, errCh := startUDP(t, testutil.NewRecordingSink())

	cancel()
	if err := waitErr(t, errCh); !errors.Is(err, context.Canceled) {
		t.Fatalf("Serve = %v, want context.Canceled", err)
	}
}
