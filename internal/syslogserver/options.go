// Package syslogserver implements the TCP and UDP syslog listener workers.
package syslogserver

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/OldManSaturn/siem-saltbuild/internal/model"
	"github.com/OldManSaturn/siem-saltbuild/internal/shutdown"
)

const (
	// DefaultReadBufferSize is the size of the per-connection and per-socket read buffer.
	DefaultReadBufferSize = model.DefaultReadBufferSize

	defaultAcceptBackoff = 100 * time.Millisecond
)

// Option tunes a listener.
type Option func(*options)

type options struct {
	readBufferSize int
	acceptBackoff  time.Duration
}

func defaultOptions() options {
	return options{
		readBufferSize: DefaultReadBufferSize,
		acceptBackoff:  defaultAcceptBackoff,
	}
}

// WithReadBufferSize sets the fixed read buffer size. Values <= 0 keep the default.
func WithReadBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readBufferSize = n
		}
	}
}

// WithAcceptBackoff sets the pause after a transient accept error.
func WithAcceptBackoff(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.acceptBackoff = d
		}
	}
}

// closeOnStop closes c once the subscription fires or ctx is cancelled.
// The returned release func stops the watcher without closing c.
func closeOnStop(ctx context.Context, sub shutdown.Subscription, c io.Closer) (release func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-sub.Done():
		case <-ctx.Done():
		case <-done:
			return
		}
		_ = c.Close()
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

// stopping classifies why a blocking call returned: graceful when the
// shutdown signal fired, hard when the task context was cancelled.
func stopping(ctx context.Context, sub shutdown.Subscription) (graceful bool, hard bool) {
	if sub.Fired() {
		return true, false
	}
	if ctx.Err() != nil {
		return false, true
	}
	return false, false
}

// persist hands one record to the sink and logs a failure; the record is dropped.
func persist(sink model.RecordSink, record *model.ParsedRecord) {
	if err := sink.Persist(record); err != nil {
		log.Printf("syslogserver: dropped %s record from %s: %v", record.Protocol, record.Source, err)
	}
}
