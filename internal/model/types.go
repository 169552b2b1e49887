package model

import (
	"strings"
	"time"
)

// Protocol identifies the transport a record arrived on.
type Protocol string

const (
	ProtocolTCP  Protocol = "TCP"
	ProtocolUDP  Protocol = "UDP"
	ProtocolFILE Protocol = "FILE"
)

// Protocols lists every transport a record can arrive on.
var Protocols = []Protocol{ProtocolTCP, ProtocolUDP, ProtocolFILE}

func (p Protocol) String() string { return string(p) }

// ParseProtocol matches s against the known protocols, ignoring case and
// surrounding space.
func ParseProtocol(s string) (Protocol, bool) {
	p := Protocol(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Protocols {
		if p == known {
			return p, true
		}
	}
	return "", false
}

// Header holds the BSD syslog header fields extracted by the parser.
// A record either carries all three or none of them.
type Header struct {
	Timestamp string
	Hostname  string
	Process   string
}

// ParsedRecord is the unit handed to a RecordSink.
// Message is always set; Header is nil when the line did not match the
// syslog header pattern.
type ParsedRecord struct {
	Protocol Protocol
	Source   string
	Message  string
	Header   *Header
}

// Structured reports whether header fields were extracted.
func (r *ParsedRecord) Structured() bool {
	return r.Header != nil
}

func (r *ParsedRecord) Timestamp() (string, bool) {
	if r.Header == nil {
		return "", false
	}
	return r.Header.Timestamp, true
}

func (r *ParsedRecord) Hostname() (string, bool) {
	if r.Header == nil {
		return "", false
	}
	return r.Header.Hostname, true
}

func (r *ParsedRecord) Process() (string, bool) {
	if r.Header == nil {
		return "", false
	}
	return r.Header.Process, true
}

// LogEntry is a ParsedRecord as stored by a sink, with the identity and
// receipt time the sink assigned to it.
type LogEntry struct {
	ID         int64
	ReceivedAt time.Time
	ParsedRecord
}

// ProtocolCount is the number of stored entries for one protocol.
type ProtocolCount struct {
	Protocol Protocol
	Count    int64
}

// DimensionCount represents grouped counts by a single dimension value
// (for example hostname).
type DimensionCount struct {
	Value string
	Count int64
}
