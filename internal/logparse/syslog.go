package logparse

import (
	"regexp"
	"strings"

	"github.com/OldManSaturn/siem-saltbuild/internal/model"
)

// SyslogHeaderRegex matches a BSD-style syslog line:
// "Mmm dd hh:mm:ss host process: message". The process group is non-greedy so
// a message body containing colons does not extend it.
var SyslogHeaderRegex = regexp.MustCompile(
	`^(?P<timestamp>\w{1,3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(?P<host>\S+)\s+(?P<proc>\S+?):\s*(?P<msg>.+)$`,
)

var (
	timestampIdx = SyslogHeaderRegex.SubexpIndex("timestamp")
	hostIdx      = SyslogHeaderRegex.SubexpIndex("host")
	procIdx      = SyslogHeaderRegex.SubexpIndex("proc")
	msgIdx       = SyslogHeaderRegex.SubexpIndex("msg")
)

// Parse turns one raw line into a record. It never fails: a line that does not
// carry a syslog header becomes a record whose message is the trimmed line and
// whose header is nil.
func Parse(protocol model.Protocol, source, line string) *model.ParsedRecord {
	record := &model.ParsedRecord{
		Protocol: protocol,
		Source:   source,
	}

	m := SyslogHeaderRegex.FindStringSubmatch(trimLineEnding(line))
	if m == nil {
		record.Message = strings.TrimSpace(line)
		return record
	}

	record.Message = m[msgIdx]
	record.Header = &model.Header{
		Timestamp: m[timestampIdx],
		Hostname:  m[hostIdx],
		Process:   m[procIdx],
	}
	return record
}

// ParseRaw decodes a raw message lossily and parses it.
func ParseRaw(msg model.RawMessage) *model.ParsedRecord {
	return Parse(msg.Protocol, msg.Source, msg.Text())
}

// trimLineEnding drops a single trailing "\n" or "\r\n".
func trimLineEnding(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
