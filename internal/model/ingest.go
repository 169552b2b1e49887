package model

import (
	"strings"
	"unicode/utf8"
)

// RawMessage carries one received line or datagram before parsing.
// It is never stored.
type RawMessage struct {
	Protocol Protocol
	Source   string
	Payload  []byte
}

// Text decodes the payload as UTF-8, replacing invalid sequences with U+FFFD.
func (m RawMessage) Text() string {
	return DecodeLossy(m.Payload)
}

// DecodeLossy decodes b as UTF-8. Each maximal invalid subpart (a truncated
// sequence or a lone bad byte) becomes one U+FFFD, so "\xe2\x82" yields a
// single replacement while "\xff\xfe" yields two.
func DecodeLossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b) + 8)
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r != utf8.RuneError || size > 1 {
			sb.Write(b[:size])
			b = b[size:]
			continue
		}
		sb.WriteRune(utf8.RuneError)
		b = b[invalidPrefixLen(b):]
	}
	return sb.String()
}

// invalidPrefixLen returns the length of the ill-formed prefix of b that
// starts at a byte DecodeRune rejected.
func invalidPrefixLen(b []byte) int {
	var need int
	lo, hi := byte(0x80), byte(0xBF)
	switch c := b[0]; {
	case c >= 0xC2 && c <= 0xDF:
		need = 1
	case c == 0xE0:
		need, lo = 2, 0xA0
	case c == 0xED:
		need, hi = 2, 0x9F
	case c >= 0xE1 && c <= 0xEF:
		need = 2
	case c == 0xF0:
		need, lo = 3, 0x90
	case c == 0xF4:
		need, hi = 3, 0x8F
	case c >= 0xF1 && c <= 0xF3:
		need = 3
	default:
		return 1
	}
	n := 1
	for i := 0; i < need && n < len(b); i++ {
		c := b[n]
		if i > 0 {
			lo, hi = 0x80, 0xBF
		}
		if c < lo || c > hi {
			break
		}
		n++
	}
	return n
}
