package model

import "time"

// Shared defaults used by the server binary and the listener packages.
const (
	DefaultSyslogPort     = 514
	DefaultReadBufferSize = 1024
	DefaultQueryTimeout   = 30 * time.Second
)
