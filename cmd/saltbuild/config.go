package main

import (
	"fmt"
	"time"

	"github.com/OldManSaturn/siem-saltbuild/internal/duckdb"
	"github.com/OldManSaturn/siem-saltbuild/internal/model"
	"github.com/OldManSaturn/siem-saltbuild/internal/supervisor"
)

const (
	defaultBindHost            = supervisor.DefaultBindHost
	defaultAPIHost             = "127.0.0.1"
	defaultSyslogPort          = model.DefaultSyslogPort
	defaultReadBuffer          = model.DefaultReadBufferSize
	defaultAPIPort             = 3000
	defaultQueryTimeout        = model.DefaultQueryTimeout
	defaultInsertBatchSize     = duckdb.DefaultBatchSize
	defaultInsertFlushInterval = duckdb.DefaultFlushInterval
	defaultInsertFlushQueue    = duckdb.DefaultFlushQueueSize
	defaultLogRetention        = 30 // days, 0 = disabled
	defaultShutdownTimeout     = 10 * time.Second
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	BindHost            string         `mapstructure:"bind-host"`
	SyslogTCPPort       int            `mapstructure:"syslog-tcp-port"`
	SyslogUDPPort       int            `mapstructure:"syslog-udp-port"`
	TCPReadBuffer       int            `mapstructure:"tcp-read-buffer"`
	UDPReadBuffer       int            `mapstructure:"udp-read-buffer"`
	DBPath              string         `mapstructure:"db-path"`
	QueryTimeout        time.Duration  `mapstructure:"query-timeout"`
	InsertBatchSize     int            `mapstructure:"insert-batch-size"`
	InsertFlushInterval time.Duration  `mapstructure:"insert-flush-interval"`
	InsertFlushQueue    int            `mapstructure:"insert-flush-queue-size"`
	LogRetention        int            `mapstructure:"log-retention"`
	LogRetentionByProto map[string]int `mapstructure:"log-retention-protocols"`
	LogFile             string         `mapstructure:"log-file"`
	LogFilePath         string         `mapstructure:"log-file-path"`
	APIEnabled          bool           `mapstructure:"api-enabled"`
	APIPort             int            `mapstructure:"api-port"`
	APIAddr             string         `mapstructure:"api-addr"`
	ShutdownTimeout     time.Duration  `mapstructure:"shutdown-timeout"`
	ConfigPath          string         `mapstructure:"-"` // not from config file
}

func (c appConfig) validate() error {
	for _, p := range []struct {
		key  string
		port int
	}{
		{"syslog-tcp-port", c.SyslogTCPPort},
		{"syslog-udp-port", c.SyslogUDPPort},
		{"api-port", c.APIPort},
	} {
		if p.port <= 0 || p.port > 65535 {
			return fmt.Errorf("invalid %s: %d", p.key, p.port)
		}
	}
	if c.TCPReadBuffer <= 0 {
		return fmt.Errorf("invalid tcp-read-buffer: %d", c.TCPReadBuffer)
	}
	if c.UDPReadBuffer <= 0 {
		return fmt.Errorf("invalid udp-read-buffer: %d", c.UDPReadBuffer)
	}
	if c.LogRetention < 0 {
		return fmt.Errorf("invalid log-retention: %d", c.LogRetention)
	}
	for key, days := range c.LogRetentionByProto {
		if _, ok := model.ParseProtocol(key); !ok {
			return fmt.Errorf("invalid log-retention-protocols key %q: want tcp, udp or file", key)
		}
		if days < 0 {
			return fmt.Errorf("invalid log-retention-protocols.%s: %d", key, days)
		}
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown-timeout: %s", c.ShutdownTimeout)
	}
	return nil
}

func (c appConfig) supervisorConfig() supervisor.Config {
	return supervisor.Config{
		BindHost:      c.BindHost,
		TCPReadBuffer: c.TCPReadBuffer,
		UDPReadBuffer: c.UDPReadBuffer,
	}
}

func (c appConfig) retentionConfig() duckdb.RetentionConfig {
	rc := duckdb.RetentionConfig{RetentionDays: c.LogRetention}
	for key, days := range c.LogRetentionByProto {
		p, ok := model.ParseProtocol(key)
		if !ok {
			continue
		}
		if rc.ProtocolDays == nil {
			rc.ProtocolDays = make(map[model.Protocol]int)
		}
		rc.ProtocolDays[p] = days
	}
	return rc
}

// retentionDays resolves the retention for one protocol; 0 means kept forever.
func (c appConfig) retentionDays(p model.Protocol) int {
	rc := c.retentionConfig()
	if days, ok := rc.ProtocolDays[p]; ok {
		return days
	}
	return rc.RetentionDays
}

func (c appConfig) insertBufferConfig() duckdb.InsertBufferConfig {
	return duckdb.InsertBufferConfig{
		BatchSize:      c.InsertBatchSize,
		FlushInterval:  c.InsertFlushInterval,
		FlushQueueSize: c.InsertFlushQueue,
	}
}
