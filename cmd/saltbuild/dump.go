package main

import "gopkg.in/yaml.v3"

// configDump is the YAML shape printed by -print-config. Keys match the
// config file so the output can be saved and edited.
type configDump struct {
	BindHost            string         `yaml:"bind-host"`
	SyslogTCPPort       int            `yaml:"syslog-tcp-port"`
	SyslogUDPPort       int            `yaml:"syslog-udp-port"`
	TCPReadBuffer       int            `yaml:"tcp-read-buffer"`
	UDPReadBuffer       int            `yaml:"udp-read-buffer"`
	DBPath              string         `yaml:"db-path"`
	QueryTimeout        string         `yaml:"query-timeout"`
	InsertBatchSize     int            `yaml:"insert-batch-size"`
	InsertFlushInterval string         `yaml:"insert-flush-interval"`
	InsertFlushQueue    int            `yaml:"insert-flush-queue-size"`
	LogRetention        int            `yaml:"log-retention"`
	LogRetentionByProto map[string]int `yaml:"log-retention-protocols,omitempty"`
	LogFile             string         `yaml:"log-file"`
	LogFilePath         string         `yaml:"log-file-path"`
	APIEnabled          bool           `yaml:"api-enabled"`
	APIPort             int            `yaml:"api-port"`
	APIAddr             string         `yaml:"api-addr"`
	ShutdownTimeout     string         `yaml:"shutdown-timeout"`
}

func renderConfig(cfg appConfig) ([]byte, error) {
	return yaml.Marshal(configDump{
		BindHost:            cfg.BindHost,
		SyslogTCPPort:       cfg.SyslogTCPPort,
		SyslogUDPPort:       cfg.SyslogUDPPort,
		TCPReadBuffer:       cfg.TCPReadBuffer,
		UDPReadBuffer:       cfg.UDPReadBuffer,
		DBPath:              cfg.DBPath,
		QueryTimeout:        cfg.QueryTimeout.String(),
		InsertBatchSize:     cfg.InsertBatchSize,
		InsertFlushInterval: cfg.InsertFlushInterval.String(),
		InsertFlushQueue:    cfg.InsertFlushQueue,
		LogRetention:        cfg.LogRetention,
		LogRetentionByProto: cfg.LogRetentionByProto,
		LogFile:             cfg.LogFile,
		LogFilePath:         cfg.LogFilePath,
		APIEnabled:          cfg.APIEnabled,
		APIPort:             cfg.APIPort,
		APIAddr:             cfg.APIAddr,
		ShutdownTimeout:     cfg.ShutdownTimeout.String(),
	})
}
