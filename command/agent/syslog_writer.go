package agent

import (
	"bytes"

	gsyslog "github.com/hashicorp/go-syslog"
)

// SyslogWriter adapts kvrepld's "[LEVEL] ..." log lines to the matching
// syslog severity, grounded on serf's command/agent/syslog_writer.go
// SyslogWriter, generalized to take a configurable tag instead of a
// hardcoded one.
type SyslogWriter struct {
	l gsyslog.Syslogger
}

// NewSyslogWriter opens a connection to the local syslog daemon tagged as
// tag, at facility LOCAL0, the same facility serf's agent uses.
func NewSyslogWriter(tag string) (*SyslogWriter, error) {
	l, err := gsyslog.NewLogger(gsyslog.LOG_NOTICE, "LOCAL0", tag)
	if err != nil {
		return nil, err
	}
	return &SyslogWriter{l: l}, nil
}

func (s *SyslogWriter) Write(p []byte) (int, error) {
	level := "INFO"
	if x := bytes.IndexByte(p, '['); x >= 0 {
		if y := bytes.IndexByte(p[x:], ']'); y >= 0 {
			level = string(p[x+1 : x+y])
		}
	}

	priority := gsyslog.LOG_NOTICE
	switch level {
	case "DEBUG":
		priority = gsyslog.LOG_INFO
	case "WARN":
		priority = gsyslog.LOG_WARNING
	case "ERR":
		priority = gsyslog.LOG_ERR
	}

	if err := s.l.WriteLevel(priority, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
