package domain

import "fmt"

// LoggingMode represents a project's history preferences.
type LoggingMode int16

const (
	LoggingDisabled LoggingMode = 0
	LoggingEnabled  LoggingMode = 1
	LoggingRecordIP LoggingMode = 2
)

// DefaultLoggingMode applies to writes outside the scope of any project,
// for example project creation itself.
const DefaultLoggingMode = LoggingEnabled

func (m LoggingMode) String() string {
	switch m {
	case LoggingDisabled:
		return "disabled"
	case LoggingEnabled:
		return "enabled"
	case LoggingRecordIP:
		return "record_ip"
	}
	return fmt.Sprintf("logging_mode(%d)", int16(m))
}

func (m LoggingMode) Valid() bool {
	return m >= LoggingDisabled && m <= LoggingRecordIP
}

// RecordsHistory reports whether writes under this mode produce history.
func (m LoggingMode) RecordsHistory() bool { return m != LoggingDisabled }

// RecordsIP reports whether the caller's address may be stored.
func (m LoggingMode) RecordsIP() bool { return m == LoggingRecordIP }

// ParseLoggingMode converts the wire form used by the HTTP API.
func ParseLoggingMode(s string) (LoggingMode, error) {
	switch s {
	case "disabled":
		return LoggingDisabled, nil
	case "enabled":
		return LoggingEnabled, nil
	case "record_ip":
		return LoggingRecordIP, nil
	}
	return 0, fmt.Errorf("unknown logging mode %q", s)
}
