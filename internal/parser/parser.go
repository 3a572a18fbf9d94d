// Package parser turns raw log lines into canonical entries. Each format
// has a pure parse function returning (entry, ok); malformed input is an
// expected case and reports ok=false rather than an error.
package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/openclaw/cortex/pkg/types"
)

// Func is the contract every line parser satisfies.
type Func func(line string) (types.ParsedLogEntry, bool)

// timestampedLine matches an ISO-8601 timestamp followed by whitespace and
// the rest of the line. Fractional seconds are optional.
var timestampedLine = regexp.MustCompile(
	`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2}))\s+(.+)$`)

// bracketedRest matches "[subsystem] message" after the timestamp.
var bracketedRest = regexp.MustCompile(`^\[([^\]]+)\]\s+(.*)$`)

// epochMillis converts an ISO-8601 timestamp string to epoch milliseconds.
func epochMillis(ts string) (int64, bool) {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return 0, false
	}
	return t.UnixMilli(), true
}

// nowEntryTime returns the current instant as a verbatim timestamp string
// and its epoch milliseconds, consistent with each other at millisecond
// precision.
func nowEntryTime() (string, int64) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return now.Format("2006-01-02T15:04:05.000Z07:00"), now.UnixMilli()
}

// ParseGatewayErr parses a line from the gateway error log. The format is
// "<timestamp> <message>"; every entry is error-level.
func ParseGatewayErr(line string) (types.ParsedLogEntry, bool) {
	m := timestampedLine.FindStringSubmatch(line)
	if m == nil {
		return types.ParsedLogEntry{}, false
	}
	ts, ok := epochMillis(m[1])
	if !ok {
		return types.ParsedLogEntry{}, false
	}
	return types.ParsedLogEntry{
		Time:      m[1],
		Level:     types.LevelError,
		Subsystem: "gateway",
		Message:   strings.TrimSpace(m[2]),
		TS:        ts,
	}, true
}

// ParseGatewayLog parses a line from the gateway log. The format is
// "<timestamp> [subsystem] message"; the level is inferred from the message
// content since the format carries none.
func ParseGatewayLog(line string) (types.ParsedLogEntry, bool) {
	m := timestampedLine.FindStringSubmatch(line)
	if m == nil {
		return types.ParsedLogEntry{}, false
	}
	ts, ok := epochMillis(m[1])
	if !ok {
		return types.ParsedLogEntry{}, false
	}
	rest := bracketedRest.FindStringSubmatch(m[2])
	if rest == nil {
		return types.ParsedLogEntry{}, false
	}
	msg := strings.TrimSpace(rest[2])
	return types.ParsedLogEntry{
		Time:      m[1],
		Level:     inferLevel(msg),
		Subsystem: rest[1],
		Message:   msg,
		TS:        ts,
	}, true
}

// inferLevel guesses a severity from message content. "error" beats "warn"
// when both appear.
func inferLevel(message string) types.LogLevel {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "error") || strings.Contains(lower, "fail"):
		return types.LevelError
	case strings.Contains(lower, "warn"):
		return types.LevelWarn
	default:
		return types.LevelInfo
	}
}

// normalizeLevel maps origin-reported level names onto the canonical
// enumeration. Unknown names degrade to info.
func normalizeLevel(level string) types.LogLevel {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return types.LevelDebug
	case "warn", "warning":
		return types.LevelWarn
	case "err", "error", "fatal", "critical":
		return types.LevelError
	default:
		return types.LevelInfo
	}
}
