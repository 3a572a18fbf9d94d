package types

// LogLevel is the canonical severity of a stored log entry.
type LogLevel string

const (
	LevelError LogLevel = "error"
	LevelWarn  LogLevel = "warn"
	LevelInfo  LogLevel = "info"
	LevelDebug LogLevel = "debug"
)

// ValidLevel reports whether s is one of the canonical severities.
func ValidLevel(s string) bool {
	switch LogLevel(s) {
	case LevelError, LevelWarn, LevelInfo, LevelDebug:
		return true
	}
	return false
}

// LogSource identifies which tailed stream produced an entry.
type LogSource string

const (
	SourceGatewayLog LogSource = "gateway-log"
	SourceGatewayErr LogSource = "gateway-err"
	SourceJSONLog    LogSource = "json-log"
)

// ValidSource reports whether s is one of the known tailed streams.
func ValidSource(s string) bool {
	switch LogSource(s) {
	case SourceGatewayLog, SourceGatewayErr, SourceJSONLog:
		return true
	}
	return false
}

// ParsedLogEntry is the canonical record a line parser produces. Time is
// the origin-reported timestamp string preserved verbatim; TS is the same
// instant as epoch milliseconds.
type ParsedLogEntry struct {
	Time      string   `json:"time"`
	Level     LogLevel `json:"level"`
	Subsystem string   `json:"subsystem"`
	Message   string   `json:"message"`
	TS        int64    `json:"ts"`
}

// LogEntry is the durable, store-assigned shape of a log record. Raw and
// Metadata are optional; ID and CreatedAt are assigned at insert and never
// change afterwards.
type LogEntry struct {
	ID        int64          `json:"id"`
	Timestamp string         `json:"timestamp"`
	TS        int64          `json:"ts"`
	Level     LogLevel       `json:"level"`
	Source    LogSource      `json:"source"`
	Subsystem string         `json:"subsystem,omitempty"`
	Message   string         `json:"message"`
	Raw       string         `json:"raw,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

// LogQuery holds the filter and pagination parameters for a store query.
// Level and Source are ignored when they are not valid enumeration values;
// Text is sanitized before it reaches the full-text index.
type LogQuery struct {
	Level  string
	Source string
	Text   string
	Page   int
	Limit  int
}

// PaginatedResponse is the envelope the query endpoint returns.
type PaginatedResponse struct {
	Data    []LogEntry `json:"data"`
	Total   int        `json:"total"`
	Page    int        `json:"page"`
	Limit   int        `json:"limit"`
	HasMore bool       `json:"hasMore"`
}

// Event is what the event bus distributes and the SSE gateway serializes.
// Timestamp is epoch milliseconds; the gateway assigns one at delivery time
// if the publisher left it zero.
type Event struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// TailedEntry pairs a parsed entry with the stream it came from and the
// original line. Batches of these are the single ingestion boundary between
// the tailer and the store/bus sinks.
type TailedEntry struct {
	Entry  ParsedLogEntry
	Source LogSource
	Raw    string
}
