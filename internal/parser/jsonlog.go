package parser

import (
	"strings"

	"github.com/valyala/fastjson"

	"github.com/openclaw/cortex/pkg/types"
)

var jsonPool fastjson.ParserPool

// ParseJSONLog parses a line from the structured JSON log. Two shapes are
// recognized:
//
//  1. an explicit envelope: {"type": "log", "time": ..., "level": ...,
//     "subsystem": ..., "message": ...}, with defaults for missing fields;
//  2. a metadata-prefixed object where "_meta" carries date/logLevelName/name
//     and every sibling key is a positional message fragment, joined with a
//     single space in document order.
//
// Anything else, including invalid JSON, is rejected.
func ParseJSONLog(line string) (types.ParsedLogEntry, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return types.ParsedLogEntry{}, false
	}

	p := jsonPool.Get()
	defer jsonPool.Put(p)

	v, err := p.Parse(trimmed)
	if err != nil || v.Type() != fastjson.TypeObject {
		return types.ParsedLogEntry{}, false
	}

	if v.Exists("_meta") {
		return parseMetaShape(v)
	}
	if v.Exists("type") {
		return parseEnvelope(v)
	}
	return types.ParsedLogEntry{}, false
}

func parseEnvelope(v *fastjson.Value) (types.ParsedLogEntry, bool) {
	entry := types.ParsedLogEntry{
		Level:     types.LevelInfo,
		Subsystem: "unknown",
	}

	if timeStr := string(v.GetStringBytes("time")); timeStr != "" {
		ts, ok := epochMillis(timeStr)
		if !ok {
			return types.ParsedLogEntry{}, false
		}
		entry.Time = timeStr
		entry.TS = ts
	} else {
		entry.Time, entry.TS = nowEntryTime()
	}

	if level := string(v.GetStringBytes("level")); level != "" {
		entry.Level = normalizeLevel(level)
	}
	if subsystem := string(v.GetStringBytes("subsystem")); subsystem != "" {
		entry.Subsystem = subsystem
	}
	entry.Message = string(v.GetStringBytes("message"))

	return entry, true
}

func parseMetaShape(v *fastjson.Value) (types.ParsedLogEntry, bool) {
	meta := v.Get("_meta")
	if meta == nil || meta.Type() != fastjson.TypeObject {
		return types.ParsedLogEntry{}, false
	}

	entry := types.ParsedLogEntry{
		Level:     types.LevelInfo,
		Subsystem: "unknown",
	}

	if date := string(meta.GetStringBytes("date")); date != "" {
		ts, ok := epochMillis(date)
		if !ok {
			return types.ParsedLogEntry{}, false
		}
		entry.Time = date
		entry.TS = ts
	} else {
		entry.Time, entry.TS = nowEntryTime()
	}

	if level := string(meta.GetStringBytes("logLevelName")); level != "" {
		entry.Level = normalizeLevel(level)
	}
	if name := string(meta.GetStringBytes("name")); name != "" {
		entry.Subsystem = name
	}

	// Sibling keys are positional message fragments in document order.
	obj, err := v.Object()
	if err != nil {
		return types.ParsedLogEntry{}, false
	}
	var fragments []string
	obj.Visit(func(key []byte, val *fastjson.Value) {
		if string(key) == "_meta" {
			return
		}
		if val.Type() == fastjson.TypeString {
			fragments = append(fragments, string(val.GetStringBytes()))
		} else {
			fragments = append(fragments, val.String())
		}
	})
	entry.Message = strings.Join(fragments, " ")

	return entry, true
}
