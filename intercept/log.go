package intercept

import (
	"fmt"
	"strings"
	"time"
)

// EntryType classifies a log entry. Values combine into a mask.
type EntryType uint8

const (
	EntryError EntryType = 1 << iota
	EntryWarning
	EntryInfo

	EntryAll = EntryError | EntryWarning | EntryInfo
)

func (t EntryType) String() string {
	switch t {
	case EntryError:
		return "Error"
	case EntryWarning:
		return "Warning"
	case EntryInfo:
		return "Info"
	}
	var parts []string
	for _, single := range []EntryType{EntryError, EntryWarning, EntryInfo} {
		if t&single != 0 {
			parts = append(parts, single.String())
		}
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, "|")
}

// ParseEntryTypes builds a mask from names such as "error" or "warning".
func ParseEntryTypes(names []string) (EntryType, error) {
	var mask EntryType
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "error":
			mask |= EntryError
		case "warning", "warn":
			mask |= EntryWarning
		case "info", "information":
			mask |= EntryInfo
		case "all":
			mask |= EntryAll
		case "":
		default:
			return 0, fmt.Errorf("intercept: unknown log entry type %q", name)
		}
	}
	return mask, nil
}

// LogEntry is one line buffered by a run.
type LogEntry struct {
	Time    time.Time
	Type    EntryType
	Source  string
	Key     string
	Message string
	Attempt int
}

// FormatEntry renders e as a single sink line.
func FormatEntry(e LogEntry) string {
	var b strings.Builder
	b.WriteString(e.Time.UTC().Format("2006-01-02T15:04:05.000Z"))
	b.WriteString(" [")
	b.WriteString(e.Type.String())
	b.WriteString("] ")
	if e.Source != "" {
		b.WriteString(e.Source)
		b.WriteString(": ")
	}
	b.WriteString(e.Key)
	if e.Message != "" {
		b.WriteString(" = ")
		b.WriteString(e.Message)
	}
	fmt.Fprintf(&b, " (attempt %d)", e.Attempt)
	return b.String()
}

// LogFilter selects which buffered entries reach the sink. A zero Types
// mask admits every type.
type LogFilter struct {
	Types              EntryType
	Keys               []string
	WriteAllIfKeyFound bool
}

// Select returns the entries the filter lets through, in order.
func (f LogFilter) Select(entries []LogEntry) []LogEntry {
	mask := f.Types
	if mask == 0 {
		mask = EntryAll
	}

	writeAll := len(f.Keys) == 0
	if !writeAll && f.WriteAllIfKeyFound {
		for _, e := range entries {
			if f.matchesKey(e.Key) {
				writeAll = true
				break
			}
		}
	}

	out := make([]LogEntry, 0, len(entries))
	for _, e := range entries {
		if e.Type&mask == 0 {
			continue
		}
		if !writeAll && !f.matchesKey(e.Key) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (f LogFilter) matchesKey(key string) bool {
	for _, k := range f.Keys {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

// Sink receives formatted entries at the end of a run.
type Sink interface {
	Write(line string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(line string) error

func (f SinkFunc) Write(line string) error { return f(line) }
