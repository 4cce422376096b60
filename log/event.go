package log

import (
	"bytes"
	"strconv"
	"time"
)

// LogEvent is a single in-flight log entry. Events are pooled by the owning
// logger to minimize garbage collection pressure on hot logging paths; fields
// are appended to an internal buffer as key/value pairs and the entry is
// flushed to the appenders when Msg is called.
//
// All field methods are safe to call on a nil receiver, which is what the
// logger returns when the event's level is below the configured threshold.
type LogEvent struct {
	logger Logger
	level  Level
	buf    bytes.Buffer
	fields int
}

func newEvent(logger Logger) *LogEvent {
	return &LogEvent{logger: logger}
}

// Reset clears the event so it can be reused from the pool.
func (e *LogEvent) Reset() {
	e.buf.Reset()
	e.fields = 0
	e.level = TraceLevel
}

func (e *LogEvent) appendKey(key string) {
	if e.fields == 0 {
		e.buf.WriteByte('{')
	} else {
		e.buf.WriteByte(',')
	}
	e.fields++
	e.buf.WriteByte('"')
	e.buf.WriteString(key)
	e.buf.WriteString(`":`)
}

func (e *LogEvent) appendString(val string) {
	b := e.buf.AvailableBuffer()
	e.buf.Write(strconv.AppendQuote(b, val))
}

// Str adds a string field to the event.
func (e *LogEvent) Str(key, val string) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	e.appendString(val)
	return e
}

// Int adds an int field to the event.
func (e *LogEvent) Int(key string, val int) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	e.buf.WriteString(strconv.Itoa(val))
	return e
}

// Int64 adds an int64 field to the event.
func (e *LogEvent) Int64(key string, val int64) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	e.buf.WriteString(strconv.FormatInt(val, 10))
	return e
}

// Uint64 adds a uint64 field to the event.
func (e *LogEvent) Uint64(key string, val uint64) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	e.buf.WriteString(strconv.FormatUint(val, 10))
	return e
}

// Bool adds a bool field to the event.
func (e *LogEvent) Bool(key string, val bool) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	e.buf.WriteString(strconv.FormatBool(val))
	return e
}

// Dur adds a duration field to the event, rendered in Go duration syntax.
func (e *LogEvent) Dur(key string, val time.Duration) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	e.appendString(val.String())
	return e
}

// Time adds a timestamp field to the event in RFC3339 format with millisecond
// precision.
func (e *LogEvent) Time(key string, t *time.Time) *LogEvent {
	if e == nil {
		return nil
	}
	e.appendKey(key)
	e.buf.WriteByte('"')
	b := e.buf.AvailableBuffer()
	e.buf.Write(t.AppendFormat(b, "2006-01-02T15:04:05.000Z07:00"))
	e.buf.WriteByte('"')
	return e
}

// Err adds an error field to the event. A nil error is skipped.
func (e *LogEvent) Err(err error) *LogEvent {
	if e == nil {
		return nil
	}
	if err == nil {
		return e
	}
	return e.Str("error", err.Error())
}

// Msg finalizes the event with the given message and hands it to the logger
// for output. The event must not be used after Msg returns.
func (e *LogEvent) Msg(msg string) {
	if e == nil {
		return
	}
	e.appendKey("message")
	e.appendString(msg)
	e.buf.WriteString("}\n")
	e.logger.OnEventEnd(e)
}
