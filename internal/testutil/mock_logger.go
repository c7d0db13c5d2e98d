// Package testutil holds test doubles shared across packages.
package testutil

import (
	"sync"

	"github.com/turtacn/chemsearch/internal/infrastructure/monitoring/logging"
)

// LogMessage is one entry captured by MockLogger.  Fields include those added
// through With on the logger that wrote it.
type LogMessage struct {
	Level   string
	Logger  string
	Message string
	Fields  []logging.Field
}

// Field returns the value of key and whether it was set.
func (m LogMessage) Field(key string) (interface{}, bool) {
	for i := len(m.Fields) - 1; i >= 0; i-- {
		if m.Fields[i].Key == key {
			return m.Fields[i].Value, true
		}
	}
	return nil, false
}

type logStore struct {
	mu       sync.Mutex
	messages []LogMessage
}

// MockLogger implements logging.Logger and records every entry.  Children
// created with With and Named write to the same store.
type MockLogger struct {
	store  *logStore
	name   string
	fields []logging.Field
}

func NewMockLogger() *MockLogger {
	return &MockLogger{store: &logStore{}}
}

func (m *MockLogger) log(level, msg string, fields []logging.Field) {
	all := make([]logging.Field, 0, len(m.fields)+len(fields))
	all = append(all, m.fields...)
	all = append(all, fields...)
	m.store.mu.Lock()
	m.store.messages = append(m.store.messages, LogMessage{Level: level, Logger: m.name, Message: msg, Fields: all})
	m.store.mu.Unlock()
}

func (m *MockLogger) Debug(msg string, fields ...logging.Field) { m.log("debug", msg, fields) }
func (m *MockLogger) Info(msg string, fields ...logging.Field)  { m.log("info", msg, fields) }
func (m *MockLogger) Warn(msg string, fields ...logging.Field)  { m.log("warn", msg, fields) }
func (m *MockLogger) Error(msg string, fields ...logging.Field) { m.log("error", msg, fields) }

// Fatal records the entry but does not exit.
func (m *MockLogger) Fatal(msg string, fields ...logging.Field) { m.log("fatal", msg, fields) }

func (m *MockLogger) With(fields ...logging.Field) logging.Logger {
	child := &MockLogger{store: m.store, name: m.name}
	child.fields = append(append(child.fields, m.fields...), fields...)
	return child
}

func (m *MockLogger) Named(name string) logging.Logger {
	child := &MockLogger{store: m.store, name: name, fields: m.fields}
	if m.name != "" {
		child.name = m.name + "." + name
	}
	return child
}

// GetMessages returns a copy of all captured entries.
func (m *MockLogger) GetMessages() []LogMessage {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	return append([]LogMessage(nil), m.store.messages...)
}

// Find returns the entries with the given level and message.
func (m *MockLogger) Find(level, msg string) []LogMessage {
	var out []LogMessage
	for _, e := range m.GetMessages() {
		if e.Level == level && e.Message == msg {
			out = append(out, e)
		}
	}
	return out
}

func (m *MockLogger) HasMessage(level, msg string) bool { return len(m.Find(level, msg)) > 0 }

// Clear drops every captured entry.
func (m *MockLogger) Clear() {
	m.store.mu.Lock()
	m.store.messages = nil
	m.store.mu.Unlock()
}

var _ logging.Logger = (*MockLogger)(nil)
