// Copyright (C) 2021 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import "sync"

// TestLogger records every message per level so unit tests can assert on
// what a component logged. Output is not forwarded anywhere.
type TestLogger struct {
	mu       sync.Mutex
	messages map[LogLevel][]Entry
	level    LogLevel
}

type Entry struct {
	Msg    string
	Fields Fields
}

func NewTestLogger() *TestLogger {
	return &TestLogger{
		messages: make(map[LogLevel][]Entry),
		level:    DebugLevel,
	}
}

func (m *TestLogger) record(level LogLevel, msg string, fields Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if level > m.level {
		return
	}
	m.messages[level] = append(m.messages[level], Entry{Msg: msg, Fields: fields})
}

// Messages returns the messages logged at level, oldest first.
func (m *TestLogger) Messages(level LogLevel) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.messages[level]))
	for _, e := range m.messages[level] {
		out = append(out, e.Msg)
	}
	return out
}

func (m *TestLogger) Entries(level LogLevel) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.messages[level]...)
}

func (m *TestLogger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = make(map[LogLevel][]Entry)
}

func (m *TestLogger) Panic(msg string, fields Fields) {
	m.record(PanicLevel, msg, fields)
	panic(msg)
}

func (m *TestLogger) Fatal(msg string, fields Fields) { m.record(FatalLevel, msg, fields) }
func (m *TestLogger) Error(msg string, fields Fields) { m.record(ErrorLevel, msg, fields) }
func (m *TestLogger) Warn(msg string, fields Fields)  { m.record(WarnLevel, msg, fields) }
func (m *TestLogger) Info(msg string, fields Fields)  { m.record(InfoLevel, msg, fields) }
func (m *TestLogger) Debug(msg string, fields Fields) { m.record(DebugLevel, msg, fields) }

func (m *TestLogger) SetLevel(level LogLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = level
}

func (m *TestLogger) GetLevel() LogLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}
