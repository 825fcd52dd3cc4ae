package core

import (
	"bytes"
	"io"
	"sync"
)

// SessionLog is the append-only combined output of one container session.
// Only the Step Executor writes to it; the mutex is for readers polling
// the log while a step is still running.
type SessionLog struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	sink    io.Writer
	sinkErr error
}

// NewSessionLog returns a log that also copies every write to sink.
// A nil sink keeps the output in memory only.
func NewSessionLog(sink io.Writer) *SessionLog {
	return &SessionLog{sink: sink}
}

// Write appends p. A failing sink is detached and its error kept; the
// in-memory copy is never lost.
func (l *SessionLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf.Write(p)
	if l.sink != nil {
		if _, err := l.sink.Write(p); err != nil {
			l.sinkErr = err
			l.sink = nil
		}
	}
	return len(p), nil
}

func (l *SessionLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

func (l *SessionLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Len()
}

// SinkErr reports the first write error of the external sink, if any.
func (l *SessionLog) SinkErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sinkErr
}
