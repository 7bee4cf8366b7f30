// Package logging configures logrus and keeps recent lines for the /logs endpoint.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// DefaultCapacity is the number of lines a Buffer keeps
const DefaultCapacity = 1000

// Buffer captures the most recent log lines in memory
type Buffer struct {
	mu       sync.Mutex
	lines    []string
	capacity int
}

// NewBuffer creates a buffer keeping at most capacity lines
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{lines: make([]string, 0, capacity), capacity: capacity}
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = append(b.lines, strings.TrimRight(string(p), "\n"))
	if len(b.lines) > b.capacity {
		b.lines = b.lines[len(b.lines)-b.capacity:]
	}
	return len(p), nil
}

// Lines returns a copy of the buffered lines, oldest first
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Setup configures the standard logrus logger and tees it into a new Buffer
func Setup(level, format string) (*Buffer, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(lvl)

	if format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	buf := NewBuffer(DefaultCapacity)
	log.SetOutput(io.MultiWriter(os.Stderr, buf))
	return buf, nil
}
