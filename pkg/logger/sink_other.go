//go:build !unix

package logger

import (
	"fmt"
	"os"
	"sync"
)

// Sink appends log records to a file. Without flock, writes are only
// serialized within this process.
type Sink struct {
	mu   sync.Mutex
	file *os.File
}

func OpenSink(path string) (*Sink, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &Sink{file: file}, nil
}

func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Write(p)
}

func (s *Sink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Sync()
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
