//go:build unix

package logger

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Sink appends log records to a file shared by several processes. Each
// write is a whole record, serialized across processes by an flock on
// "<path>.lock".
type Sink struct {
	mu   sync.Mutex
	file *os.File
	lock *os.File
}

// OpenSink opens path for appending, creating it and its lock file.
func OpenSink(path string) (*Sink, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	lock, err := os.OpenFile(path+".lock", os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("open log lock: %w", err)
	}
	return &Sink{file: file, lock: lock}, nil
}

func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := flockRetry(s.lock, unix.LOCK_EX); err != nil {
		return 0, fmt.Errorf("lock log file: %w", err)
	}
	defer flockRetry(s.lock, unix.LOCK_UN)

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
	return errors.Join(s.file.Close(), s.lock.Close())
}

func flockRetry(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}
