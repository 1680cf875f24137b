//go:build linux

package shm

import (
	"errors"
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const shmDir = "/dev/shm"

// Region is this process's view of the named shared-memory object. It does
// not own the object: closing the region leaves it in place for others.
type Region struct {
	name  string
	fd    int
	mem   []byte
	store *Store
}

// Open creates the named object if it does not exist, grows it to Size
// bytes if it is shorter, and maps it read/write.
func Open(name string) (*Region, error) {
	path := filepath.Join(shmDir, name)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("fstat %s: %w", path, err)
	}
	// Growing is idempotent, so racing openers all end at Size.
	if st.Size < Size {
		if err := unix.Ftruncate(fd, Size); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("ftruncate %s: %w", path, err)
		}
	}

	mem, err := unix.Mmap(fd, 0, Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	store, err := NewStore(mem)
	if err != nil {
		_ = unix.Munmap(mem)
		_ = unix.Close(fd)
		return nil, err
	}

	return &Region{name: name, fd: fd, mem: mem, store: store}, nil
}

// Store returns the state view backed by this mapping.
func (r *Region) Store() *Store {
	return r.store
}

// Name returns the object name the region was opened with.
func (r *Region) Name() string {
	return r.name
}

// Close unmaps the view and closes the descriptor. Safe to call twice.
func (r *Region) Close() error {
	if r == nil || r.mem == nil {
		return nil
	}
	var errs []error
	if err := unix.Munmap(r.mem); err != nil {
		errs = append(errs, fmt.Errorf("munmap: %w", err))
	}
	if err := unix.Close(r.fd); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	r.mem = nil
	r.store = nil
	return errors.Join(errs...)
}

// Unlink removes the named object. Existing mappings stay valid until
// closed; the next Open creates a fresh, uninitialized object.
func Unlink(name string) error {
	err := unix.Unlink(filepath.Join(shmDir, name))
	if err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("unlink %s: %w", name, err)
	}
	return nil
}
