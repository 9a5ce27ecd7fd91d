// Package pvio is the block I/O facade: positioned read/write/flush of
// fixed-size pages against a backing file, implemented as a growable
// memory mapping.
package pvio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// BlockDevice is the backing-file I/O backend the store is built on: a
// byte-addressable, seekable, read/write store with durable-flush
// capability. The mmap-backed implementation below is the only one this
// module ships; internal/pvstore depends only on this interface, while
// pkg/pagevault opens and holds the concrete MappedFile.
type BlockDevice interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Truncate(size int64) error
	Size() int64
	Flush() error
	Close() error
}

// MappedFile memory-maps a backing file and grows the mapping (via
// unmap/truncate/remap) whenever the store extends the file by a chapter.
type MappedFile struct {
	file         *os.File
	data         []byte
	size         int64
	writeThrough bool
}

// Open opens or creates path and maps its first size bytes (or the whole
// file, if larger) into memory. If writeThrough is set, the file is also
// opened with O_SYNC as a write-through hint. O_SYNC governs writes made
// through the file descriptor; stores through the mapping still reach
// disk durably only on Flush (msync) or the kernel's own writeback.
func Open(path string, size int64, writeThrough bool) (*MappedFile, error) {
	flags := os.O_RDWR | os.O_CREATE
	if writeThrough {
		flags |= os.O_SYNC
	}

	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("open backing file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat backing file: %w", err)
	}

	currentSize := info.Size()
	if currentSize < size {
		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, fmt.Errorf("extend backing file: %w", err)
		}
		currentSize = size
	}

	data, err := mmapFile(file, currentSize)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &MappedFile{
		file:         file,
		data:         data,
		size:         currentSize,
		writeThrough: writeThrough,
	}, nil
}

func mmapFile(file *os.File, size int64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	data, err := unix.Mmap(int(file.Fd()), 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap backing file: %w", err)
	}
	return data, nil
}

// ReadAt copies len(p) bytes starting at off out of the mapping.
func (m *MappedFile) ReadAt(p []byte, off int64) (int, error) {
	if m.data == nil {
		return 0, fmt.Errorf("pvio: device is closed")
	}
	if off < 0 || off+int64(len(p)) > m.size {
		return 0, fmt.Errorf("pvio: read [%d,%d) out of range (size %d)", off, off+int64(len(p)), m.size)
	}
	n := copy(p, m.data[off:off+int64(len(p))])
	return n, nil
}

// WriteAt copies p into the mapping starting at off.
func (m *MappedFile) WriteAt(p []byte, off int64) (int, error) {
	if m.data == nil {
		return 0, fmt.Errorf("pvio: device is closed")
	}
	if off < 0 || off+int64(len(p)) > m.size {
		return 0, fmt.Errorf("pvio: write [%d,%d) out of range (size %d)", off, off+int64(len(p)), m.size)
	}
	n := copy(m.data[off:off+int64(len(p))], p)
	return n, nil
}

// Truncate grows the backing file to size and remaps it. Shrinking is not
// supported — compaction/shrinking is a non-goal of the store this facade
// serves.
func (m *MappedFile) Truncate(size int64) error {
	if size <= m.size {
		return nil
	}

	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			return fmt.Errorf("pvio: munmap during grow: %w", err)
		}
	}

	if err := m.file.Truncate(size); err != nil {
		return fmt.Errorf("pvio: extend backing file during grow: %w", err)
	}

	data, err := mmapFile(m.file, size)
	if err != nil {
		return fmt.Errorf("pvio: remap during grow: %w", err)
	}

	m.data = data
	m.size = size
	return nil
}

// Size returns the current mapped size in bytes.
func (m *MappedFile) Size() int64 {
	return m.size
}

// Flush durably syncs the mapping to disk.
func (m *MappedFile) Flush() error {
	if m.data == nil {
		return nil
	}
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("pvio: msync: %w", err)
	}
	return nil
}

// Close unmaps and closes the backing file.
func (m *MappedFile) Close() error {
	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			return fmt.Errorf("pvio: munmap: %w", err)
		}
		m.data = nil
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			return fmt.Errorf("pvio: close: %w", err)
		}
		m.file = nil
	}
	return nil
}
