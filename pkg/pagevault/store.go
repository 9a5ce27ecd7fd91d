package pagevault

import (
	"runtime"
	"sync"

	"github.com/oda/pagevault/internal/pvio"
	"github.com/oda/pagevault/internal/pvstore"
)

// Store is a paged compound file store: a single host file holding many
// independently allocated, variably-sized embedded byte streams, each
// addressed by an opaque 32-bit handle.
//
// Every exported method acquires a single store-wide mutex for its
// entire duration and releases it before returning; several methods
// internally perform multiple Allocate/Free-equivalent steps against the
// unlocked engine underneath, which is how the single-mutex model stays
// correct without a reentrant lock.
type Store struct {
	mu     sync.Mutex
	dev    *pvio.MappedFile
	engine *pvstore.Engine
	opts   Options
	closed bool
}

// Open opens path, creating it if it doesn't exist. Start from
// DefaultOptions() and override fields rather than passing a bare
// Options{} literal, since this module cannot distinguish "UseWriteCache
// left unset" from "UseWriteCache explicitly disabled".
func Open(path string, opts Options) (*Store, error) {
	opts = opts.normalized()

	dev, err := pvio.Open(path, 0, !opts.UseWriteCache)
	if err != nil {
		return nil, &Error{Kind: IoFailure, Err: err}
	}

	engine, err := pvstore.Open(dev, pvstore.Options{VerifyOnRead: opts.VerifyOnRead}, opts.Logger)
	if err != nil {
		dev.Close()
		return nil, wrapEngineErr(err)
	}

	s := &Store{dev: dev, engine: engine, opts: opts}
	runtime.SetFinalizer(s, (*Store).finalize)
	return s, nil
}

// finalize is a best-effort safety net run by the garbage collector if a
// Store is dropped without an explicit Close. It never panics and logs at
// Debug only — a finalizer firing is not itself an anomaly, only a missed
// explicit Close is.
func (s *Store) finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.opts.Logger.Debug().Msg("store finalized without explicit Close")
	if err := s.engine.Close(); err == nil {
		s.dev.Flush()
	}
	s.dev.Close()
	s.closed = true
}

func (s *Store) checkOpen() error {
	if s.closed {
		return &Error{Kind: AlreadyClosed}
	}
	return nil
}

func (s *Store) maybeFlush() error {
	if !s.opts.FlushAtWrite {
		return nil
	}
	if err := s.dev.Flush(); err != nil {
		return &Error{Kind: IoFailure, Err: err}
	}
	return nil
}

// Allocate reserves a chain of pages sized for size bytes and returns its
// handle. size = 0 yields a single-page chain.
func (s *Store) Allocate(size uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	h, err := s.engine.Allocate(size)
	if err != nil {
		return 0, wrapEngineErr(err)
	}
	if err := s.maybeFlush(); err != nil {
		return h, err
	}
	return h, nil
}

// Free releases the stream chain starting at handle. Double-free is
// undefined, matching the reference semantics — it is the caller's
// responsibility not to reuse a freed handle.
func (s *Store) Free(handle uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := s.engine.Free(handle); err != nil {
		return wrapEngineErr(err)
	}
	return s.maybeFlush()
}

// Write overwrites a stream from its head with data, trimming any pages
// left over from a longer prior write.
func (s *Store) Write(handle uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := s.engine.Write(handle, data); err != nil {
		return wrapEngineErr(err)
	}
	return s.maybeFlush()
}

// WriteAt overwrites or extends a stream at an arbitrary byte offset. It
// never trims: the stream only grows or is overwritten in place.
func (s *Store) WriteAt(handle uint32, position uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := s.engine.WriteAt(handle, position, data); err != nil {
		return wrapEngineErr(err)
	}
	return s.maybeFlush()
}

// ReadAll returns a fresh copy of a stream's entire content.
func (s *Store) ReadAll(handle uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	data, err := s.engine.ReadAll(handle)
	if err != nil {
		return nil, wrapEngineErr(err)
	}
	return data, nil
}

// ReadAt fills buf from a stream at an arbitrary byte offset, returning
// the number of bytes actually read.
func (s *Store) ReadAt(handle uint32, buf []byte, srcOff uint32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	n, err := s.engine.ReadAt(handle, buf, srcOff)
	if err != nil {
		return n, wrapEngineErr(err)
	}
	return n, nil
}

// GetLength returns a stream's recorded byte length.
func (s *Store) GetLength(handle uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	n, err := s.engine.GetLength(handle)
	if err != nil {
		return 0, wrapEngineErr(err)
	}
	return n, nil
}

// ValidateCRC scans every page in the backing file and reports whether
// every stored crc matches its content.
func (s *Store) ValidateCRC() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	ok, err := s.engine.ValidateCRC()
	if err != nil {
		return false, wrapEngineErr(err)
	}
	return ok, nil
}

// Close writes the file header, flushes it durably, and releases the
// backing file. Callers should always call Close explicitly — the
// finalizer registered at Open is a last-resort safety net, not the
// primary path.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &Error{Kind: AlreadyClosed}
	}

	runtime.SetFinalizer(s, nil)

	closeErr := s.engine.Close()
	flushErr := s.dev.Flush()
	devErr := s.dev.Close()
	s.closed = true

	if closeErr != nil {
		return wrapEngineErr(closeErr)
	}
	if flushErr != nil {
		return &Error{Kind: IoFailure, Err: flushErr}
	}
	if devErr != nil {
		return &Error{Kind: IoFailure, Err: devErr}
	}
	return nil
}
