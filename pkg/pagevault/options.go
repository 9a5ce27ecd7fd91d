package pagevault

import "github.com/rs/zerolog"

// Options configures a Store at Open time.
type Options struct {
	// VerifyOnRead validates each page's crc before ReadAll consumes it.
	VerifyOnRead bool

	// UseWriteCache, when false, requests write-through semantics from
	// the backing device (opens it with O_SYNC). Defaults to true.
	UseWriteCache bool

	// FlushAtWrite durably flushes the backing device at the end of
	// every mutating operation.
	FlushAtWrite bool

	// BufferSize is a backing-I/O buffer hint. It has no effect on the
	// memory-mapped backend this module ships but is kept for interface
	// compatibility with a future non-mmap BlockDevice.
	BufferSize int

	// Logger receives structured lifecycle and error events. Defaults to
	// a disabled logger.
	Logger zerolog.Logger
}

// DefaultOptions returns the documented defaults: write caching enabled,
// no verify-on-read, no forced flush per write, and a disabled logger.
func DefaultOptions() Options {
	return Options{
		UseWriteCache: true,
		BufferSize:    4096,
		Logger:        zerolog.Nop(),
	}
}

func (o Options) normalized() Options {
	if o.BufferSize == 0 {
		o.BufferSize = 4096
	}
	return o
}
