package pvstore

import "errors"

// Sentinel errors the engine returns for conditions the public facade
// (pkg/pagevault) maps onto its typed ErrorKind taxonomy. Any other error
// returned by an Engine method originates from the backing BlockDevice and
// the facade maps it to IoFailure.
var (
	ErrInvalidHandle      = errors.New("pvstore: invalid handle")
	ErrOutOfRange         = errors.New("pvstore: out of range")
	ErrCorruptData        = errors.New("pvstore: corrupt data")
	ErrUnsupportedVersion = errors.New("pvstore: unsupported format version")
	ErrOutOfSpace         = errors.New("pvstore: out of space")
)
