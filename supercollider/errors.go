package supercollider

import (
	"github.com/pkg/errors"

	"github.com/chabad360/go-supercollider/alloc"
	"github.com/chabad360/go-supercollider/router"
)

// Error kinds. Test for them with errors.Is.
var (
	// ErrConnectivity means the engine did not answer in time.
	ErrConnectivity = router.ErrTimeout
	// ErrAllocation means a bus allocator has no room left.
	ErrAllocation = alloc.ErrExhausted
	// ErrDecode means a reply did not have the expected shape.
	ErrDecode = router.ErrDecode
	// ErrCommandFailed means the engine answered a command with /fail. The
	// error is a *FailError.
	ErrCommandFailed = router.ErrCommandFailed
	// ErrClosed means the session was closed or reset while waiting.
	ErrClosed = router.ErrClosed
	// ErrNotFound means a sound file to load does not exist.
	ErrNotFound = errors.New("file not found")
)

// FailError carries the command and message of a /fail reply.
type FailError = router.FailError
