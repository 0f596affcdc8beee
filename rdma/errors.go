// Package rdma implements the queue-pair-based connection model on top of
// the low-level ibverbs/rdma_cm bindings in internal/verbs.
package rdma

import (
	"errors"

	"github.com/rfaas/executor-manager/internal/verbs"
)

var (
	// ErrClosed indicates an operation was attempted on a connection or
	// endpoint that has already been closed.
	ErrClosed = errors.New("rdma: connection closed")
	// ErrNoCompletion indicates a non-blocking poll found no completion.
	ErrNoCompletion = errors.New("rdma: no completion available")
	// ErrNoEvent indicates a non-blocking poll found no CM event.
	ErrNoEvent = errors.New("rdma: no event available")
	// ErrUnexpectedEvent indicates a CM event arrived out of the order the
	// caller's state machine expected.
	ErrUnexpectedEvent = errors.New("rdma: unexpected connection-management event")
	// ErrBufferTooSmall indicates a caller-supplied buffer cannot hold the
	// requested scatter-gather range.
	ErrBufferTooSmall = errors.New("rdma: buffer too small")
	// ErrInvalidDescriptor indicates a malformed remote buffer descriptor.
	ErrInvalidDescriptor = errors.New("rdma: invalid remote buffer descriptor")
	// ErrAlreadyRegistered indicates Register was called on a Buffer already
	// registered against a different protection domain or access mask.
	// Calling Register again with the same (pd, access) is a no-op, not an
	// error.
	ErrAlreadyRegistered = errors.New("rdma: buffer already registered")
	// ErrNotRegistered indicates LKey, RKey, or Descriptor was called before
	// Register.
	ErrNotRegistered = errors.New("rdma: buffer not registered")
)

// Errno re-exports the verbs errno type for consumers that need to branch on
// the underlying errno value (e.g. treating EAGAIN as non-fatal).
type Errno = verbs.Errno
