// Package socket provides the byte-level send/recv capability the Link
// consumes, as an interface rather than a class hierarchy (spec.md section
// 9 "Polymorphism over sockets"): {open, read, write, close, set_timeout}.
// The core never calls a syscall directly; it only ever holds a Socket.
package socket

import "time"

// Socket is the capability record the Link depends on. Two implementations
// ship with this module: Raw (AF_PACKET, Linux-only) and Null (a no-op used
// when redundancy is disabled, or as a test double).
//
// Timeout convention: SetTimeout(0) means non-blocking with polling reads;
// SetTimeout(negative) means block indefinitely; SetTimeout(positive) sets
// a read deadline of that duration. This mirrors spec.md section 4.B
// exactly and section 5's "negative timeout means block forever, never
// used above the socket layer".
type Socket interface {
	// Open binds the socket to the named network interface.
	Open(iface string) error

	// SetTimeout configures the read deadline per the convention above.
	SetTimeout(d time.Duration) error

	// Read reads one frame's worth of bytes into buf, returning the number
	// of bytes read. A timeout with no data available returns (0, nil) for
	// non-blocking sockets so callers can poll without treating it as an
	// error (an empty read is not an I/O failure).
	Read(buf []byte) (int, error)

	// Write sends buf as a single frame.
	Write(buf []byte) (int, error)

	// Close releases the underlying file descriptor. Safe to call more
	// than once.
	Close() error
}
