package link

import "errors"

// ErrTooManyInflight is returned by AddDatagram when all 256 master-assigned
// indices are already PENDING.
var ErrTooManyInflight = errors.New("link: too many datagrams in flight")

// ErrTimeout is returned by WriteThenRead when no reply arrives before the
// deadline.
var ErrTimeout = errors.New("link: timed out waiting for reply")

// ErrLost is passed to a slot's error callback when ProcessDatagrams ends
// with that slot still PENDING (no copy arrived on either socket in time).
var ErrLost = errors.New("link: datagram lost, no reply on either socket")
