package socket

import "time"

// Null is a no-op Socket used when redundancy is disabled (the second link
// of a Link pair) or as a lightweight test double. Read always returns 0
// bytes, nil error; Write reports success of the full requested size
// without touching any wire, matching spec.md section 4.B exactly.
type Null struct{}

func (Null) Open(_ string) error { return nil }

func (Null) SetTimeout(_ time.Duration) error { return nil }

func (Null) Read(_ []byte) (int, error) { return 0, nil }

func (Null) Write(buf []byte) (int, error) { return len(buf), nil }

func (Null) Close() error { return nil }

var _ Socket = Null{}
