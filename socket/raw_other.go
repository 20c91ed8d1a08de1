//go:build !linux

package socket

import (
	"fmt"
	"time"
)

// Raw is the non-Linux stand-in: AF_PACKET is Linux-specific, so on other
// platforms Raw.Open always fails with a clear error rather than letting a
// cross-compiled binary silently fall back to Null. Use Null explicitly in
// tests on these platforms.
type Raw struct{}

// NewRaw returns an unopened Raw socket that will fail to Open.
func NewRaw() *Raw { return &Raw{} }

func (r *Raw) Open(iface string) error {
	return fmt.Errorf("socket: raw AF_PACKET sockets are only supported on linux (requested interface %q)", iface)
}

func (r *Raw) SetTimeout(_ time.Duration) error {
	return fmt.Errorf("socket: Raw unsupported on this platform")
}

func (r *Raw) Read(_ []byte) (int, error) {
	return 0, fmt.Errorf("socket: Raw unsupported on this platform")
}

func (r *Raw) Write(_ []byte) (int, error) {
	return 0, fmt.Errorf("socket: Raw unsupported on this platform")
}

func (r *Raw) Close() error { return nil }

var _ Socket = (*Raw)(nil)
