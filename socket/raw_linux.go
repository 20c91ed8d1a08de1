//go:build linux

package socket

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/leducp/kickcat/kernelcaps"
)

// etherTypeEtherCAT is 0x88A4, duplicated here (rather than importing
// protocol, which would create an import cycle back into socket if
// protocol ever needed a socket) — see spec.md section 6.
const etherTypeEtherCAT = 0x88A4

// htons converts a 16-bit host value to network byte order, the way
// AF_PACKET's sockaddr_ll.sll_protocol field expects it. This mirrors the
// teacher's pkg/linux/tcpinfo.go approach of hand-rolling exactly the byte
// manipulation a raw syscall interface demands, rather than reaching for a
// general-purpose binary package for two bytes.
func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}

// Raw is a Socket backed by an AF_PACKET/SOCK_RAW file descriptor bound to
// the EtherCAT EtherType on a named interface — the raw packet socket
// referenced by spec.md section 1 as an out-of-scope external collaborator,
// given a concrete (if minimal) Linux implementation here so the module is
// runnable end-to-end rather than only against Null in tests.
type Raw struct {
	fd      int
	ifindex int
	caps    kernelcaps.Capabilities
}

// NewRaw constructs an unopened Raw socket. Call Open to bind it.
// Capability-gated speedups (PACKET_QDISC_BYPASS, SO_BUSY_POLL) are
// applied opportunistically at Open based on the running kernel's
// support; a kernel too old for any of them just runs without them.
func NewRaw() *Raw { return &Raw{fd: -1} }

func (r *Raw) Open(iface string) error {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(etherTypeEtherCAT)))
	if err != nil {
		return fmt.Errorf("socket: open raw AF_PACKET socket: %w", err)
	}

	ifi, err := unix.IfNameIndex()
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("socket: list interfaces: %w", err)
	}
	ifindex := -1
	for _, e := range ifi {
		if unix.ByteSliceToString(e.Name[:]) == iface {
			ifindex = int(e.Index)
			break
		}
	}
	if ifindex < 0 {
		unix.Close(fd)
		return fmt.Errorf("socket: interface %q not found", iface)
	}

	addr := unix.SockaddrLinklayer{
		Protocol: htons(etherTypeEtherCAT),
		Ifindex:  ifindex,
	}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return fmt.Errorf("socket: bind to %q: %w", iface, err)
	}

	r.fd = fd
	r.ifindex = ifindex

	if caps, err := kernelcaps.DetectHost(); err == nil {
		r.caps = caps
		r.applyCapabilities()
	}
	return nil
}

// applyCapabilities best-effort applies the socket options gated by
// kernelcaps.Capabilities. A setsockopt failure here (e.g. a container
// sandbox that denies it) is not fatal — the socket still works, just
// without the speedup.
func (r *Raw) applyCapabilities() {
	if r.caps.QDiscBypass {
		_ = unix.SetsockoptInt(r.fd, unix.SOL_PACKET, unix.PACKET_QDISC_BYPASS, 1)
	}
	if r.caps.BusyPoll {
		_ = unix.SetsockoptInt(r.fd, unix.SOL_SOCKET, unix.SO_BUSY_POLL, 50)
	}
}

func (r *Raw) SetTimeout(d time.Duration) error {
	if r.fd < 0 {
		return fmt.Errorf("socket: SetTimeout on unopened socket")
	}
	if d == 0 {
		// Non-blocking: a read with nothing pending fails with EAGAIN,
		// which Read reports as (0, nil).
		return unix.SetNonblock(r.fd, true)
	}
	if err := unix.SetNonblock(r.fd, false); err != nil {
		return fmt.Errorf("socket: SetTimeout: %w", err)
	}
	if d < 0 {
		// Block forever: clear any previously set receive timeout.
		tv := unix.Timeval{Sec: 0, Usec: 0}
		return unix.SetsockoptTimeval(r.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
	}
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return unix.SetsockoptTimeval(r.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
}

func (r *Raw) Read(buf []byte) (int, error) {
	if r.fd < 0 {
		return 0, fmt.Errorf("socket: Read on unopened socket")
	}
	n, err := unix.Read(r.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			// Non-blocking/timed-out read with nothing available is not a
			// transport failure — the Link polls for this.
			return 0, nil
		}
		return 0, fmt.Errorf("socket: read: %w", err)
	}
	return n, nil
}

func (r *Raw) Write(buf []byte) (int, error) {
	if r.fd < 0 {
		return 0, fmt.Errorf("socket: Write on unopened socket")
	}
	addr := unix.SockaddrLinklayer{
		Protocol: htons(etherTypeEtherCAT),
		Ifindex:  r.ifindex,
		Halen:    6,
	}
	copy(addr.Addr[:6], buf[0:6])
	if err := unix.Sendto(r.fd, buf, 0, &addr); err != nil {
		return 0, fmt.Errorf("socket: write: %w", err)
	}
	return len(buf), nil
}

func (r *Raw) Close() error {
	if r.fd < 0 {
		return nil
	}
	err := unix.Close(r.fd)
	r.fd = -1
	return err
}

var _ Socket = (*Raw)(nil)
