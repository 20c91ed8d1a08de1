// Package bus orchestrates a chain of EtherCAT slaves over a link package
// Link: discovery, the AL state machine, PDO mapping, and cyclic process
// data exchange (spec.md section 4.G). It is the only package that knows
// how a Slave record, a Mailbox, and a Link compose into a running bus.
package bus

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leducp/kickcat/clock"
	"github.com/leducp/kickcat/link"
	"github.com/leducp/kickcat/protocol"
	"github.com/leducp/kickcat/slave"
)

// pollInterval paces WaitForState's polling loop between AL_STATUS
// re-reads, mirroring link.pollInterval's role in ProcessDatagrams.
const pollInterval = 1 * time.Millisecond

// Recorder is the metrics sink a Bus reports bus-level events to, beyond
// what it forwards straight through to the Link (spec.md's WKC-mismatch
// and mailbox-timeout counters, and the AL-state gauge). The metrics
// package's Collector implements both this and link.Recorder.
type Recorder interface {
	link.Recorder
	ObserveWKCMismatch()
	ObserveMailboxTimeout()
	SetALState(code uint8)
}

// Bus owns the discovered Slave records, the shared Link they are all
// reached through, and the logical process-image layout once mapped.
// Like Link, it is single-threaded cooperative — spec.md section 5 — and
// carries no internal locking.
type Bus struct {
	link *link.Link
	clk  clock.Clock
	log  *logrus.Entry

	slaves []*slave.Slave

	logicalImage []byte
	lrwAddress   uint32

	recorder Recorder

	// staticMapping holds station addresses set via WithStaticMapping,
	// applied to each slave.Slave's IsStaticMapping field as it is
	// discovered in Init.
	staticMapping map[uint16]bool
}

// Option configures optional Bus behavior at construction — the
// functional-options convention this module reaches for whenever a
// setting is genuinely optional, rather than adding it to every
// constructor's required parameter list.
type Option func(*Bus)

// WithStaticMapping marks the given station addresses as statically
// mapped (spec.md section 4.G step 7 "unless is_static_mapping is set"):
// CreateMapping skips their CoE 0x1C12/0x1C13 assignment read and relies
// on the slave's SII-declared PDOs alone. Addresses not yet discovered
// when New is called take effect once Init assigns them.
func WithStaticMapping(addresses ...uint16) Option {
	return func(b *Bus) {
		b.staticMapping = make(map[uint16]bool, len(addresses))
		for _, a := range addresses {
			b.staticMapping[a] = true
		}
	}
}

// New builds a Bus over an already-constructed Link. The Link's sockets
// must already be open; Bus does not own socket lifecycle.
func New(l *link.Link, clk clock.Clock, log *logrus.Entry, opts ...Option) *Bus {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	b := &Bus{link: l, clk: clk, log: log}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetRecorder attaches a metrics sink, and also wires it as the
// underlying Link's recorder so frame/datagram/redundancy metrics flow
// through the same collector (nil disables both).
func (b *Bus) SetRecorder(r Recorder) {
	b.recorder = r
	if r == nil {
		b.link.SetRecorder(nil)
	} else {
		b.link.SetRecorder(r)
	}
}

// Slaves returns the discovered slave records in chain order. The slice
// is owned by the Bus; callers must not retain it across a re-Init.
func (b *Bus) Slaves() []*slave.Slave { return b.slaves }

// Slave looks up a discovered slave by its assigned station address, or
// nil if none matches.
func (b *Bus) Slave(address uint16) *slave.Slave {
	for _, s := range b.slaves {
		if s.Address == address {
			return s
		}
	}
	return nil
}

func (b *Bus) fprd(address uint16, ado uint16, payload []byte, timeout time.Duration) ([]byte, uint16, error) {
	return b.targeted(protocol.CmdFPRD, address, ado, payload, timeout)
}

func (b *Bus) fpwr(address uint16, ado uint16, payload []byte, timeout time.Duration) ([]byte, uint16, error) {
	return b.targeted(protocol.CmdFPWR, address, ado, payload, timeout)
}

// autoIncrement issues a single auto-increment-addressed datagram (APRD/
// APWR) and blocks for its reply. adp is the position offset from the
// first slave on the chain (0 for the first, 0xFFFF for the second, ...).
func (b *Bus) autoIncrement(cmd protocol.Command, adp, ado uint16, payload []byte, timeout time.Duration) ([]byte, uint16, error) {
	return b.targeted(cmd, adp, ado, payload, timeout)
}

// targeted issues a single FPRD/FPWR (or, reused by autoIncrement, an
// APRD/APWR) datagram and blocks for its reply,
// used by discovery and the state machine where one register access at a
// time is clearer than batching (the cyclic path in cyclic.go batches
// instead, via AddDatagram/ProcessDatagrams directly).
func (b *Bus) targeted(cmd protocol.Command, address, ado uint16, payload []byte, timeout time.Duration) ([]byte, uint16, error) {
	addr := protocol.CreateAddress(address, ado)
	var result []byte
	var wkc uint16
	err := b.link.AddDatagram(cmd, addr, payload,
		func(_ protocol.DatagramHeader, p []byte, w uint16) link.Result {
			result = append([]byte(nil), p...)
			wkc = w
			return link.ResultOK
		},
		nil,
	)
	if err != nil {
		return nil, 0, err
	}
	if err := b.link.SetTimeout(timeout); err != nil {
		return nil, 0, err
	}
	if err := b.link.ProcessDatagrams(); err != nil {
		return nil, 0, err
	}
	return result, wkc, nil
}

// broadcastCount issues a BRD of the Type register; the returned WKC is
// the number of slaves on the chain (spec.md section 4.G step 2).
func (b *Bus) broadcastCount(timeout time.Duration) (int, error) {
	addr := protocol.CreateAddress(0, regType)
	var wkc uint16
	err := b.link.AddDatagram(protocol.CmdBRD, addr, []byte{0},
		func(_ protocol.DatagramHeader, _ []byte, w uint16) link.Result {
			wkc = w
			return link.ResultOK
		},
		nil,
	)
	if err != nil {
		return 0, err
	}
	if err := b.link.SetTimeout(timeout); err != nil {
		return 0, err
	}
	if err := b.link.ProcessDatagrams(); err != nil {
		return 0, err
	}
	return int(wkc), nil
}

// broadcastReset issues the BWR sequence that puts every slave into INIT
// and clears DL status (spec.md section 4.G step 1).
func (b *Bus) broadcastReset(timeout time.Duration) error {
	addr := protocol.CreateAddress(0, regALControl)
	if err := b.link.AddDatagram(protocol.CmdBWR, addr, []byte{byte(StateInit), 0}, nil, nil); err != nil {
		return err
	}
	dlAddr := protocol.CreateAddress(0, regDLStatus)
	if err := b.link.AddDatagram(protocol.CmdBWR, dlAddr, []byte{0, 0}, nil, nil); err != nil {
		return err
	}
	if err := b.link.SetTimeout(timeout); err != nil {
		return err
	}
	return b.link.ProcessDatagrams()
}

func (b *Bus) observeMailboxTimeout() {
	if b.recorder != nil {
		b.recorder.ObserveMailboxTimeout()
	}
}

func (b *Bus) observeWKCMismatch() {
	if b.recorder != nil {
		b.recorder.ObserveWKCMismatch()
	}
}

func (b *Bus) setALState(code uint8) {
	if b.recorder != nil {
		b.recorder.SetALState(code)
	}
}

func wkcMismatchErr(cmd protocol.Command, address uint16, got, want uint16) error {
	return fmt.Errorf("bus: %v to %#04x: wkc=%d, want %d", cmd, address, got, want)
}
