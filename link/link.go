// Package link implements the in-flight datagram pool: frame dispatch,
// per-datagram completion callbacks, and redundant-cable fail-over
// (spec.md section 4.C). It is the only package that owns a Frame and a
// pair of Sockets; everything above it deals in slots and callbacks.
package link

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leducp/kickcat/clock"
	"github.com/leducp/kickcat/protocol"
	"github.com/leducp/kickcat/socket"
)

// slotCount is the number of master-assigned datagram indices (the index
// field is a single byte on the wire).
const slotCount = 256

// pollInterval paces ProcessDatagrams' and WriteThenRead's non-blocking
// poll loops between read attempts.
const pollInterval = 50 * time.Microsecond

// Result is what a completion callback reports back to the Link about a
// finished datagram.
type Result uint8

const (
	ResultOK Result = iota
	ResultInvalidWKC
	ResultTransportError
)

// CompletionFunc is invoked once a slot resolves (whether healthy or
// merged across both redundancy paths), with the final header, payload
// bytes and merged working counter.
type CompletionFunc func(header protocol.DatagramHeader, payload []byte, wkc uint16) Result

// ErrorFunc is invoked when a completion callback returns anything other
// than ResultOK, or when a slot is declared LOST at the end of
// ProcessDatagrams.
type ErrorFunc func(slotIndex int, reason error)

type slotState uint8

const (
	slotFree slotState = iota
	slotPending
	slotDone
)

type slot struct {
	state       slotState
	viewIdx     int
	expectedWKC uint16
	nominalWKC  uint16
	redundantWKC uint16
	gotNominal  bool
	gotRedundant bool
	header      protocol.DatagramHeader
	payload     []byte
	onComplete  CompletionFunc
	onError     ErrorFunc
}

// Recorder is the optional metrics sink a Link reports to. The metrics
// package implements it; tests and simple callers can leave it nil.
type Recorder interface {
	ObserveFramesSent(n int)
	ObserveDatagramLost()
	ObserveRedundancyDegraded()
}

// Link owns one outgoing Frame under construction, the nominal and
// redundant Sockets it is flushed to, and the 256-slot completion table.
// It is not safe for concurrent use — spec.md section 5's single-threaded
// cooperative model means one goroutine drives a Link at a time.
type Link struct {
	nominal   socket.Socket
	redundant socket.Socket
	frame     *protocol.Frame
	slots     [slotCount]slot
	nextIndex int
	pending   int
	timeout   time.Duration
	clk       clock.Clock
	log       *logrus.Entry
	recorder  Recorder
	degraded  bool

	// redundancyDisabled is true when redundant is a socket.Null — the
	// common single-NIC deployment (spec.md section 4.C: "pass socket.Null{}
	// as redundant when redundancy is disabled"). With no second cable
	// path, a slot resolves as soon as the nominal copy arrives: there is
	// nothing to merge it with, and the per-command expectedWKC constant
	// (a single slave's contribution, spec.md section 4.B) has no relation
	// to the total a broadcast or logical command addressing many slaves
	// actually returns, so it cannot gate completion here.
	redundancyDisabled bool
}

// New builds a Link over a nominal and redundant socket pair, both of
// which must already be Open. Pass socket.Null{} as redundant when
// redundancy is disabled.
func New(nominal, redundant socket.Socket, srcMAC [6]byte, clk clock.Clock, log *logrus.Entry) *Link {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	_, redundancyDisabled := redundant.(socket.Null)
	l := &Link{
		nominal:            nominal,
		redundant:          redundant,
		frame:              protocol.NewFrame(srcMAC),
		clk:                clk,
		log:                log,
		redundancyDisabled: redundancyDisabled,
	}
	return l
}

// SetRecorder attaches a metrics sink. Nil disables metrics reporting.
func (l *Link) SetRecorder(r Recorder) { l.recorder = r }

// SetTimeout sets the per-cycle receive deadline and propagates it to both
// sockets (spec.md section 4.B's convention: 0 is non-blocking/polling,
// negative blocks forever, positive is a deadline).
func (l *Link) SetTimeout(d time.Duration) error {
	l.timeout = d
	if err := l.nominal.SetTimeout(d); err != nil {
		return fmt.Errorf("link: set nominal timeout: %w", err)
	}
	if err := l.redundant.SetTimeout(d); err != nil {
		return fmt.Errorf("link: set redundant timeout: %w", err)
	}
	return nil
}

// AddDatagram reserves the next free slot, writes the datagram into the
// current outgoing frame (flushing it first if full), and registers the
// completion/error callbacks fired once the slot resolves.
func (l *Link) AddDatagram(cmd protocol.Command, address protocol.Address32, payload []byte, onComplete CompletionFunc, onError ErrorFunc) error {
	idx, err := l.allocSlot()
	if err != nil {
		return err
	}

	viewIdx, err := l.frame.AddDatagram(cmd, address, payload, 0)
	if err == protocol.ErrFrameFull {
		if ferr := l.flushFrame(); ferr != nil {
			return ferr
		}
		viewIdx, err = l.frame.AddDatagram(cmd, address, payload, 0)
	}
	if err != nil {
		return err
	}
	l.frame.SetIndex(viewIdx, uint8(idx))

	s := &l.slots[idx]
	*s = slot{
		state:       slotPending,
		viewIdx:     viewIdx,
		expectedWKC: protocol.ExpectedWKC(cmd),
		onComplete:  onComplete,
		onError:     onError,
	}
	l.pending++
	return nil
}

// allocSlot finds the next FREE slot starting at nextIndex, wrapping
// around the 256-entry table once.
func (l *Link) allocSlot() (int, error) {
	for i := 0; i < slotCount; i++ {
		idx := (l.nextIndex + i) % slotCount
		if l.slots[idx].state == slotFree {
			l.nextIndex = (idx + 1) % slotCount
			return idx, nil
		}
	}
	return 0, ErrTooManyInflight
}

func (l *Link) freeSlot(idx int) {
	l.slots[idx] = slot{state: slotFree}
}

// flushFrame finalizes and sends the current outgoing frame on both
// sockets if it carries any datagrams, then resets it for the next batch.
func (l *Link) flushFrame() error {
	if l.frame.DatagramCount() == 0 {
		return nil
	}
	buf, err := l.frame.Finalize()
	if err != nil {
		return fmt.Errorf("link: finalize frame: %w", err)
	}
	if _, err := l.nominal.Write(buf); err != nil {
		l.log.WithError(err).Warn("link: nominal write failed")
	}
	if _, err := l.redundant.Write(buf); err != nil {
		l.log.WithError(err).Warn("link: redundant write failed")
	}
	if l.recorder != nil {
		l.recorder.ObserveFramesSent(1)
	}
	l.frame.Reset()
	return nil
}

// ProcessDatagrams flushes any pending outgoing frame, then repeatedly
// reads both sockets until every pending slot is resolved or the deadline
// (set by SetTimeout) elapses. Slots still PENDING at the end are declared
// LOST. Every slot is FREE again once this returns.
func (l *Link) ProcessDatagrams() error {
	if err := l.flushFrame(); err != nil {
		return err
	}
	if l.pending == 0 {
		return nil
	}

	blockForever := l.timeout < 0
	deadline := l.clk.Now().Add(l.timeout)
	buf := make([]byte, protocol.EthernetMTU)

	for l.pending > 0 {
		if !blockForever && l.clk.Now().After(deadline) {
			break
		}
		l.recvOne(l.nominal, true, buf)
		if l.pending == 0 {
			break
		}
		l.recvOne(l.redundant, false, buf)
		if l.pending == 0 {
			break
		}
		// Non-blocking sockets return immediately with nothing available;
		// pace the poll instead of busy-spinning the CPU (and, for a mock
		// clock under test, advance time so the deadline is ever reached).
		l.clk.Sleep(pollInterval)
	}

	for i := 0; i < slotCount; i++ {
		s := &l.slots[i]
		if s.state == slotPending {
			if s.onError != nil {
				s.onError(i, ErrLost)
			}
			if l.recorder != nil {
				l.recorder.ObserveDatagramLost()
			}
			l.freeSlot(i)
			l.pending--
		}
	}
	return nil
}

func (l *Link) recvOne(sock socket.Socket, fromNominal bool, buf []byte) {
	n, err := sock.Read(buf)
	if err != nil {
		l.log.WithError(err).Debug("link: read failed")
		return
	}
	if n == 0 {
		return
	}
	datagrams, err := protocol.Parse(buf[:n])
	if err != nil {
		l.log.WithError(err).Warn("link: dropping unparseable frame")
		return
	}
	for _, d := range datagrams {
		l.handleDatagram(d, fromNominal)
	}
}

func (l *Link) handleDatagram(d protocol.ParsedDatagram, fromNominal bool) {
	idx := int(d.Header.Index)
	s := &l.slots[idx]
	if s.state != slotPending {
		return // stale index from a previous (already-resolved or timed-out) cycle
	}

	if fromNominal {
		s.nominalWKC = d.WKC
		s.gotNominal = true
	} else {
		s.redundantWKC = d.WKC
		s.gotRedundant = true
	}
	// Prefer the nominal copy's header/payload once it arrives; until then
	// keep whatever the redundant path supplied.
	if fromNominal || s.payload == nil {
		s.header = d.Header
		s.payload = d.Payload
	}

	l.tryResolve(idx)
}

// tryResolve completes a slot as soon as enough information has arrived to
// decide. With redundancy disabled there is only ever one path to wait on,
// so the nominal copy alone resolves it regardless of its WKC value (the
// caller, not the Link, knows what total that command should have
// produced). With redundancy enabled: either the nominal copy alone
// already carries the full expected WKC (healthy, non-degraded operation —
// both ports normally see a complete loop, spec.md section 4.C edge case
// 5), or both copies have arrived and their WKCs sum to the expected value
// (a cable fault split the loop, and the two partial counts merge back to
// the whole — section 4.C's "sum of observed WKCs equals the expected
// WKC").
func (l *Link) tryResolve(idx int) {
	s := &l.slots[idx]

	var finalWKC uint16
	degradedEpisode := false
	switch {
	case l.redundancyDisabled && s.gotNominal:
		finalWKC = s.nominalWKC
	case s.gotNominal && s.nominalWKC == s.expectedWKC:
		finalWKC = s.nominalWKC
	case s.gotNominal && s.gotRedundant:
		finalWKC = s.nominalWKC + s.redundantWKC
		if finalWKC == s.expectedWKC {
			degradedEpisode = true
		}
	default:
		return // still waiting on the other path
	}

	if degradedEpisode {
		if !l.degraded {
			l.degraded = true
			if l.recorder != nil {
				l.recorder.ObserveRedundancyDegraded()
			}
		}
	} else {
		l.degraded = false
	}

	s.state = slotDone
	l.pending--
	if s.onComplete != nil {
		result := s.onComplete(s.header, s.payload, finalWKC)
		if result != ResultOK && s.onError != nil {
			s.onError(idx, fmt.Errorf("link: datagram completed with result %d, wkc=%d expected=%d", result, finalWKC, s.expectedWKC))
		}
	}
	l.freeSlot(idx)
}

// WriteThenRead sends a fully-built frame and blocks for a single reply,
// used during bus discovery before the slot pool is in effective use
// (spec.md section 4.C).
func (l *Link) WriteThenRead(frame []byte, timeout time.Duration) ([]protocol.ParsedDatagram, error) {
	if err := l.SetTimeout(timeout); err != nil {
		return nil, err
	}
	if _, err := l.nominal.Write(frame); err != nil {
		return nil, fmt.Errorf("link: write: %w", err)
	}
	if _, err := l.redundant.Write(frame); err != nil {
		l.log.WithError(err).Debug("link: redundant write failed during WriteThenRead")
	}

	buf := make([]byte, protocol.EthernetMTU)
	if timeout < 0 {
		n, err := l.nominal.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("link: read: %w", err)
		}
		if n == 0 {
			return nil, ErrTimeout
		}
		return protocol.Parse(buf[:n])
	}

	deadline := l.clk.Now().Add(timeout)
	for !l.clk.Now().After(deadline) {
		n, err := l.nominal.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("link: read: %w", err)
		}
		if n > 0 {
			return protocol.Parse(buf[:n])
		}
		l.clk.Sleep(pollInterval)
	}
	return nil, ErrTimeout
}

// Pending reports how many slots are currently PENDING, mostly useful for
// diagnostics and tests.
func (l *Link) Pending() int { return l.pending }
