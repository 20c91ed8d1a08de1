package link

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leducp/kickcat/clock"
	"github.com/leducp/kickcat/protocol"
)

// buildReplyFrame constructs a single-datagram frame with the given
// master-assigned index and working counter already burned in, as if it
// had returned from the wire.
func buildReplyFrame(t *testing.T, cmd protocol.Command, index uint8, wkc uint16) []byte {
	t.Helper()
	f := protocol.NewFrame([6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF})
	viewIdx, err := f.AddDatagram(cmd, protocol.CreateAddress(0, 0), nil, 0)
	if err != nil {
		t.Fatalf("AddDatagram: %v", err)
	}
	f.SetIndex(viewIdx, index)
	buf, err := f.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	// WKC sits immediately after the (zero-length) payload.
	wkcOffset := protocol.EthernetHeaderLen + protocol.EtherCATHeaderLen + protocol.DatagramHeaderLen
	out := make([]byte, len(buf))
	copy(out, buf)
	wb := protocol.Hton16(wkc)
	out[wkcOffset] = wb[0]
	out[wkcOffset+1] = wb[1]
	return out
}

func newTestLink(nominal, redundant *fakeSocket) *Link {
	log := logrus.NewEntry(logrus.New())
	l := New(nominal, redundant, [6]byte{1, 2, 3, 4, 5, 6}, clock.NewMock(time.Unix(0, 0)), log)
	return l
}

func TestHealthyRedundancyNoDegradedCallback(t *testing.T) {
	nominal := &fakeSocket{}
	redundant := &fakeSocket{}
	l := newTestLink(nominal, redundant)
	if err := l.SetTimeout(10 * time.Millisecond); err != nil {
		t.Fatalf("SetTimeout: %v", err)
	}

	nominal.queue(buildReplyFrame(t, protocol.CmdBRD, 0, 1))
	redundant.queue(buildReplyFrame(t, protocol.CmdBRD, 0, 1))

	var gotWKC uint16
	completions := 0
	degraded := 0
	rec := &countingRecorder{onDegraded: func() { degraded++ }}
	l.SetRecorder(rec)

	if err := l.AddDatagram(protocol.CmdBRD, protocol.CreateAddress(0, 0), nil, func(_ protocol.DatagramHeader, _ []byte, wkc uint16) Result {
		completions++
		gotWKC = wkc
		return ResultOK
	}, nil); err != nil {
		t.Fatalf("AddDatagram: %v", err)
	}

	if err := l.ProcessDatagrams(); err != nil {
		t.Fatalf("ProcessDatagrams: %v", err)
	}
	if completions != 1 {
		t.Fatalf("completions = %d, want 1", completions)
	}
	if gotWKC != 1 {
		t.Errorf("wkc = %d, want 1", gotWKC)
	}
	if degraded != 0 {
		t.Errorf("degraded fired %d times, want 0", degraded)
	}
}

func TestDegradedRedundancyMergesWKCAndFiresOnce(t *testing.T) {
	nominal := &fakeSocket{}
	redundant := &fakeSocket{}
	l := newTestLink(nominal, redundant)
	if err := l.SetTimeout(10 * time.Millisecond); err != nil {
		t.Fatalf("SetTimeout: %v", err)
	}

	// CmdAPRW has ExpectedWKC 3; simulate a cable fault splitting the loop:
	// nominal sees 2, redundant sees 1.
	nominal.queue(buildReplyFrame(t, protocol.CmdAPRW, 0, 2))
	redundant.queue(buildReplyFrame(t, protocol.CmdAPRW, 0, 1))

	var gotWKC uint16
	completions := 0
	degraded := 0
	rec := &countingRecorder{onDegraded: func() { degraded++ }}
	l.SetRecorder(rec)

	if err := l.AddDatagram(protocol.CmdAPRW, protocol.CreateAddress(0, 0), nil, func(_ protocol.DatagramHeader, _ []byte, wkc uint16) Result {
		completions++
		gotWKC = wkc
		return ResultOK
	}, nil); err != nil {
		t.Fatalf("AddDatagram: %v", err)
	}

	if err := l.ProcessDatagrams(); err != nil {
		t.Fatalf("ProcessDatagrams: %v", err)
	}
	if completions != 1 {
		t.Fatalf("completions = %d, want 1", completions)
	}
	if gotWKC != 3 {
		t.Errorf("merged wkc = %d, want 3", gotWKC)
	}
	if degraded != 1 {
		t.Errorf("degraded fired %d times, want 1", degraded)
	}
}

func TestLostDatagramReportsErrorAndFreesSlot(t *testing.T) {
	nominal := &fakeSocket{}
	redundant := &fakeSocket{}
	l := newTestLink(nominal, redundant)
	mockClk := clock.NewMock(time.Unix(0, 0))
	l.clk = mockClk
	if err := l.SetTimeout(5 * time.Millisecond); err != nil {
		t.Fatalf("SetTimeout: %v", err)
	}

	var gotErr error
	if err := l.AddDatagram(protocol.CmdBRD, protocol.CreateAddress(0, 0), nil, func(_ protocol.DatagramHeader, _ []byte, _ uint16) Result {
		return ResultOK
	}, func(_ int, reason error) { gotErr = reason }); err != nil {
		t.Fatalf("AddDatagram: %v", err)
	}

	// ProcessDatagrams measures its deadline from Now() when called, so this
	// jump does not expire the slot by itself; nothing ever arrives, and the
	// poll loop's Sleep advances the mock clock past the 5ms deadline.
	mockClk.Advance(time.Hour)

	if err := l.ProcessDatagrams(); err != nil {
		t.Fatalf("ProcessDatagrams: %v", err)
	}
	if gotErr != ErrLost {
		t.Errorf("error callback reason = %v, want ErrLost", gotErr)
	}
	if l.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after timeout", l.Pending())
	}
	if l.slots[0].state != slotFree {
		t.Errorf("slot 0 state = %v, want slotFree", l.slots[0].state)
	}
}

type countingRecorder struct {
	onDegraded func()
}

func (c *countingRecorder) ObserveFramesSent(int)       {}
func (c *countingRecorder) ObserveDatagramLost()         {}
func (c *countingRecorder) ObserveRedundancyDegraded() {
	if c.onDegraded != nil {
		c.onDegraded()
	}
}
