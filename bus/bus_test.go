package bus

import (
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leducp/kickcat/clock"
	"github.com/leducp/kickcat/link"
	"github.com/leducp/kickcat/socket"
)

// buildSII assembles a minimal TLV category blob: two SyncManagers (mailbox
// out/in), one RxPDO and one TxPDO each carrying a single 8-bit entry,
// terminated by the 0xFFFF sentinel (slave.ParseSII's layout).
func buildSII() []byte {
	var buf []byte
	appendSection := func(id uint16, content []byte) {
		hdr := make([]byte, 4)
		binary.LittleEndian.PutUint16(hdr[0:2], id)
		binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(content)/2))
		buf = append(buf, hdr...)
		buf = append(buf, content...)
	}

	sm := func(start, length uint16, typ uint8) []byte {
		e := make([]byte, 8)
		binary.LittleEndian.PutUint16(e[0:2], start)
		binary.LittleEndian.PutUint16(e[2:4], length)
		e[7] = typ
		return e
	}
	var smSection []byte
	smSection = append(smSection, sm(0x1000, 16, 1)...) // SM0 mailbox out
	smSection = append(smSection, sm(0x1080, 16, 2)...) // SM1 mailbox in
	appendSection(41, smSection)                        // siiCategorySyncManager

	pdo := func(index uint16, smIdx uint8, entryIndex uint16, bitLength uint8) []byte {
		hdr := make([]byte, 8)
		binary.LittleEndian.PutUint16(hdr[0:2], index)
		hdr[2] = 1 // one entry
		hdr[3] = smIdx
		entry := make([]byte, 8)
		binary.LittleEndian.PutUint16(entry[0:2], entryIndex)
		entry[5] = bitLength
		return append(hdr, entry...)
	}
	appendSection(51, pdo(0x1600, 2, 0x7000, 8)) // siiCategoryRxPDO, SM2 (outputs)
	appendSection(50, pdo(0x1A00, 3, 0x6000, 8)) // siiCategoryTxPDO, SM3 (inputs)

	buf = append(buf, 0xFF, 0xFF, 0, 0) // siiCategoryEnd terminator
	return buf
}

func newTestBus(t *testing.T, sim *busSim) (*Bus, *link.Link) {
	t.Helper()
	log := logrus.NewEntry(logrus.New())
	clk := clock.NewMock(time.Unix(0, 0))
	l := link.New(sim, socket.Null{}, [6]byte{1, 2, 3, 4, 5, 6}, clk, log)
	return New(l, clk, log), l
}

func twoSlaveSim() *busSim {
	sii := buildSII()
	return newBusSim(map[uint16]*slaveSim{
		firstStationAddress + 0: {dlStatus: 0x0010, alStatus: uint16(StateInit), sii: append([]byte(nil), sii...), mbxRecvOffset: 0x1000, mbxSendOffset: 0x1080},
		firstStationAddress + 1: {dlStatus: 0x0010, alStatus: uint16(StateInit), sii: append([]byte(nil), sii...), mbxRecvOffset: 0x1000, mbxSendOffset: 0x1080},
	})
}

func TestInitDiscoversSlavesAndReachesPreOp(t *testing.T) {
	sim := twoSlaveSim()
	b, _ := newTestBus(t, sim)

	if err := b.Init(10 * time.Millisecond); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if len(b.Slaves()) != 2 {
		t.Fatalf("len(Slaves()) = %d, want 2", len(b.Slaves()))
	}
	for i, s := range b.Slaves() {
		wantAddr := uint16(firstStationAddress + i)
		if s.Address != wantAddr {
			t.Errorf("slave %d address = %#04x, want %#04x", i, s.Address, wantAddr)
		}
		if s.CountOpenPorts() != 1 {
			t.Errorf("slave %d CountOpenPorts() = %d, want 1", i, s.CountOpenPorts())
		}
		if s.SII == nil || len(s.SII.SyncManagers) != 2 {
			t.Fatalf("slave %d SII not parsed with 2 sync managers: %+v", i, s.SII)
		}
		if s.Mailbox == nil {
			t.Errorf("slave %d Mailbox not constructed", i)
		}
		got, err := b.GetCurrentState(s.Address, time.Millisecond)
		if err != nil {
			t.Fatalf("GetCurrentState: %v", err)
		}
		if got.Base() != StatePreOp {
			t.Errorf("slave %d state = %v, want PRE-OP", i, got)
		}
	}
}

func TestInitFailsWithNoSlavesOnBus(t *testing.T) {
	sim := newBusSim(map[uint16]*slaveSim{})
	b, _ := newTestBus(t, sim)

	err := b.Init(time.Millisecond)
	if err == nil {
		t.Fatal("Init: want error with zero slaves responding, got nil")
	}
	var cfgErr *ConfigurationError
	if !asConfigurationError(err, &cfgErr) {
		t.Fatalf("Init error = %v (%T), want *ConfigurationError", err, err)
	}
}

func asConfigurationError(err error, target **ConfigurationError) bool {
	ce, ok := err.(*ConfigurationError)
	if ok {
		*target = ce
	}
	return ok
}

func TestRequestStateAndWaitForState(t *testing.T) {
	sim := twoSlaveSim()
	b, _ := newTestBus(t, sim)
	if err := b.Init(10 * time.Millisecond); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := b.RequestState(StateSafeOp); err != nil {
		t.Fatalf("RequestState: %v", err)
	}
	polls := 0
	if err := b.WaitForState(StateSafeOp, 10*time.Millisecond, func() { polls++ }); err != nil {
		t.Fatalf("WaitForState: %v", err)
	}
	for _, s := range b.Slaves() {
		got, err := b.GetCurrentState(s.Address, time.Millisecond)
		if err != nil {
			t.Fatalf("GetCurrentState: %v", err)
		}
		if got != StateSafeOp {
			t.Errorf("slave %#04x state = %v, want SAFE-OP", s.Address, got)
		}
	}
}

func TestWaitForStateTimesOutWhenSlaveNeverTransitions(t *testing.T) {
	sim := twoSlaveSim()
	b, _ := newTestBus(t, sim)
	if err := b.Init(10 * time.Millisecond); err != nil {
		t.Fatalf("Init: %v", err)
	}
	// Wait for OP without requesting it, so the simulated slaves stay in PRE-OP.
	err := b.WaitForState(StateOp, 5*time.Millisecond, nil)
	if err == nil {
		t.Fatal("WaitForState: want timeout error, got nil")
	}
	if _, ok := err.(*TimeoutError); !ok {
		t.Fatalf("WaitForState error = %v (%T), want *TimeoutError", err, err)
	}
}

func TestWaitForStateSurfacesALStatusError(t *testing.T) {
	sim := twoSlaveSim()
	b, _ := newTestBus(t, sim)
	if err := b.Init(10 * time.Millisecond); err != nil {
		t.Fatalf("Init: %v", err)
	}
	firstAddr := b.Slaves()[0].Address
	sim.slaves[firstAddr].alStatus = uint16(StatePreOp | ErrorAck)

	err := b.WaitForState(StateSafeOp, 5*time.Millisecond, nil)
	alErr, ok := err.(*ALStatusError)
	if !ok {
		t.Fatalf("WaitForState error = %v (%T), want *ALStatusError", err, err)
	}
	if alErr.SlaveAddress != firstAddr {
		t.Errorf("ALStatusError.SlaveAddress = %#04x, want %#04x", alErr.SlaveAddress, firstAddr)
	}
}

func TestAcknowledgeError(t *testing.T) {
	sim := twoSlaveSim()
	b, _ := newTestBus(t, sim)
	if err := b.Init(10 * time.Millisecond); err != nil {
		t.Fatalf("Init: %v", err)
	}
	addr := b.Slaves()[0].Address
	sim.slaves[addr].alStatus = uint16(StatePreOp | ErrorAck)

	if err := b.AcknowledgeError(addr, StatePreOp, time.Millisecond); err != nil {
		t.Fatalf("AcknowledgeError: %v", err)
	}
	got, err := b.GetCurrentState(addr, time.Millisecond)
	if err != nil {
		t.Fatalf("GetCurrentState: %v", err)
	}
	if got.HasError() {
		t.Errorf("state %v still reports HasError after AcknowledgeError", got)
	}
}

func TestCreateMappingStaticAssignsDisjointLogicalRegions(t *testing.T) {
	sim := twoSlaveSim()
	b, _ := newTestBus(t, sim)
	if err := b.Init(10 * time.Millisecond); err != nil {
		t.Fatalf("Init: %v", err)
	}
	for _, s := range b.Slaves() {
		s.IsStaticMapping = true // skip the CoE assignment read; SII PDOs alone size the mapping
	}

	image := make([]byte, 16)
	if err := b.CreateMapping(image); err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}

	slaves := b.Slaves()
	if slaves[0].Outputs.LogicalAddress != 0 || slaves[0].Outputs.ByteSize != 1 {
		t.Errorf("slave0 Outputs = %+v, want {0 1 ...}", slaves[0].Outputs)
	}
	if slaves[0].Inputs.LogicalAddress != 1 || slaves[0].Inputs.ByteSize != 1 {
		t.Errorf("slave0 Inputs = %+v, want {1 1 ...}", slaves[0].Inputs)
	}
	if slaves[1].Outputs.LogicalAddress != 2 {
		t.Errorf("slave1 Outputs.LogicalAddress = %d, want 2", slaves[1].Outputs.LogicalAddress)
	}
	if slaves[1].Inputs.LogicalAddress != 3 {
		t.Errorf("slave1 Inputs.LogicalAddress = %d, want 3", slaves[1].Inputs.LogicalAddress)
	}
}

func TestCreateMappingRejectsImageTooSmall(t *testing.T) {
	sim := twoSlaveSim()
	b, _ := newTestBus(t, sim)
	if err := b.Init(10 * time.Millisecond); err != nil {
		t.Fatalf("Init: %v", err)
	}
	for _, s := range b.Slaves() {
		s.IsStaticMapping = true
	}
	err := b.CreateMapping(make([]byte, 1)) // needs 4 bytes (2 slaves x 1 in + 1 out)
	if err == nil {
		t.Fatal("CreateMapping: want error for undersized image, got nil")
	}
	if _, ok := err.(*ConfigurationError); !ok {
		t.Fatalf("CreateMapping error = %v (%T), want *ConfigurationError", err, err)
	}
}

func TestExpectedCyclicWKC(t *testing.T) {
	sim := twoSlaveSim()
	b, _ := newTestBus(t, sim)
	if err := b.Init(10 * time.Millisecond); err != nil {
		t.Fatalf("Init: %v", err)
	}
	for _, s := range b.Slaves() {
		s.IsStaticMapping = true
	}
	if err := b.CreateMapping(make([]byte, 16)); err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}
	// 2 slaves, each with inputs (1) and outputs (2): (1+2)*2 = 6.
	if got := b.expectedCyclicWKC(); got != 6 {
		t.Errorf("expectedCyclicWKC() = %d, want 6", got)
	}
}

func TestCyclicExchangeRoundTrip(t *testing.T) {
	sim := twoSlaveSim()
	b, _ := newTestBus(t, sim)
	sim.bus = b
	if err := b.Init(10 * time.Millisecond); err != nil {
		t.Fatalf("Init: %v", err)
	}
	for _, s := range b.Slaves() {
		s.IsStaticMapping = true
	}
	image := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	if err := b.CreateMapping(image); err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}
	sim.logicalImage = make([]byte, len(image))

	var gotErr error
	if err := b.ProcessDataWrite(func(err error) { gotErr = err }); err != nil {
		t.Fatalf("ProcessDataWrite: %v", err)
	}
	if err := b.ProcessDataRead(func(err error) { gotErr = err }); err != nil {
		t.Fatalf("ProcessDataRead: %v", err)
	}
	if gotErr != nil {
		t.Fatalf("cyclic exchange reported error: %v", gotErr)
	}
	for i, want := range image {
		if sim.logicalImage[i] != want {
			t.Errorf("sim.logicalImage[%d] = %#02x, want %#02x", i, sim.logicalImage[i], want)
		}
	}
}

func TestCyclicExchangeWKCMismatchObservedAndReported(t *testing.T) {
	sim := twoSlaveSim()
	b, _ := newTestBus(t, sim)
	sim.bus = b
	if err := b.Init(10 * time.Millisecond); err != nil {
		t.Fatalf("Init: %v", err)
	}
	for _, s := range b.Slaves() {
		s.IsStaticMapping = true
	}
	image := make([]byte, 4)
	if err := b.CreateMapping(image); err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}
	sim.logicalImage = make([]byte, len(image))
	wrong := uint16(1)
	sim.logicalWKCOverride = &wrong

	rec := newCountingRecorder()
	b.SetRecorder(rec)

	var gotErr error
	if err := b.ProcessDataWrite(func(err error) { gotErr = err }); err != nil {
		t.Fatalf("ProcessDataWrite: %v", err)
	}
	if err := b.ProcessDataRead(nil); err != nil {
		t.Fatalf("ProcessDataRead: %v", err)
	}
	if gotErr == nil {
		t.Fatal("want a WKC-mismatch error from ProcessDataWrite's completion callback, got nil")
	}
	if rec.wkcMismatches != 1 {
		t.Errorf("recorder.wkcMismatches = %d, want 1", rec.wkcMismatches)
	}
}

func TestProcessAwaitingFramesNoTrafficIsANoop(t *testing.T) {
	sim := twoSlaveSim()
	b, _ := newTestBus(t, sim)
	if err := b.Init(10 * time.Millisecond); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := b.ProcessAwaitingFrames(); err != nil {
		t.Fatalf("ProcessAwaitingFrames: %v", err)
	}
}

func TestHelpersInitToOperational(t *testing.T) {
	sim := twoSlaveSim()
	log := logrus.NewEntry(logrus.New())
	clk := clock.NewMock(time.Unix(0, 0))
	l := link.New(sim, socket.Null{}, [6]byte{1, 2, 3, 4, 5, 6}, clk, log)
	b := New(l, clk, log, WithStaticMapping(firstStationAddress+0, firstStationAddress+1))
	sim.bus = b
	h := NewHelpers(b)
	image := make([]byte, 16)

	if err := h.InitToOperational(image, 10*time.Millisecond); err != nil {
		t.Fatalf("InitToOperational: %v", err)
	}
	for _, s := range b.Slaves() {
		got, err := b.GetCurrentState(s.Address, time.Millisecond)
		if err != nil {
			t.Fatalf("GetCurrentState: %v", err)
		}
		if got != StateOp {
			t.Errorf("slave %#04x state = %v, want OP", s.Address, got)
		}
	}
}

func TestHelpersResetToInit(t *testing.T) {
	sim := twoSlaveSim()
	b, _ := newTestBus(t, sim)
	if err := b.Init(10 * time.Millisecond); err != nil {
		t.Fatalf("Init: %v", err)
	}
	h := NewHelpers(b)
	if err := h.ResetToInit(5 * time.Millisecond); err != nil {
		t.Fatalf("ResetToInit: %v", err)
	}
	for _, s := range b.Slaves() {
		got, err := b.GetCurrentState(s.Address, time.Millisecond)
		if err != nil {
			t.Fatalf("GetCurrentState: %v", err)
		}
		if got != StateInit {
			t.Errorf("slave %#04x state = %v, want INIT", s.Address, got)
		}
	}
}

func TestDumpTopologyWritesEverySlave(t *testing.T) {
	sim := twoSlaveSim()
	b, _ := newTestBus(t, sim)
	if err := b.Init(10 * time.Millisecond); err != nil {
		t.Fatalf("Init: %v", err)
	}
	var out strings.Builder
	if err := b.DumpTopology(&out); err != nil {
		t.Fatalf("DumpTopology: %v", err)
	}
	for _, s := range b.Slaves() {
		if !strings.Contains(out.String(), s.String()) {
			t.Errorf("DumpTopology output missing slave %#04x diagnostics", s.Address)
		}
	}
}

func TestWithStaticMappingAppliesToDiscoveredSlaves(t *testing.T) {
	sim := twoSlaveSim()
	log := logrus.NewEntry(logrus.New())
	clk := clock.NewMock(time.Unix(0, 0))
	l := link.New(sim, socket.Null{}, [6]byte{1, 2, 3, 4, 5, 6}, clk, log)
	b := New(l, clk, log, WithStaticMapping(firstStationAddress+1))

	if err := b.Init(10 * time.Millisecond); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if b.Slaves()[0].IsStaticMapping {
		t.Error("slave0 IsStaticMapping = true, want false")
	}
	if !b.Slaves()[1].IsStaticMapping {
		t.Error("slave1 IsStaticMapping = false, want true")
	}
}

// countingRecorder is a minimal Recorder double, mirroring link's
// countingRecorder test helper.
type countingRecorder struct {
	wkcMismatches   int
	mailboxTimeouts int
	alState         uint8
}

func newCountingRecorder() *countingRecorder { return &countingRecorder{} }

func (r *countingRecorder) ObserveFramesSent(int)       {}
func (r *countingRecorder) ObserveDatagramLost()        {}
func (r *countingRecorder) ObserveRedundancyDegraded()  {}
func (r *countingRecorder) ObserveWKCMismatch()         { r.wkcMismatches++ }
func (r *countingRecorder) ObserveMailboxTimeout()      { r.mailboxTimeouts++ }
func (r *countingRecorder) SetALState(code uint8)       { r.alState = code }
