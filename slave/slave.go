package slave

import (
	"fmt"
	"io"

	"github.com/leducp/kickcat/mailbox"
)

// MailboxConfig is a slave's SII-declared mailbox SyncManager geometry
// (spec.md section 3 "Mailbox config"). Offsets and sizes live in the
// slave's local memory and must not overlap the process-data SyncManagers.
type MailboxConfig struct {
	RecvOffset uint16 // SM0: master -> slave
	RecvSize   uint16
	SendOffset uint16 // SM1: slave -> master
	SendSize   uint16
}

// ProcessDataRegion is one slave's window into the Bus's logical
// process-image, assigned during create_mapping (spec.md section 3 "PDO
// mapping"): a logical address, a byte size, and which process-data
// SyncManager it rides on.
type ProcessDataRegion struct {
	LogicalAddress uint32
	ByteSize       int
	SyncManagerIdx uint8
}

// ErrorCounters are the per-port link-quality counters an AL_STATUS poll
// or a diagnostics sweep reads back (ESC registers 0x0300-0x0308 class).
type ErrorCounters struct {
	InvalidFrame [4]uint8
	RxError      [4]uint8
	ForwardedRx  [4]uint8
	ECATProcUnit uint8
}

// Slave is the passive per-device record the Bus discovers, configures,
// and drives through the AL state machine (spec.md section 3 "Slave").
// It never synchronizes itself — it is mutated only by its owning Bus on
// one thread — and is never destroyed until Bus teardown.
type Slave struct {
	Address uint16 // station alias assigned during auto-increment probe

	SII      *SII
	DLStatus DLStatus
	Errors   ErrorCounters

	MailboxCfg MailboxConfig
	Mailbox    *mailbox.Mailbox

	Inputs  ProcessDataRegion
	Outputs ProcessDataRegion

	IsStaticMapping bool
}

// CountOpenPorts sums PL_port0..PL_port3 from the slave's DL status
// (spec.md section 4.F); used both for topology inference and to reject a
// slave with zero open ports as a Configuration error.
func (s *Slave) CountOpenPorts() int {
	return s.DLStatus.CountOpenPorts()
}

// Info summarizes a slave's identity and mailbox configuration, derived
// from its cached SII, for diagnostics and logging.
type Info struct {
	Address    uint16
	OrderName  string
	MailboxCfg MailboxConfig
	OpenPorts  int
}

// GetInfo reports a summary view of the slave for diagnostics (spec.md
// section 4.F "get_info").
func (s *Slave) GetInfo() Info {
	info := Info{
		Address:    s.Address,
		MailboxCfg: s.MailboxCfg,
		OpenPorts:  s.CountOpenPorts(),
	}
	if s.SII != nil {
		info.OrderName = s.SII.String(s.SII.General.OrderIdx)
	}
	return info
}

// GetPDOs reports the slave's SII-declared TxPDO and RxPDO descriptors
// (spec.md section 4.F "get_pdos"). Returns nil, nil if the slave's SII
// has not been read yet.
func (s *Slave) GetPDOs() (tx, rx []PDODescriptor) {
	if s.SII == nil {
		return nil, nil
	}
	return s.SII.TxPDOs, s.SII.RxPDOs
}

// String renders a human-readable diagnostics dump: open-port count, DL
// status port bits and error counters (AL status is not included), in the teacher's plain fmt.Fprintf reporting idiom
// (SPEC_FULL.md supplemented feature 3, grounded on original_source's
// Prints.cc).
func (s *Slave) String() string {
	return fmt.Sprintf(
		"slave %#04x: ports open=%d link=%v loop=%v com=%v errors(invalid=%v rx=%v fwd=%v ecat=%d)",
		s.Address, s.CountOpenPorts(), s.DLStatus.PLPort, s.DLStatus.LoopPort, s.DLStatus.ComPort,
		s.Errors.InvalidFrame, s.Errors.RxError, s.Errors.ForwardedRx, s.Errors.ECATProcUnit,
	)
}

// WriteDiagnostics writes s.String() to w, followed by a newline; a
// convenience for bus.(*Bus).DumpTopology's per-slave reporting.
func (s *Slave) WriteDiagnostics(w io.Writer) error {
	_, err := fmt.Fprintln(w, s.String())
	return err
}
