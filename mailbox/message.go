package mailbox

import (
	"time"

	"github.com/rs/xid"

	"github.com/leducp/kickcat/protocol"
)

type msgKind uint8

const (
	kindSDO msgKind = iota
	kindFoERead
	kindFoEWrite
	kindEoESetIP
	kindEoEGetIP
)

type coePhase uint8

const (
	coePhaseInitiate coePhase = iota
	coePhaseSegment
)

type foePhase uint8

const (
	foePhaseStart foePhase = iota
	foePhaseTransfer
	foePhaseDone
)

// message is the shared internal representation behind every Handle. Only
// the fields relevant to msgKind are used by that kind's build/handle
// functions; this mirrors the teacher's tagged-struct style (one wire
// struct, several call sites each reading the fields that matter to them)
// rather than an interface-per-kind hierarchy, since a mailbox only ever
// has one message of a given kind in flight at a time.
type message struct {
	id      xid.ID
	kind    msgKind
	mbxType protocol.MailboxType

	counter          uint8
	status           Status
	abortCode        uint32
	timeout          time.Duration
	expiresAt        time.Time
	awaitingResponse bool

	// CoE SDO.
	index          uint16
	subindex       uint8
	direction      Direction
	completeAccess bool
	buffer         []byte
	cursor         int
	phase          coePhase
	toggle         uint8
	caCount        int     // Complete-Access emulation: entry count read from subindex 0
	caStep         uint8   // Complete-Access emulation: subindex this round targets (0, then 1..caCount)
	caScratch      [4]byte // holds the subindex-0 (entry count) response, kept out of the caller's buffer
	caScratchLen   int
	expectedSize   int
	capacity       int // usable data bytes per mailbox round-trip (derived from the owning Mailbox's send/receive size)

	// FoE.
	filename    string
	password    uint32
	foePhase    foePhase
	foePacket   uint16
	foeErrCode  uint16
	foeErrText  string

	// EoE Set-IP/Get-IP.
	eoeParams   uint16
	eoeMAC      [6]byte
	eoeIP       [4]byte
	eoeSubnet   [4]byte
	eoeGateway  [4]byte
	eoeDNS      [4]byte
	eoeDNSName  string
}

// activeSubindex returns the subindex this round of the SDO exchange
// targets: the caller's subindex for an ordinary transfer, or the
// Complete-Access emulation's current element (subindex 0 for the entry
// count, then 1..count).
func (m *message) activeSubindex() uint8 {
	if !m.completeAccess {
		return m.subindex
	}
	return m.caStep
}

func (m *message) payloadCapacity() int {
	return len(m.buffer) - m.cursor
}

// writeUploadData appends an upload response's data bytes to the right
// destination: the caller's buffer for an ordinary transfer or the
// Complete-Access emulation's final element, or a private scratch slot
// while reading the subindex-0 entry count the emulation never surfaces
// to the caller. Reports false if the destination is too small.
func (m *message) writeUploadData(data []byte) bool {
	if m.completeAccess && m.caStep == 0 {
		if len(data) > len(m.caScratch) {
			return false
		}
		copy(m.caScratch[:], data)
		m.caScratchLen = len(data)
		return true
	}
	if m.cursor+len(data) > len(m.buffer) {
		return false
	}
	copy(m.buffer[m.cursor:], data)
	m.cursor += len(data)
	return true
}

func mailboxTypeOf(kind msgKind) protocol.MailboxType {
	switch kind {
	case kindSDO:
		return protocol.MailboxTypeCoE
	case kindFoERead, kindFoEWrite:
		return protocol.MailboxTypeFoE
	case kindEoESetIP, kindEoEGetIP:
		return protocol.MailboxTypeEoE
	default:
		return protocol.MailboxTypeNone
	}
}
