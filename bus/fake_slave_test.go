package bus

import (
	"time"

	"github.com/leducp/kickcat/protocol"
)

// slaveSim is one simulated slave's register file, keyed by the station
// (or auto-increment) address the Bus addresses it with during a test.
type slaveSim struct {
	dlStatus   uint16
	alStatus   uint16
	sii        []byte
	siiWordPtr uint16

	mbxRecvOffset uint16
	mbxSendOffset uint16
	mailboxRecv   []byte // last bytes FPWR'd to the mailbox-out SyncManager
	mailboxSend   []byte // queued for the next FPRD of the mailbox-in SyncManager; consumed once
}

// busSim is a socket.Socket test double that plays slave to whatever the
// Bus under test writes: it walks the outgoing frame datagram-by-datagram
// and patches payload/WKC in place, exactly as a real slave chain would,
// then queues the result for the next Read. It intentionally only
// understands the registers this package's bus.go/discovery.go/state.go/
// mapping.go/cyclic.go actually issue.
type busSim struct {
	slaves map[uint16]*slaveSim // keyed by assigned station address
	nextAutoIncr uint16         // how many auto-increment probes have been answered

	// bus, set by the test right after construction, lets serviceLogical
	// answer with the Bus's own expected cyclic WKC rather than duplicating
	// that arithmetic here; logicalWKCOverride lets a test deliberately
	// desync from it to exercise the mismatch path.
	bus                *Bus
	logicalImage       []byte
	logicalWKCOverride *uint16

	toRead  [][]byte
	readPos int
}

func newBusSim(slaves map[uint16]*slaveSim) *busSim {
	return &busSim{slaves: slaves}
}

func (s *busSim) Open(_ string) error            { return nil }
func (s *busSim) SetTimeout(_ time.Duration) error { return nil }
func (s *busSim) Close() error                   { return nil }

func (s *busSim) Read(buf []byte) (int, error) {
	if s.readPos >= len(s.toRead) {
		return 0, nil
	}
	n := copy(buf, s.toRead[s.readPos])
	s.readPos++
	return n, nil
}

func (s *busSim) Write(buf []byte) (int, error) {
	reply := make([]byte, len(buf))
	copy(reply, buf)

	header := protocol.Uint16(reply[protocol.EthernetHeaderLen : protocol.EthernetHeaderLen+2])
	declaredLen := int(header & 0x7FF)
	end := protocol.EthernetHeaderLen + protocol.EtherCATHeaderLen + declaredLen
	cursor := protocol.EthernetHeaderLen + protocol.EtherCATHeaderLen

	for cursor < end {
		cmd := protocol.Command(reply[cursor])
		addrBytes := [4]byte{reply[cursor+2], reply[cursor+3], reply[cursor+4], reply[cursor+5]}
		addr := protocol.Address32(protocol.Ntoh32(addrBytes))
		lenFlags := protocol.Uint16(reply[cursor+6 : cursor+8])
		length := int(lenFlags & 0x7FF)

		payloadOff := cursor + protocol.DatagramHeaderLen
		payload := reply[payloadOff : payloadOff+length]
		wkcOff := payloadOff + length

		wkc := s.service(cmd, addr, payload)
		wb := protocol.Hton16(wkc)
		reply[wkcOff] = wb[0]
		reply[wkcOff+1] = wb[1]

		cursor = wkcOff + protocol.WKCLen
	}

	s.toRead = append(s.toRead, reply)
	return len(buf), nil
}

// service mutates payload in place (for reads) and returns the WKC this
// simulated chain contributes for the datagram.
func (s *busSim) service(cmd protocol.Command, addr protocol.Address32, payload []byte) uint16 {
	adp, ado := protocol.ExtractAddress(addr)

	switch {
	case cmd.IsBroadcast():
		return s.serviceBroadcast(ado, payload)
	case cmd.IsAutoIncrement():
		return s.serviceAutoIncrement(ado, payload)
	case cmd.IsLogical():
		return s.serviceLogical(uint32(addr), payload)
	default:
		return s.serviceTargeted(adp, ado, payload, cmd)
	}
}

func (s *busSim) serviceBroadcast(ado uint16, payload []byte) uint16 {
	switch ado {
	case regType:
		return uint16(len(s.slaves))
	case regALControl:
		state := payload[0]
		for _, sl := range s.slaves {
			sl.alStatus = uint16(state)
		}
		return uint16(len(s.slaves))
	case regDLStatus:
		return uint16(len(s.slaves))
	default:
		return uint16(len(s.slaves))
	}
}

// serviceAutoIncrement only ever sees the APWR station-address-assignment
// probe during discovery (spec.md section 4.G step 3): the Nth probe
// (auto-increment position counter reaching zero at the Nth undiscovered
// slave) assigns that slave's final station address.
func (s *busSim) serviceAutoIncrement(ado uint16, payload []byte) uint16 {
	if ado != regStationAddr {
		return 0
	}
	assigned := uint16(payload[0]) | uint16(payload[1])<<8
	if _, ok := s.slaves[assigned]; !ok {
		return 0
	}
	s.nextAutoIncr++
	return 1
}

func (s *busSim) serviceTargeted(adp, ado uint16, payload []byte, cmd protocol.Command) uint16 {
	sl, ok := s.slaves[adp]
	if !ok {
		return 0
	}
	switch ado {
	case regDLStatus:
		protocol.PutUint16(payload, sl.dlStatus)
		return 1
	case regALStatus:
		protocol.PutUint16(payload, sl.alStatus)
		return 1
	case regALStatusCode:
		protocol.PutUint16(payload, 0)
		return 1
	case regALControl:
		if cmd == protocol.CmdFPWR {
			sl.alStatus = uint16(payload[0])
		}
		return 1
	case regSIIAddress:
		sl.siiWordPtr = uint16(payload[0]) | uint16(payload[1])<<8
		return 1
	case regSIIReadControl: // == regSIIBusyStatus
		if cmd == protocol.CmdFPWR {
			return 1 // trigger accepted
		}
		protocol.PutUint16(payload, 0) // never busy
		return 1
	case regSIIReadData:
		off := int(sl.siiWordPtr) * 2
		if off+siiChunkBytes > len(sl.sii) {
			return 0 // EEPROM exhausted; readSII stops here
		}
		copy(payload, sl.sii[off:off+siiChunkBytes])
		return 1
	default:
		if ado == smRegister(0) || ado == smRegister(1) {
			return 1 // SyncManager config accepted
		}
		if ado == fmmuRegister(0) || ado == fmmuRegister(1) {
			return 1 // FMMU config accepted
		}
		if ado == sl.mailboxRecvOffset() {
			sl.mailboxRecv = append([]byte(nil), payload...)
			return 1
		}
		if ado == sl.mailboxSendOffset() {
			if sl.mailboxSend == nil {
				return 0
			}
			copy(payload, sl.mailboxSend)
			sl.mailboxSend = nil
			return 1
		}
		return 0
	}
}

func (sl *slaveSim) mailboxRecvOffset() uint16 { return sl.mbxRecvOffset }
func (sl *slaveSim) mailboxSendOffset() uint16 { return sl.mbxSendOffset }

func (s *busSim) serviceLogical(address uint32, payload []byte) uint16 {
	if s.logicalImage == nil {
		return 0
	}
	if int(address)+len(payload) > len(s.logicalImage) {
		return 0
	}
	region := s.logicalImage[address : int(address)+len(payload)]
	copy(region, payload) // write half: master's bytes land in the image
	copy(payload, region) // read half: echo back whatever the image now holds
	if s.logicalWKCOverride != nil {
		return *s.logicalWKCOverride
	}
	if s.bus != nil {
		return s.bus.expectedCyclicWKC()
	}
	return uint16(len(s.slaves))
}
