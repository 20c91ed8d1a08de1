// Package mailboxsrv implements the slave side of the mailbox dialog:
// given a raw incoming mailbox message, it produces the response bytes a
// real slave's ESC/CoE/FoE/EoE stack would. It exists to make the request
// side in package mailbox testable end-to-end without real hardware and to
// back the gateway's address-0 path (SPEC_FULL.md's supplemented feature 6
// and Non-goals: "not as a shippable slave stack").
package mailboxsrv

import (
	"github.com/sirupsen/logrus"

	"github.com/leducp/kickcat/protocol"
)

// Server is one slave's mailbox responder: an object dictionary for CoE
// SDO, a flat file store for FoE, and a single stored EoE IP configuration.
type Server struct {
	od map[uint16]map[uint8][]byte

	sendSize, recvSize uint16

	coe *coeTransfer
	foe *foeTransfer

	files map[string][]byte
	eoe   eoeConfig

	lastCounter  map[protocol.MailboxType]uint8
	lastResponse map[protocol.MailboxType][]byte

	log *logrus.Entry
}

// New builds a Server for a slave whose mailbox SyncManagers are sized
// sendSize (slave to master) and recvSize (master to slave).
func New(sendSize, recvSize uint16, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		od:           make(map[uint16]map[uint8][]byte),
		sendSize:     sendSize,
		recvSize:     recvSize,
		files:        make(map[string][]byte),
		lastCounter:  make(map[protocol.MailboxType]uint8),
		lastResponse: make(map[protocol.MailboxType][]byte),
		log:          log,
	}
}

// SetObject seeds the object dictionary entry index:subindex with data, as
// a test harness or the gateway's bring-up configuration would.
func (s *Server) SetObject(index uint16, subindex uint8, data []byte) {
	if s.od[index] == nil {
		s.od[index] = make(map[uint8][]byte)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.od[index][subindex] = cp
}

// Object reads back an object dictionary entry, for assertions in tests
// that drive a Download through Process.
func (s *Server) Object(index uint16, subindex uint8) ([]byte, bool) {
	sub, ok := s.od[index]
	if !ok {
		return nil, false
	}
	data, ok := sub[subindex]
	return data, ok
}

// SetFile seeds the FoE file store, as SetObject does for CoE.
func (s *Server) SetFile(name string, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.files[name] = cp
}

// File reads back the FoE file store, for assertions after a Write.
func (s *Server) File(name string) ([]byte, bool) {
	data, ok := s.files[name]
	return data, ok
}

// Reset clears all in-progress transfers and counter history, as happens
// when the slave's AL state machine cycles back through INIT: the mailbox
// counter discipline restarts fresh at 1 (spec.md section 4.D).
func (s *Server) Reset() {
	s.coe = nil
	s.foe = nil
	s.lastCounter = make(map[protocol.MailboxType]uint8)
	s.lastResponse = make(map[protocol.MailboxType][]byte)
}

// Process consumes one incoming mailbox message and returns the response
// bytes, or nil if the message needs no reply (malformed, or an
// unsupported mailbox type). A repeated request (same counter as the last
// one this type answered) is treated as a lost-response retry: the cached
// answer is resent without reprocessing, since CoE segment handling is not
// idempotent (re-running it would double-advance the transfer).
func (s *Server) Process(raw []byte) []byte {
	if len(raw) < protocol.MailboxHeaderLen {
		return nil
	}
	hdr := protocol.ParseMailboxHeader(raw)
	body := raw[protocol.MailboxHeaderLen:]

	if cached, ok := s.lastResponse[hdr.Type]; ok && hdr.Counter == s.lastCounter[hdr.Type] {
		return cached
	}

	var resp []byte
	switch hdr.Type {
	case protocol.MailboxTypeCoE:
		resp = s.handleCoE(body)
	case protocol.MailboxTypeFoE:
		resp = s.handleFoE(body)
	case protocol.MailboxTypeEoE:
		resp = s.handleEoE(body)
	default:
		s.log.WithField("type", hdr.Type).Debug("mailboxsrv: unsupported mailbox type")
		return nil
	}
	if resp == nil {
		return nil
	}

	setCounter(resp, hdr.Counter)
	s.lastCounter[hdr.Type] = hdr.Counter
	s.lastResponse[hdr.Type] = resp
	return resp
}

// setCounter patches the response's mailbox header to mirror the
// request's counter, so every handleX builder can stay ignorant of it.
func setCounter(resp []byte, counter uint8) {
	hdr := protocol.ParseMailboxHeader(resp)
	hdr.Counter = counter
	protocol.PutMailboxHeader(resp, hdr)
}
