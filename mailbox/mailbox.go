package mailbox

import (
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/leducp/kickcat/clock"
	"github.com/leducp/kickcat/protocol"
)

// serviceOrder fixes the priority Send() checks the three independent
// per-type queues in; CoE configuration traffic is served ahead of the
// bulk FoE/EoE traffic a slave is less likely to be waiting on urgently.
var serviceOrder = [3]protocol.MailboxType{
	protocol.MailboxTypeCoE,
	protocol.MailboxTypeFoE,
	protocol.MailboxTypeEoE,
}

// Mailbox is the master side of one slave's acyclic request/response
// dialog (spec.md section 4.D). It owns nothing of the wire transport —
// Send returns bytes for the caller (the Bus) to write via the Link's
// mailbox-addressed datagram, and Receive is fed whatever came back.
type Mailbox struct {
	stationAddress uint16
	sendSize       uint16
	recvSize       uint16
	sendOffset     uint16
	recvOffset     uint16

	counter uint8
	queues  map[protocol.MailboxType][]*message
	current map[protocol.MailboxType]*message

	clk clock.Clock
	log *logrus.Entry
}

// New builds a Mailbox for one slave's configured SyncManager mailbox
// parameters.
func New(stationAddress, sendSize, recvSize, sendOffset, recvOffset uint16, clk clock.Clock, log *logrus.Entry) *Mailbox {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Mailbox{
		stationAddress: stationAddress,
		sendSize:       sendSize,
		recvSize:       recvSize,
		sendOffset:     sendOffset,
		recvOffset:     recvOffset,
		queues:         make(map[protocol.MailboxType][]*message),
		current:        make(map[protocol.MailboxType]*message),
		clk:            clk,
		log:            log,
	}
}

// dataCapacity is the usable payload budget per round, after the fixed
// mailbox header and (for CoE) the CoE header.
func (mb *Mailbox) dataCapacity(overhead int) int {
	budget := int(mb.sendSize) - protocol.MailboxHeaderLen - overhead
	if budget < 0 {
		return 0
	}
	return budget
}

func (mb *Mailbox) enqueue(msg *message, timeout time.Duration) *Handle {
	msg.id = xid.New()
	msg.timeout = timeout
	msg.status = StatusRunning
	mb.queues[msg.mbxType] = append(mb.queues[msg.mbxType], msg)
	return &Handle{id: msg.id, msg: msg}
}

// CreateSDO constructs a CoE SDO exchange (expedited, normal, or segmented,
// chosen automatically by payload size) and enqueues it. buffer is read
// from for a Download and written into for an Upload; *size reports how
// many bytes were actually transferred once the handle's status leaves
// StatusRunning. completeAccess requests the emulated Complete-Access
// sequence (subindex 0 for the entry count, then 1..count) and is only
// supported for Upload.
func (mb *Mailbox) CreateSDO(index uint16, subindex uint8, completeAccess bool, direction Direction, buffer []byte, timeout time.Duration) (*Handle, error) {
	if completeAccess && direction == Download {
		return nil, fmt.Errorf("mailbox: Complete-Access emulation only supports Upload")
	}
	msg := &message{
		kind:           kindSDO,
		mbxType:        protocol.MailboxTypeCoE,
		index:          index,
		subindex:       subindex,
		completeAccess: completeAccess,
		direction:      direction,
		buffer:         buffer,
		capacity:       mb.dataCapacity(protocol.CoEHeaderLen + 8),
	}
	return mb.enqueue(msg, timeout), nil
}

// CreateReadFile constructs an FoE read of filename into buffer, using
// password (0 if unauthenticated).
func (mb *Mailbox) CreateReadFile(filename string, password uint32, buffer []byte, timeout time.Duration) *Handle {
	msg := &message{
		kind:     kindFoERead,
		mbxType:  protocol.MailboxTypeFoE,
		filename: filename,
		password: password,
		buffer:   buffer,
		capacity: mb.dataCapacity(6),
	}
	return mb.enqueue(msg, timeout)
}

// CreateWriteFile constructs an FoE write of data to filename.
func (mb *Mailbox) CreateWriteFile(filename string, password uint32, data []byte, timeout time.Duration) *Handle {
	msg := &message{
		kind:     kindFoEWrite,
		mbxType:  protocol.MailboxTypeFoE,
		filename: filename,
		password: password,
		buffer:   data,
		capacity: mb.dataCapacity(6),
	}
	return mb.enqueue(msg, timeout)
}

// CreateSetIP constructs an EoE Set-IP request carrying whichever fields
// params selects.
func (mb *Mailbox) CreateSetIP(cfg EoEIPConfig, timeout time.Duration) *Handle {
	msg := &message{
		kind:       kindEoESetIP,
		mbxType:    protocol.MailboxTypeEoE,
		eoeParams:  cfg.Params,
		eoeMAC:     cfg.MAC,
		eoeIP:      cfg.IP,
		eoeSubnet:  cfg.Subnet,
		eoeGateway: cfg.Gateway,
		eoeDNS:     cfg.DNS,
		eoeDNSName: cfg.DNSName,
	}
	return mb.enqueue(msg, timeout)
}

// CreateGetIP constructs an EoE Get-IP request; once the handle completes,
// retrieve the result with GetIPResult.
func (mb *Mailbox) CreateGetIP(timeout time.Duration) *Handle {
	msg := &message{
		kind:    kindEoEGetIP,
		mbxType: protocol.MailboxTypeEoE,
	}
	return mb.enqueue(msg, timeout)
}

// GetIPResult reads back the configuration reported by a completed Get-IP
// handle. Valid only once h.Status() == StatusSuccess.
func GetIPResult(h *Handle) EoEIPConfig {
	return EoEIPConfig{
		Params:  h.msg.eoeParams,
		MAC:     h.msg.eoeMAC,
		IP:      h.msg.eoeIP,
		Subnet:  h.msg.eoeSubnet,
		Gateway: h.msg.eoeGateway,
		DNS:     h.msg.eoeDNS,
		DNSName: h.msg.eoeDNSName,
	}
}

func buildRequest(msg *message) []byte {
	switch msg.kind {
	case kindSDO:
		return sdoBuildRequest(msg)
	case kindFoERead, kindFoEWrite:
		return foeBuildRequest(msg)
	case kindEoESetIP, kindEoEGetIP:
		return eoeBuildRequest(msg)
	default:
		return nil
	}
}

func handleResponse(msg *message, raw []byte) bool {
	switch msg.kind {
	case kindSDO:
		if len(raw) < protocol.CoEHeaderLen {
			msg.status = StatusTransportError
			return true
		}
		coeHdr := protocol.ParseCoEHeader(raw)
		if coeHdr.Service != protocol.CoEServiceSDOResponse {
			msg.status = StatusCoEWrongService
			return true
		}
		return sdoHandleResponse(msg, raw[protocol.CoEHeaderLen:])
	case kindFoERead, kindFoEWrite:
		return foeHandleResponse(msg, raw)
	case kindEoESetIP, kindEoEGetIP:
		return eoeHandleResponse(msg, raw)
	default:
		msg.status = StatusTransportError
		return true
	}
}

// Send returns the next queued or continuing message's outgoing bytes, or
// nil if nothing is ready to send. At most one message per service type is
// ever in flight; within a type, queued messages are served strictly FIFO
// (spec.md section 4.D "Message ordering").
func (mb *Mailbox) Send() []byte {
	for _, t := range serviceOrder {
		cur := mb.current[t]
		if cur == nil {
			q := mb.queues[t]
			if len(q) == 0 {
				continue
			}
			cur = q[0]
			mb.queues[t] = q[1:]
			mb.current[t] = cur
		}
		if cur.awaitingResponse {
			continue
		}

		mb.counter = protocol.NextCounter(mb.counter)
		cur.counter = mb.counter
		buf := buildRequest(cur)

		if cur.status != StatusRunning {
			mb.current[t] = nil // fire-and-forget final round, no response expected
		} else {
			cur.awaitingResponse = true
			cur.expiresAt = mb.clk.Now().Add(cur.timeout)
		}
		return buf
	}
	return nil
}

// Receive attempts to match raw against the pending message of its
// mailbox type. It returns true if raw was consumed (whether or not it
// advanced the message to completion); unmatched bytes belong to another
// slave's response and are left for the caller to ignore.
func (mb *Mailbox) Receive(raw []byte) bool {
	if len(raw) < protocol.MailboxHeaderLen {
		return false
	}
	hdr := protocol.ParseMailboxHeader(raw)
	cur := mb.current[hdr.Type]
	if cur == nil || !cur.awaitingResponse || hdr.Counter != cur.counter {
		return false
	}

	cur.awaitingResponse = false
	done := handleResponse(cur, raw[protocol.MailboxHeaderLen:])
	if done {
		mb.current[hdr.Type] = nil
	}
	return true
}

// ProcessTimeouts expires any pending message whose deadline has passed as
// of now, freeing its service type for the next queued message.
func (mb *Mailbox) ProcessTimeouts(now time.Time) {
	for t, cur := range mb.current {
		if cur != nil && cur.awaitingResponse && !now.Before(cur.expiresAt) {
			cur.status = StatusTimedOut
			mb.current[t] = nil
		}
	}
}
