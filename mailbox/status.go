// Package mailbox implements the master side of one slave's acyclic
// request/response dialog: CoE SDO (expedited, normal, segmented, and
// emulated Complete Access), FoE file transfer, and EoE Set-IP/Get-IP
// (spec.md section 4.D).
package mailbox

import (
	"fmt"

	"github.com/rs/xid"

	"github.com/leducp/kickcat/protocol"
)

// Status is the lifecycle state of one in-flight mailbox message.
type Status uint8

const (
	StatusRunning Status = iota
	StatusSuccess
	StatusTimedOut
	StatusCoEWrongService
	StatusCoEUnknownService
	StatusCoEClientBufferTooSmall
	StatusCoESegmentBadToggleBit
	StatusCoEAborted
	StatusTransportError
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "RUNNING"
	case StatusSuccess:
		return "SUCCESS"
	case StatusTimedOut:
		return "TIMEDOUT"
	case StatusCoEWrongService:
		return "COE_WRONG_SERVICE"
	case StatusCoEUnknownService:
		return "COE_UNKNOWN_SERVICE"
	case StatusCoEClientBufferTooSmall:
		return "COE_CLIENT_BUFFER_TOO_SMALL"
	case StatusCoESegmentBadToggleBit:
		return "COE_SEGMENT_BAD_TOGGLE_BIT"
	case StatusCoEAborted:
		return "COE_ABORTED"
	case StatusTransportError:
		return "TRANSPORT_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Direction distinguishes an SDO upload (slave -> master) from a download
// (master -> slave).
type Direction uint8

const (
	Upload Direction = iota
	Download
)

// Handle is returned to the caller by every Create* method. Its Status is
// polled until it leaves StatusRunning; Handle.ID is a correlation
// identifier suitable for logging (the teacher's cmd/exporter_example2.go
// attaches an xid.ID to every emitted connection the same way).
type Handle struct {
	id  xid.ID
	msg *message
}

// ID returns the correlation ID assigned when this message was created.
func (h *Handle) ID() xid.ID { return h.id }

// Status returns the message's current lifecycle state.
func (h *Handle) Status() Status { return h.msg.status }

// AbortCode returns the CoE SDO abort code reported by the slave, valid
// only once Status() == StatusCoEAborted.
func (h *Handle) AbortCode() uint32 { return h.msg.abortCode }

// Err returns a StatusError describing a non-success, non-running status,
// or nil if the message is still running or completed successfully.
func (h *Handle) Err() error {
	switch h.msg.status {
	case StatusRunning, StatusSuccess:
		return nil
	case StatusCoEAborted:
		return &StatusError{Status: h.msg.status, Detail: AbortCodeString(h.msg.abortCode)}
	default:
		return &StatusError{Status: h.msg.status}
	}
}

// BytesWritten reports how many bytes of the caller-supplied buffer were
// filled by an upload (or, symmetrically, sent from it by a download) once
// the message completes.
func (h *Handle) BytesWritten() int { return h.msg.cursor }

// StatusError adapts a non-success Status into an error, carrying the CoE
// abort-code string when applicable (spec.md section 4.D "CoE abort").
type StatusError struct {
	Status Status
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("mailbox: %s: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("mailbox: %s", e.Status)
}

// Kind reports the protocol error taxonomy bucket this status maps to, so
// callers that switch on protocol.ErrorKind need no mailbox-specific case.
func (e *StatusError) Kind() protocol.ErrorKind {
	switch e.Status {
	case StatusTimedOut:
		return protocol.KindTimeout
	case StatusTransportError:
		return protocol.KindTransport
	default:
		return protocol.KindMailboxStatus
	}
}
