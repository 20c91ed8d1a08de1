package protocol

import "errors"

// ErrorKind classifies the taxonomy of errors the core can report, so
// callers can errors.As into a family without string-matching messages.
type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindProtocol
	KindWorkingCounter
	KindALStatus
	KindMailboxStatus
	KindTimeout
	KindConfiguration
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindWorkingCounter:
		return "working_counter"
	case KindALStatus:
		return "al_status"
	case KindMailboxStatus:
		return "mailbox_status"
	case KindTimeout:
		return "timeout"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error is a ProtocolError (wire-level malformation), one of the seven
// taxonomy kinds in spec.md section 7 that originates in the codec itself.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newProtocolError(msg string) error {
	return &Error{Kind: KindProtocol, Msg: msg}
}

// Sentinel errors for the codec's most common failure modes, matching the
// teacher's pattern of re-exporting named syscall errors (EAGAIN, EINVAL,
// ENOENT in pkg/linux/tcpinfo.go) rather than constructing ad-hoc strings
// at every call site.
var (
	// ErrFrameFull is returned by Frame.AddDatagram when the remaining
	// space in the frame cannot hold header+payload+WKC.
	ErrFrameFull = &Error{Kind: KindConfiguration, Msg: "frame full"}

	// ErrTooLong is returned when a single datagram payload alone cannot
	// possibly fit in a frame, regardless of current occupancy.
	ErrTooLong = &Error{Kind: KindConfiguration, Msg: "datagram too long for a single frame"}

	// ErrNoDatagrams is returned by Frame.Finalize when called on a frame
	// that has no datagrams written yet.
	ErrNoDatagrams = &Error{Kind: KindConfiguration, Msg: "frame has no datagrams"}

	// ErrShortFrame is returned by Frame.Parse when the buffer is smaller
	// than an EtherCAT header.
	ErrShortFrame = &Error{Kind: KindProtocol, Msg: "buffer shorter than EtherCAT header"}

	// ErrTruncatedDatagram is returned by Frame.Parse when a datagram's
	// declared length runs past the end of the received buffer.
	ErrTruncatedDatagram = &Error{Kind: KindProtocol, Msg: "datagram truncated"}

	// ErrWidthNotSupported is returned by Hton/Ntoh for widths the wire
	// format does not define (the spec requires 64-bit to fail explicitly).
	ErrWidthNotSupported = errors.New("protocol: 64-bit host/network byte order conversion is not part of the EtherCAT wire format")
)
