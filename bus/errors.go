package bus

import (
	"fmt"

	"github.com/leducp/kickcat/protocol"
)

// ALStatusError reports a slave's AL_STATUS_CODE after a failed state
// transition request (spec.md section 4.G "any transition may fail,
// reported via the AL_STATUS_CODE register").
type ALStatusError struct {
	SlaveAddress uint16
	Requested    State
	Code         uint16
}

func (e *ALStatusError) Error() string {
	return fmt.Sprintf("bus: slave %#04x refused transition to %s: AL status code %#04x", e.SlaveAddress, e.Requested, e.Code)
}

func (e *ALStatusError) Kind() protocol.ErrorKind { return protocol.KindALStatus }

// TimeoutError reports that WaitForState's deadline elapsed before every
// slave reached the requested state. A mailbox exchange that runs out of
// time (pumpMailbox, ForwardMailbox) returns it too, with Requested left
// zero.
type TimeoutError struct {
	Requested State
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("bus: timed out waiting for state %s", e.Requested)
}

func (e *TimeoutError) Kind() protocol.ErrorKind { return protocol.KindTimeout }

// ConfigurationError reports a discovery or mapping failure that is not a
// transport or AL-status problem: no slave answering the broadcast count,
// a slave with no open port, an unreadable SII, a logical image too small
// for the computed mapping.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bus: %s: %v", e.Msg, e.Err)
	}
	return "bus: " + e.Msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Kind() protocol.ErrorKind { return protocol.KindConfiguration }
