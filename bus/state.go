package bus

import (
	"time"

	"github.com/leducp/kickcat/protocol"
)

// RequestState broadcasts an AL_CONTROL write requesting state on every
// slave (spec.md section 4.G "request_state").
func (b *Bus) RequestState(state State) error {
	addr := protocol.CreateAddress(0, regALControl)
	payload := []byte{byte(state), 0}
	if err := b.link.AddDatagram(protocol.CmdBWR, addr, payload, nil, nil); err != nil {
		return err
	}
	if err := b.link.SetTimeout(0); err != nil {
		return err
	}
	return b.link.ProcessDatagrams()
}

// GetCurrentState reads one slave's AL_STATUS (spec.md section 4.G
// "get_current_state").
func (b *Bus) GetCurrentState(address uint16, timeout time.Duration) (State, error) {
	data, wkc, err := b.fprd(address, regALStatus, make([]byte, 2), timeout)
	if err != nil {
		return 0, err
	}
	if wkc == 0 {
		b.observeWKCMismatch()
		return 0, &ConfigurationError{Msg: "no reply reading AL status"}
	}
	return State(protocol.Uint16(data)), nil
}

// WaitForState polls every slave's AL_STATUS until all report state or
// timeout elapses, invoking cb (if non-nil) once per poll iteration. Each
// slave is read individually with an FPRD (no broadcast read is issued),
// so the first slave in error can be named.
// A slave reporting ErrorAck is surfaced as an ALStatusError carrying its
// AL_STATUS_CODE.
func (b *Bus) WaitForState(state State, timeout time.Duration, cb func()) error {
	deadline := b.clk.Now().Add(timeout)
	for {
		allReached := true
		for _, s := range b.slaves {
			got, err := b.GetCurrentState(s.Address, 0)
			if err != nil {
				return err
			}
			if got.HasError() {
				code, _, err := b.fprd(s.Address, regALStatusCode, make([]byte, 2), 0)
				if err != nil {
					return err
				}
				var statusCode uint16
				if len(code) >= 2 {
					statusCode = protocol.Uint16(code)
				}
				return &ALStatusError{SlaveAddress: s.Address, Requested: state, Code: statusCode}
			}
			if got.Base() != state {
				allReached = false
			}
		}
		if allReached {
			b.setALState(uint8(state))
			return nil
		}
		if cb != nil {
			cb()
		}
		if !b.clk.Now().Before(deadline) {
			return &TimeoutError{Requested: state}
		}
		b.clk.Sleep(pollInterval)
	}
}

// AcknowledgeError clears a slave's ERROR_ACK bit by writing its current
// (pre-error) state back with bit 4 clear, the handshake spec.md section
// 4.G requires before the slave will accept a further transition.
func (b *Bus) AcknowledgeError(address uint16, current State, timeout time.Duration) error {
	_, _, err := b.fpwr(address, regALControl, []byte{byte(current.Base()), 0}, timeout)
	return err
}
