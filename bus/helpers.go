package bus

import "time"

// Helpers are thin convenience wrappers over Bus's primitives — no new
// state of their own — ported from original_source's helpers.cc
// (SPEC_FULL.md supplemented feature 2).
type Helpers struct {
	Bus *Bus
}

// NewHelpers wraps b.
func NewHelpers(b *Bus) Helpers { return Helpers{Bus: b} }

// InitToOperational runs discovery (Bus.Init), mapping, and drives the
// state machine all the way to OP, the common one-call startup path
// helpers.cc offers over the individual steps.
func (h Helpers) InitToOperational(image []byte, timeout time.Duration) error {
	if err := h.Bus.Init(timeout); err != nil {
		return err
	}
	if err := h.Bus.CreateMapping(image); err != nil {
		return err
	}
	if err := h.Bus.RequestState(StateSafeOp); err != nil {
		return err
	}
	if err := h.Bus.WaitForState(StateSafeOp, timeout, nil); err != nil {
		return err
	}
	if err := h.Bus.RequestState(StateOp); err != nil {
		return err
	}
	return h.Bus.WaitForState(StateOp, timeout, nil)
}

// WaitForAllSlaves polls WaitForState, invoking progress (if non-nil) on
// every iteration — the named convenience helpers.cc offers over calling
// Bus.WaitForState directly with a bare poll callback.
func (h Helpers) WaitForAllSlaves(state State, timeout time.Duration, progress func()) error {
	return h.Bus.WaitForState(state, timeout, progress)
}

// ResetToInit is the broadcast-reset shortcut helpers.cc offers for
// recovering a bus stuck past INIT without a full re-discovery: request
// INIT and wait for it.
func (h Helpers) ResetToInit(timeout time.Duration) error {
	if err := h.Bus.RequestState(StateInit); err != nil {
		return err
	}
	return h.Bus.WaitForState(StateInit, timeout, nil)
}
