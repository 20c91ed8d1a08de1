package bus

import (
	"fmt"
	"time"

	"github.com/leducp/kickcat/link"
	"github.com/leducp/kickcat/mailbox"
	"github.com/leducp/kickcat/protocol"
	"github.com/leducp/kickcat/slave"
)

// ErrorFunc reports a cyclic-exchange or mailbox-transport failure; it
// never blocks (spec.md section 5 "Cancellation").
type ErrorFunc func(err error)

// ProcessDataWrite dispatches the single cyclic LRW datagram carrying the
// full logical image (spec.md section 4.G "Cyclic data exchange"). It
// does not block; call ProcessDataRead to pump the Link and collect the
// reply.
func (b *Bus) ProcessDataWrite(errCb ErrorFunc) error {
	if b.logicalImage == nil {
		return &ConfigurationError{Msg: "ProcessDataWrite called before CreateMapping"}
	}
	expected := b.expectedCyclicWKC()
	addr := protocol.LogicalAddress(b.lrwAddress)
	err := b.link.AddDatagram(protocol.CmdLRW, addr, b.logicalImage,
		func(_ protocol.DatagramHeader, payload []byte, wkc uint16) link.Result {
			copy(b.logicalImage, payload)
			if wkc != expected {
				b.observeWKCMismatch()
				if errCb != nil {
					errCb(fmt.Errorf("bus: cyclic LRW wkc=%d, want %d", wkc, expected))
				}
				return link.ResultInvalidWKC
			}
			return link.ResultOK
		},
		func(_ int, reason error) {
			if errCb != nil {
				errCb(reason)
			}
		},
	)
	return err
}

// ProcessDataRead pumps the Link until the cyclic LRW dispatched by
// ProcessDataWrite resolves or the Link's configured timeout elapses
// (spec.md section 4.G "Cyclic data exchange").
func (b *Bus) ProcessDataRead(errCb ErrorFunc) error {
	if err := b.link.ProcessDatagrams(); err != nil {
		if errCb != nil {
			errCb(err)
		}
		return err
	}
	return nil
}

// expectedCyclicWKC is (inputs-present x 1 + outputs-present x 2) summed
// over every mapped slave (spec.md section 4.G).
func (b *Bus) expectedCyclicWKC() uint16 {
	var wkc uint16
	for _, s := range b.slaves {
		if s.Inputs.ByteSize > 0 {
			wkc++
		}
		if s.Outputs.ByteSize > 0 {
			wkc += 2
		}
	}
	return wkc
}

// ProcessAwaitingFrames pumps every discovered slave's mailbox: it writes
// whatever each Mailbox.Send() has queued to the slave's recv
// SyncManager, polls the send SyncManager for a reply, feeds any bytes
// back through Mailbox.Receive, expires timed-out messages, and finally
// drives the underlying Link to completion (spec.md section 4.G
// "process_awaiting_frames").
func (b *Bus) ProcessAwaitingFrames() error {
	now := b.clk.Now()
	for _, s := range b.slaves {
		if s.Mailbox == nil {
			continue
		}
		s.Mailbox.ProcessTimeouts(now)

		if out := s.Mailbox.Send(); out != nil {
			if err := b.link.AddDatagram(protocol.CmdFPWR, protocol.CreateAddress(s.Address, s.MailboxCfg.RecvOffset), out, nil, nil); err != nil {
				return err
			}
		}

		recvBuf := make([]byte, s.MailboxCfg.SendSize)
		mb := s.Mailbox
		if err := b.link.AddDatagram(protocol.CmdFPRD, protocol.CreateAddress(s.Address, s.MailboxCfg.SendOffset), recvBuf,
			func(_ protocol.DatagramHeader, payload []byte, wkc uint16) link.Result {
				if wkc == 0 {
					return link.ResultOK // nothing to read this cycle
				}
				mb.Receive(payload)
				return link.ResultOK
			},
			nil,
		); err != nil {
			return err
		}
	}
	return b.link.ProcessDatagrams()
}

// pumpMailbox drives ProcessAwaitingFrames until h completes or timeout
// elapses, for callers (discovery, mapping) that need a single mailbox
// exchange to finish synchronously rather than interleaved with cyclic
// I/O.
func (b *Bus) pumpMailbox(_ *slave.Slave, h *mailbox.Handle, timeout time.Duration) error {
	deadline := b.clk.Now().Add(timeout)
	for h.Status() == mailbox.StatusRunning {
		if err := b.ProcessAwaitingFrames(); err != nil {
			return err
		}
		if !b.clk.Now().Before(deadline) {
			b.observeMailboxTimeout()
			return &TimeoutError{Requested: 0}
		}
		b.clk.Sleep(pollInterval)
	}
	if err := h.Err(); err != nil {
		if h.Status() == mailbox.StatusTimedOut {
			b.observeMailboxTimeout()
		}
		return err
	}
	return nil
}
