package bus

import (
	"fmt"
	"time"
)

// ForwardMailbox writes a raw mailbox message straight to address's
// mailbox-out SyncManager and polls its mailbox-in SyncManager for the
// reply, bypassing the typed Mailbox request builders in package mailbox.
// It exists for the gateway package (spec.md section 6 "Master-gateway
// UDP"), which already holds a complete wire-format mailbox message
// received from a UDP client and only needs it relayed to the addressed
// slave, not reconstructed from CoE/FoE/EoE parameters.
func (b *Bus) ForwardMailbox(address uint16, raw []byte, timeout time.Duration) ([]byte, error) {
	s := b.Slave(address)
	if s == nil {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("gateway: no discovered slave at address %#04x", address)}
	}
	if s.MailboxCfg.RecvSize == 0 {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("gateway: slave %#04x declares no mailbox", address)}
	}

	if _, _, err := b.fpwr(address, s.MailboxCfg.RecvOffset, raw, timeout); err != nil {
		return nil, err
	}

	deadline := b.clk.Now().Add(timeout)
	for {
		recvBuf := make([]byte, s.MailboxCfg.SendSize)
		data, wkc, err := b.fprd(address, s.MailboxCfg.SendOffset, recvBuf, timeout)
		if err != nil {
			return nil, err
		}
		if wkc != 0 {
			return data, nil
		}
		if !b.clk.Now().Before(deadline) {
			b.observeMailboxTimeout()
			return nil, &TimeoutError{}
		}
		b.clk.Sleep(pollInterval)
	}
}
