package bus

import (
	"time"

	"github.com/leducp/kickcat/mailbox"
	"github.com/leducp/kickcat/protocol"
	"github.com/leducp/kickcat/slave"
)

// firstStationAddress is the alias assigned to the first slave discovered
// on the chain during the auto-increment probe (spec.md section 4.G step
// 3: "station-alias addresses 1001, 1002, ...").
const firstStationAddress = 1001

// Init runs the discovery and baseline configuration sequence (spec.md
// section 4.G steps 1-6), leaving every slave in PRE-OP. Call
// CreateMapping next to program PDO mapping and FMMUs, then RequestState
// to progress to SAFE-OP and OP.
func (b *Bus) Init(timeout time.Duration) error {
	if err := b.broadcastReset(timeout); err != nil {
		return err
	}

	count, err := b.broadcastCount(timeout)
	if err != nil {
		return err
	}
	if count == 0 {
		return &ConfigurationError{Msg: "no slaves responded to broadcast count"}
	}

	b.slaves = make([]*slave.Slave, 0, count)
	for i := 0; i < count; i++ {
		address := uint16(firstStationAddress + i)
		autoIncrADP := uint16(0) - uint16(i) // 0, 0xFFFF, 0xFFFE, ... per the auto-increment convention

		if _, _, err := b.autoIncrement(protocol.CmdAPWR, autoIncrADP, regStationAddr, []byte{byte(address), byte(address >> 8)}, timeout); err != nil {
			return err
		}

		s := &slave.Slave{Address: address, IsStaticMapping: b.staticMapping[address]}
		if err := b.readDLStatus(s, timeout); err != nil {
			return err
		}
		if s.CountOpenPorts() == 0 {
			return &ConfigurationError{Msg: "slave reported no open ports during discovery"}
		}

		siiRaw, err := b.readSII(address, timeout)
		if err != nil {
			return &ConfigurationError{Msg: "read SII", Err: err}
		}
		sii, err := slave.ParseSII(siiRaw)
		if err != nil {
			return &ConfigurationError{Msg: "parse SII", Err: err}
		}
		s.SII = sii

		if len(sii.SyncManagers) >= 2 {
			s.MailboxCfg = slave.MailboxConfig{
				RecvOffset: sii.SyncManagers[0].StartAddress,
				RecvSize:   sii.SyncManagers[0].Length,
				SendOffset: sii.SyncManagers[1].StartAddress,
				SendSize:   sii.SyncManagers[1].Length,
			}
		}
		b.slaves = append(b.slaves, s)
	}

	if err := b.configureMailboxSyncManagers(timeout); err != nil {
		return err
	}

	if err := b.RequestState(StatePreOp); err != nil {
		return err
	}
	if err := b.WaitForState(StatePreOp, timeout, nil); err != nil {
		return err
	}

	for _, s := range b.slaves {
		s.Mailbox = mailbox.New(s.Address, s.MailboxCfg.SendSize, s.MailboxCfg.RecvSize, s.MailboxCfg.SendOffset, s.MailboxCfg.RecvOffset, b.clk, b.log)
	}
	return nil
}

// readDLStatus fills s.DLStatus from a single FPRD of the DL status
// register (spec.md section 4.F).
func (b *Bus) readDLStatus(s *slave.Slave, timeout time.Duration) error {
	data, wkc, err := b.fprd(s.Address, regDLStatus, make([]byte, 2), timeout)
	if err != nil {
		return err
	}
	if wkc == 0 {
		return &ConfigurationError{Msg: "no reply reading DL status"}
	}
	s.DLStatus = slave.DecodeDLStatus(protocol.Uint16(data))
	return nil
}

// configureMailboxSyncManagers programs SM0 (mailbox out, master->slave)
// and SM1 (mailbox in, slave->master) per each slave's SII-declared
// geometry (spec.md section 4.G step 5).
func (b *Bus) configureMailboxSyncManagers(timeout time.Duration) error {
	for _, s := range b.slaves {
		if s.MailboxCfg.RecvSize == 0 && s.MailboxCfg.SendSize == 0 {
			continue // no mailbox declared; process-data-only slave
		}
		sm0 := encodeSMConfig(s.MailboxCfg.RecvOffset, s.MailboxCfg.RecvSize, 0x26)
		if _, _, err := b.fpwr(s.Address, smRegister(0), sm0, timeout); err != nil {
			return err
		}
		sm1 := encodeSMConfig(s.MailboxCfg.SendOffset, s.MailboxCfg.SendSize, 0x22)
		if _, _, err := b.fpwr(s.Address, smRegister(1), sm1, timeout); err != nil {
			return err
		}
	}
	return nil
}

// encodeSMConfig builds the 8-byte SyncManager config register payload:
// PhysStart(2), Length(2), Control(1), Status(1, ignored on write),
// ActivateEnable(1, bit0 enables the SM), reserved(1).
func encodeSMConfig(start, length uint16, control uint8) []byte {
	buf := make([]byte, smEntrySize)
	protocol.PutUint16(buf[0:2], start)
	protocol.PutUint16(buf[2:4], length)
	buf[4] = control
	buf[6] = 0x01 // enable
	return buf
}
