package bus

// ESC register offsets the orchestrator reads and writes (ETG.1000.4
// register map, the common SOEM/KickCAT subset spec.md section 4.G
// names by function rather than by number).
const (
	regType         = 0x0000 // 1 byte: ESC type, read for the broadcast slave count
	regDLStatus     = 0x0110 // 2 bytes: per-port link/loop/com bits, see slave.DecodeDLStatus
	regALControl    = 0x0120 // 2 bytes: requested state (+ ERROR_ACK bit)
	regALStatus     = 0x0130 // 2 bytes: current state (+ ERROR bit)
	regALStatusCode = 0x0134 // 2 bytes: reason the last transition was refused
	regStationAddr  = 0x0010 // 2 bytes: configured station alias, set during auto-increment probe

	// regSMBase + 8*n is SyncManager n's 8-byte config entry: PhysStart(2),
	// Length(2), Control(1), Status(1, read-only), ActivateEnable(1),
	// reserved(1).
	regSMBase = 0x0800
	smEntrySize = 8
)

func smRegister(idx uint8) uint16 {
	return regSMBase + uint16(idx)*smEntrySize
}
