package bus

import (
	"time"

	"github.com/leducp/kickcat/protocol"
)

// SII interface registers (ETG.1000.4 section "SII Access"), simplified to
// a synchronous word-addressed read: write the word address, trigger a
// read, poll the busy bit, then read back 4 bytes (2 words).
const (
	regSIIAddress     = 0x0504 // 4 bytes: word address to access
	regSIIReadControl = 0x0502 // 2 bytes: bit0 triggers a read
	regSIIBusyStatus  = 0x0502 // same register; bit15 (0x8000) is busy-while-in-progress
	regSIIReadData    = 0x050A // 4 bytes: the two words just read

	siiReadTriggerBit = 0x0001
	siiBusyBit        = 0x8000

	// maxSIICategoryBytes bounds how much of the category area discovery
	// reads per slave — generous enough for general/sync manager/PDO
	// categories on a typical device without an unbounded read loop.
	maxSIICategoryBytes = 512
	siiChunkBytes       = 4
	siiPollAttempts     = 8
)

// readSII pulls up to maxSIICategoryBytes of slave's EEPROM category area
// via the synchronous SII register interface (spec.md section 4.G step 4:
// "Read SII for each slave ... and call parse_sii").
func (b *Bus) readSII(address uint16, timeout time.Duration) ([]byte, error) {
	out := make([]byte, 0, maxSIICategoryBytes)
	for wordAddr := uint16(0); len(out) < maxSIICategoryBytes; wordAddr += 2 {
		if _, _, err := b.fpwr(address, regSIIAddress, []byte{byte(wordAddr), byte(wordAddr >> 8), 0, 0}, timeout); err != nil {
			return nil, err
		}
		if _, _, err := b.fpwr(address, regSIIReadControl, []byte{byte(siiReadTriggerBit), 0}, timeout); err != nil {
			return nil, err
		}

		busy := true
		for i := 0; i < siiPollAttempts && busy; i++ {
			status, _, err := b.fprd(address, regSIIBusyStatus, make([]byte, 2), timeout)
			if err != nil {
				return nil, err
			}
			if len(status) < 2 {
				break
			}
			busy = protocol.Uint16(status)&siiBusyBit != 0
		}

		data, wkc, err := b.fprd(address, regSIIReadData, make([]byte, siiChunkBytes), timeout)
		if err != nil {
			return nil, err
		}
		if wkc == 0 {
			break // slave stopped answering; return what we have
		}
		out = append(out, data...)
	}
	return out, nil
}
