package slave

import (
	"encoding/binary"
	"fmt"
)

// SII category identifiers (ETG.1000.6 Table 19), matching spec.md section
// 4.F's TLV walk: "(section_id:16, size_in_words:16)", terminated by 0xFFFF.
const (
	siiCategoryStrings      = 10
	siiCategoryDataTypes    = 20
	siiCategoryGeneral      = 30
	siiCategoryFMMU         = 40
	siiCategorySyncManager  = 41
	siiCategoryTxPDO        = 50
	siiCategoryRxPDO        = 51
	siiCategoryDC           = 60
	siiCategoryEnd   uint16 = 0xFFFF
)

// GeneralInfo is the fixed-layout "General" SII category: device
// description string indices, supported mailbox sub-protocols, and the
// physical-port configuration nibbles.
type GeneralInfo struct {
	GroupIdx, ImageIdx, OrderIdx, NameIdx uint8
	CoEDetails, FoEDetails, EoEDetails    uint8
	Flags                                 uint16
}

// SyncManagerDescriptor is one 8-byte SII SyncManager entry.
type SyncManagerDescriptor struct {
	StartAddress uint16
	Length       uint16
	ControlByte  uint8
	Enable       uint8
	Type         uint8 // 0=unused, 1=mbx out, 2=mbx in, 3=process out, 4=process in
}

// PDOEntry is one object mapped into a PDO.
type PDOEntry struct {
	Index     uint16
	SubIndex  uint8
	NameIdx   uint8
	DataType  uint8
	BitLength uint8
}

// PDODescriptor is one SII TxPDO or RxPDO category entry: a PDO index, the
// SyncManager it is assigned to, and the objects it maps.
type PDODescriptor struct {
	Index          uint16
	SyncManagerIdx uint8
	NameIdx        uint8
	Entries        []PDOEntry
}

// SII is the parsed contents of a slave's EEPROM category area.
type SII struct {
	Strings       []string // index 0 reserved, always empty
	General       GeneralInfo
	SyncManagers  []SyncManagerDescriptor
	TxPDOs        []PDODescriptor
	RxPDOs        []PDODescriptor
	HasDC         bool
}

// String returns string table entry i, or "" if out of range (index 0 is
// reserved and always empty per spec.md section 4.F).
func (s *SII) String(i uint8) string {
	if int(i) >= len(s.Strings) {
		return ""
	}
	return s.Strings[i]
}

// ParseSII walks buf as the TLV category area described in spec.md section
// 4.F: each section is (section_id:16, size_in_words:16) followed by
// size_in_words*2 bytes; section order is not required; an unknown
// section is skipped by its declared length; section 0xFFFF terminates.
func ParseSII(buf []byte) (*SII, error) {
	sii := &SII{Strings: []string{""}} // index 0 reserved, empty

	off := 0
	for {
		if off+4 > len(buf) {
			return sii, nil // no terminator found; treat remaining as absent
		}
		id := binary.LittleEndian.Uint16(buf[off : off+2])
		if id == siiCategoryEnd {
			return sii, nil
		}
		sizeWords := binary.LittleEndian.Uint16(buf[off+2 : off+4])
		sizeBytes := int(sizeWords) * 2
		off += 4
		if off+sizeBytes > len(buf) {
			return nil, fmt.Errorf("slave: SII section %d declares %d bytes, only %d remain", id, sizeBytes, len(buf)-off)
		}
		section := buf[off : off+sizeBytes]
		off += sizeBytes

		switch id {
		case siiCategoryStrings:
			sii.Strings = append(sii.Strings[:1], parseSIIStrings(section)...)
		case siiCategoryGeneral:
			sii.General = parseSIIGeneral(section)
		case siiCategorySyncManager:
			sii.SyncManagers = parseSIISyncManagers(section)
		case siiCategoryTxPDO:
			pdo, err := parseSIIPDO(section)
			if err != nil {
				return nil, fmt.Errorf("slave: TxPDO section: %w", err)
			}
			sii.TxPDOs = append(sii.TxPDOs, pdo...)
		case siiCategoryRxPDO:
			pdo, err := parseSIIPDO(section)
			if err != nil {
				return nil, fmt.Errorf("slave: RxPDO section: %w", err)
			}
			sii.RxPDOs = append(sii.RxPDOs, pdo...)
		case siiCategoryDC:
			sii.HasDC = true
		case siiCategoryFMMU, siiCategoryDataTypes:
			// Declared length already consumed above; nothing further to
			// extract for these categories at this spec's scope.
		default:
			// Unknown category: skip by its declared length, already done.
		}
	}
}

func parseSIIStrings(section []byte) []string {
	if len(section) < 1 {
		return nil
	}
	count := int(section[0])
	out := make([]string, 0, count)
	off := 1
	for i := 0; i < count && off < len(section); i++ {
		n := int(section[off])
		off++
		if off+n > len(section) {
			break
		}
		out = append(out, string(section[off:off+n]))
		off += n
	}
	return out
}

func parseSIIGeneral(section []byte) GeneralInfo {
	var g GeneralInfo
	if len(section) < 1 {
		return g
	}
	g.GroupIdx = section[0]
	if len(section) > 1 {
		g.ImageIdx = section[1]
	}
	if len(section) > 2 {
		g.OrderIdx = section[2]
	}
	if len(section) > 3 {
		g.NameIdx = section[3]
	}
	if len(section) > 4 {
		g.CoEDetails = section[4]
	}
	if len(section) > 5 {
		g.FoEDetails = section[5]
	}
	if len(section) > 6 {
		g.EoEDetails = section[6]
	}
	if len(section) >= 14 {
		g.Flags = binary.LittleEndian.Uint16(section[12:14])
	}
	return g
}

func parseSIISyncManagers(section []byte) []SyncManagerDescriptor {
	const entrySize = 8
	n := len(section) / entrySize
	out := make([]SyncManagerDescriptor, 0, n)
	for i := 0; i < n; i++ {
		e := section[i*entrySize : (i+1)*entrySize]
		out = append(out, SyncManagerDescriptor{
			StartAddress: binary.LittleEndian.Uint16(e[0:2]),
			Length:       binary.LittleEndian.Uint16(e[2:4]),
			ControlByte:  e[4],
			Enable:       e[6],
			Type:         e[7],
		})
	}
	return out
}

func parseSIIPDO(section []byte) ([]PDODescriptor, error) {
	const headerSize = 8
	const entrySize = 8
	var out []PDODescriptor
	off := 0
	for off < len(section) {
		if off+headerSize > len(section) {
			return nil, fmt.Errorf("truncated PDO header at byte %d", off)
		}
		hdr := section[off : off+headerSize]
		pdo := PDODescriptor{
			Index:          binary.LittleEndian.Uint16(hdr[0:2]),
			SyncManagerIdx: hdr[3],
			NameIdx:        hdr[4],
		}
		numEntries := int(hdr[2])
		off += headerSize
		for i := 0; i < numEntries; i++ {
			if off+entrySize > len(section) {
				return nil, fmt.Errorf("truncated PDO entry at byte %d", off)
			}
			e := section[off : off+entrySize]
			pdo.Entries = append(pdo.Entries, PDOEntry{
				Index:     binary.LittleEndian.Uint16(e[0:2]),
				SubIndex:  e[2],
				NameIdx:   e[3],
				DataType:  e[4],
				BitLength: e[5],
			})
			off += entrySize
		}
		out = append(out, pdo)
	}
	return out, nil
}
