package slave

import (
	"encoding/binary"
	"testing"
)

func appendSection(buf []byte, id uint16, payload []byte) []byte {
	if len(payload)%2 != 0 {
		payload = append(payload, 0) // pad to whole words
	}
	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint16(hdr[0:2], id)
	binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(payload)/2))
	buf = append(buf, hdr...)
	buf = append(buf, payload...)
	return buf
}

func TestParseSIIStringsAndGeneral(t *testing.T) {
	strings := []byte{2, 5, 'H', 'e', 'l', 'l', 'o', 3, 'F', 'o', 'o'}
	general := make([]byte, 14)
	general[0] = 1 // GroupIdx
	general[2] = 2 // OrderIdx -> "Foo" (index 2 in string table)
	general[4] = 0x04 // CoEDetails

	var buf []byte
	buf = appendSection(buf, siiCategoryStrings, strings)
	buf = appendSection(buf, siiCategoryGeneral, general)
	buf = appendSection(buf, siiCategoryEnd, nil)

	sii, err := ParseSII(buf)
	if err != nil {
		t.Fatalf("ParseSII: %v", err)
	}
	if sii.String(0) != "" {
		t.Errorf("string index 0 = %q, want empty (reserved)", sii.String(0))
	}
	if sii.String(1) != "Hello" {
		t.Errorf("string index 1 = %q, want Hello", sii.String(1))
	}
	if sii.String(2) != "Foo" {
		t.Errorf("string index 2 = %q, want Foo", sii.String(2))
	}
	if sii.General.OrderIdx != 2 {
		t.Errorf("OrderIdx = %d, want 2", sii.General.OrderIdx)
	}
	if sii.General.CoEDetails != 0x04 {
		t.Errorf("CoEDetails = %#x, want 0x04", sii.General.CoEDetails)
	}
}

func TestParseSIISyncManagersAndPDO(t *testing.T) {
	sm := make([]byte, 16) // two 8-byte entries
	binary.LittleEndian.PutUint16(sm[0:2], 0x1000)
	binary.LittleEndian.PutUint16(sm[2:4], 128)
	sm[7] = 2 // mailbox in
	binary.LittleEndian.PutUint16(sm[8:10], 0x1200)
	binary.LittleEndian.PutUint16(sm[10:12], 256)
	sm[15] = 4 // process data in

	// One RxPDO, index 0x1600, SM 2, one entry.
	pdo := make([]byte, 8+8)
	binary.LittleEndian.PutUint16(pdo[0:2], 0x1600)
	pdo[2] = 1 // NumEntries
	pdo[3] = 2 // SyncManagerIdx
	binary.LittleEndian.PutUint16(pdo[8:10], 0x7000)
	pdo[10] = 1 // SubIndex
	pdo[13] = 8 // BitLength

	var buf []byte
	buf = appendSection(buf, siiCategorySyncManager, sm)
	buf = appendSection(buf, siiCategoryRxPDO, pdo)
	buf = appendSection(buf, siiCategoryEnd, nil)

	sii, err := ParseSII(buf)
	if err != nil {
		t.Fatalf("ParseSII: %v", err)
	}
	if len(sii.SyncManagers) != 2 {
		t.Fatalf("SyncManagers = %d entries, want 2", len(sii.SyncManagers))
	}
	if sii.SyncManagers[1].StartAddress != 0x1200 || sii.SyncManagers[1].Length != 256 {
		t.Errorf("SyncManagers[1] = %+v, want start=0x1200 len=256", sii.SyncManagers[1])
	}
	if len(sii.RxPDOs) != 1 || sii.RxPDOs[0].Index != 0x1600 {
		t.Fatalf("RxPDOs = %+v, want one PDO index 0x1600", sii.RxPDOs)
	}
	if len(sii.RxPDOs[0].Entries) != 1 || sii.RxPDOs[0].Entries[0].Index != 0x7000 {
		t.Fatalf("RxPDOs[0].Entries = %+v, want one entry index 0x7000", sii.RxPDOs[0].Entries)
	}
}

func TestParseSIIUnknownSectionSkipped(t *testing.T) {
	var buf []byte
	buf = appendSection(buf, 999, []byte{1, 2, 3, 4})
	buf = appendSection(buf, siiCategoryStrings, []byte{1, 2, 'h', 'i'})
	buf = appendSection(buf, siiCategoryEnd, nil)

	sii, err := ParseSII(buf)
	if err != nil {
		t.Fatalf("ParseSII: %v", err)
	}
	if sii.String(1) != "hi" {
		t.Errorf("string index 1 = %q, want hi (parsing should resume after the unknown section)", sii.String(1))
	}
}

func TestParseSIITruncatedSectionErrors(t *testing.T) {
	buf := []byte{10, 0, 0xFF, 0x00} // claims 0xFF words but no payload follows
	if _, err := ParseSII(buf); err == nil {
		t.Fatal("ParseSII should error on a section whose declared length overruns the buffer")
	}
}
