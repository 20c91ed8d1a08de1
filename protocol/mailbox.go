package protocol

// MailboxType identifies the mailbox sub-protocol carried by a message.
type MailboxType uint8

const (
	MailboxTypeNone MailboxType = 0
	MailboxTypeAoE  MailboxType = 1
	MailboxTypeEoE  MailboxType = 2
	MailboxTypeCoE  MailboxType = 3
	MailboxTypeFoE  MailboxType = 4
	MailboxTypeSoE  MailboxType = 5
	MailboxTypeVoE  MailboxType = 0xF
)

// MailboxHeaderLen is the fixed 6-byte mailbox header: length(2), address(2),
// channel:6+priority:2, type:4+counter:4.
const MailboxHeaderLen = 6

// MailboxHeader is the header common to every mailbox message, request or
// response side, CoE/FoE/EoE alike.
type MailboxHeader struct {
	Length   uint16
	Address  uint16
	Channel  uint8 // 6 bits
	Priority uint8 // 2 bits
	Type     MailboxType
	Counter  uint8 // 3 bits on the wire (1..7, 0 reserved); see NextCounter
}

// PutMailboxHeader writes h into buf[0:MailboxHeaderLen]. buf must have at
// least MailboxHeaderLen bytes.
func PutMailboxHeader(buf []byte, h MailboxHeader) {
	PutUint16(buf[0:2], h.Length)
	PutUint16(buf[2:4], h.Address)
	buf[4] = (h.Channel & 0x3F) | (h.Priority&0x3)<<6
	buf[5] = uint8(h.Type)&0xF | (h.Counter&0xF)<<4
}

// ParseMailboxHeader reads a MailboxHeader from buf[0:MailboxHeaderLen].
// buf must have at least MailboxHeaderLen bytes, checked by the caller
// (typically immediately after a minimum-length check on the whole
// message).
func ParseMailboxHeader(buf []byte) MailboxHeader {
	return MailboxHeader{
		Length:   Uint16(buf[0:2]),
		Address:  Uint16(buf[2:4]),
		Channel:  buf[4] & 0x3F,
		Priority: (buf[4] >> 6) & 0x3,
		Type:     MailboxType(buf[5] & 0xF),
		Counter:  (buf[5] >> 4) & 0xF,
	}
}

// NextCounter advances the 3-bit mailbox counter discipline: 1..7 then back
// to 1; 0 is reserved and never produced by NextCounter, matching spec.md
// section 4.D "Counter discipline".
func NextCounter(c uint8) uint8 {
	c++
	if c > 7 {
		c = 1
	}
	if c == 0 {
		c = 1
	}
	return c
}

// CoEService is the 4-bit service code in a CoE header.
type CoEService uint8

const (
	CoEServiceNone             CoEService = 0
	CoEServiceEmergency        CoEService = 1
	CoEServiceSDORequest       CoEService = 2
	CoEServiceSDOResponse      CoEService = 3
	CoEServiceTxPDO            CoEService = 4
	CoEServiceRxPDO            CoEService = 5
	CoEServiceTxPDORemoteReq   CoEService = 6
	CoEServiceRxPDORemoteReq   CoEService = 7
	CoEServiceSDOInfo          CoEService = 8
)

// CoEHeaderLen is the fixed 2-byte CoE header: number:9, reserved:3, service:4.
const CoEHeaderLen = 2

// CoEHeader is the header following the mailbox header in a CoE message.
type CoEHeader struct {
	Number  uint16 // 9 bits
	Service CoEService
}

// PutCoEHeader writes h into buf[0:CoEHeaderLen].
func PutCoEHeader(buf []byte, h CoEHeader) {
	v := (h.Number & 0x1FF) | uint16(h.Service&0xF)<<12
	PutUint16(buf[0:2], v)
}

// ParseCoEHeader reads a CoEHeader from buf[0:CoEHeaderLen].
func ParseCoEHeader(buf []byte) CoEHeader {
	v := Uint16(buf[0:2])
	return CoEHeader{
		Number:  v & 0x1FF,
		Service: CoEService((v >> 12) & 0xF),
	}
}

// CoE SDO command-byte bits shared by download and upload, request and
// response, expedited and segmented transfers — these are the low-level
// bit positions; mailbox.go's state machine interprets them in context.
const (
	CoECmdSpecifierMask  = 0x07
	CoECmdSizeIndicator  = 0x01
	CoECmdExpeditedFlag  = 0x02
	CoECmdSizeNotSetFlag = 0x01 // reused differently for segment "no more"

	// SDO request/response command codes (byte 0, top 3 bits after the
	// CANopen convention CoE inherits; see spec.md section 4.D).
	CoECmdDownloadSegmentReq  = 0x00
	CoECmdInitiateDownloadReq = 0x20
	CoECmdInitiateUploadReq   = 0x40
	CoECmdUploadSegmentReq    = 0x60
	CoECmdAbort               = 0x80

	CoECmdInitiateDownloadRsp = 0x60
	CoECmdDownloadSegmentRsp  = 0x20
	CoECmdInitiateUploadRsp   = 0x40
	CoECmdUploadSegmentRsp    = 0x00

	// CoE SDO Information (0x1C12/0x1C13 PDO assignment reads) opcodes.
	CoEInfoGetODList       = 0x01
	CoEInfoGetODListRsp    = 0x02
	CoEInfoGetObjectDesc   = 0x03
	CoEInfoGetObjectDescRsp = 0x04
	CoEInfoGetEntryDesc    = 0x05
	CoEInfoGetEntryDescRsp = 0x06
	CoEInfoError           = 0x07

	// Toggle bit and "no more segments" bit positions within an SDO
	// segment command byte.
	CoESegmentToggleBit  = 0x10
	CoESegmentNoMoreBit  = 0x01
)

// FoE opcodes (spec.md section 4.D "FoE file transfer").
const (
	FoEOpRRQ   uint8 = 1 // read request
	FoEOpWRQ   uint8 = 2 // write request
	FoEOpDATA  uint8 = 3
	FoEOpACK   uint8 = 4
	FoEOpError uint8 = 5
	FoEOpBusy  uint8 = 6
)

// EoE opcodes (spec.md section 4.D "EoE Set-IP/Get-IP").
const (
	EoEOpInitReq  uint8 = 2 // Set IP parameters request
	EoEOpInitRsp  uint8 = 3
	EoEOpMacAddrFilterReq uint8 = 4
	EoEOpMacAddrFilterRsp uint8 = 5
)

// EoE Set-IP parameter bitmask fields (first parameter word).
const (
	EoEParamMAC        uint16 = 1 << 0
	EoEParamIP         uint16 = 1 << 1
	EoEParamSubnet     uint16 = 1 << 2
	EoEParamDefaultGW  uint16 = 1 << 3
	EoEParamDNS        uint16 = 1 << 4
	EoEParamDNSName    uint16 = 1 << 5
)
