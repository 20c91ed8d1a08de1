package mailboxsrv

import "github.com/leducp/kickcat/protocol"

type coeDirection uint8

const (
	coeDirUpload coeDirection = iota
	coeDirDownload
)

// coeTransfer tracks a segmented CoE SDO exchange across rounds; nil on
// Server whenever no segmented transfer is in progress.
type coeTransfer struct {
	direction coeDirection
	index     uint16
	subindex  uint8
	buffer    []byte
	cursor    int
	toggle    uint8
}

func (s *Server) handleCoE(body []byte) []byte {
	if len(body) < protocol.CoEHeaderLen {
		return nil
	}
	coeHdr := protocol.ParseCoEHeader(body)
	if coeHdr.Service != protocol.CoEServiceSDORequest {
		return nil
	}
	sdoBody := body[protocol.CoEHeaderLen:]
	if len(sdoBody) < 8 {
		return nil
	}
	cmd := sdoBody[0]

	if s.coe != nil {
		return s.continueCoETransfer(cmd, sdoBody)
	}

	switch cmd & 0xE0 {
	case protocol.CoECmdInitiateDownloadReq:
		return s.handleInitiateDownload(cmd, sdoBody)
	case protocol.CoECmdInitiateUploadReq:
		return s.handleInitiateUpload(sdoBody)
	default:
		return s.coeAbort(protocol.Uint16(sdoBody[1:3]), sdoBody[3], 0x05040001)
	}
}

func (s *Server) handleInitiateDownload(cmd byte, sdoBody []byte) []byte {
	index := protocol.Uint16(sdoBody[1:3])
	subindex := sdoBody[3]

	if cmd&protocol.CoECmdExpeditedFlag != 0 {
		n := (cmd >> 2) & 0x3
		dataLen := 4 - int(n)
		s.SetObject(index, subindex, sdoBody[4:4+dataLen])
		return s.ackInitiateDownload(index, subindex)
	}
	if cmd&protocol.CoECmdSizeIndicator == 0 {
		return s.coeAbort(index, subindex, 0x05040001)
	}

	total := int(protocol.Uint32(sdoBody[4:8]))
	inline := sdoBody[8:]
	if len(inline) >= total {
		s.SetObject(index, subindex, inline[:total])
		return s.ackInitiateDownload(index, subindex)
	}

	buf := make([]byte, len(inline))
	copy(buf, inline)
	s.coe = &coeTransfer{direction: coeDirDownload, index: index, subindex: subindex, buffer: buf}
	return s.ackInitiateDownload(index, subindex)
}

func (s *Server) ackInitiateDownload(index uint16, subindex uint8) []byte {
	body := make([]byte, 8)
	body[0] = protocol.CoECmdInitiateDownloadRsp
	protocol.PutUint16(body[1:3], index)
	body[3] = subindex
	return wrapCoESrv(body)
}

func (s *Server) handleInitiateUpload(sdoBody []byte) []byte {
	index := protocol.Uint16(sdoBody[1:3])
	subindex := sdoBody[3]

	data, ok := s.Object(index, subindex)
	if !ok {
		return s.coeAbort(index, subindex, 0x06020000)
	}

	if len(data) <= 4 {
		n := 4 - len(data)
		body := make([]byte, 8)
		body[0] = protocol.CoECmdInitiateUploadRsp | byte(n<<2) | protocol.CoECmdExpeditedFlag | protocol.CoECmdSizeIndicator
		protocol.PutUint16(body[1:3], index)
		body[3] = subindex
		copy(body[4:4+len(data)], data)
		return wrapCoESrv(body)
	}

	if len(data) <= s.coeUploadCapacity() {
		body := make([]byte, 8+len(data))
		body[0] = protocol.CoECmdInitiateUploadRsp | protocol.CoECmdSizeIndicator
		protocol.PutUint16(body[1:3], index)
		body[3] = subindex
		protocol.PutUint32(body[4:8], uint32(len(data)))
		copy(body[8:], data)
		return wrapCoESrv(body)
	}

	s.coe = &coeTransfer{direction: coeDirUpload, index: index, subindex: subindex, buffer: data}
	body := make([]byte, 8)
	body[0] = protocol.CoECmdInitiateUploadRsp | protocol.CoECmdSizeIndicator
	protocol.PutUint16(body[1:3], index)
	body[3] = subindex
	protocol.PutUint32(body[4:8], uint32(len(data)))
	return wrapCoESrv(body)
}

func (s *Server) continueCoETransfer(cmd byte, sdoBody []byte) []byte {
	t := s.coe
	toggle := (cmd >> 4) & 1
	if toggle != t.toggle {
		s.coe = nil
		return s.coeAbort(t.index, t.subindex, 0x05030000)
	}

	if t.direction == coeDirDownload {
		unused := (cmd >> 1) & 0x7
		chunkLen := 7 - int(unused)
		noMore := cmd&protocol.CoESegmentNoMoreBit != 0
		t.buffer = append(t.buffer, sdoBody[1:1+chunkLen]...)
		respToggle := t.toggle
		t.toggle ^= 1
		if noMore {
			s.SetObject(t.index, t.subindex, t.buffer)
			s.coe = nil
		}
		body := []byte{protocol.CoECmdDownloadSegmentRsp | byte(respToggle<<4), 0, 0, 0, 0, 0, 0, 0}
		return wrapCoESrv(body)
	}

	remaining := len(t.buffer) - t.cursor
	chunk := remaining
	if chunk > 7 {
		chunk = 7
	}
	noMore := remaining <= 7
	unused := 7 - chunk
	respToggle := t.toggle
	cmdByte := byte(respToggle<<4) | byte(unused<<1)
	if noMore {
		cmdByte |= protocol.CoESegmentNoMoreBit
	}
	body := make([]byte, 8)
	body[0] = cmdByte
	copy(body[1:1+chunk], t.buffer[t.cursor:t.cursor+chunk])
	t.cursor += chunk
	t.toggle ^= 1
	if noMore {
		s.coe = nil
	}
	return wrapCoESrv(body)
}

func (s *Server) coeAbort(index uint16, subindex uint8, code uint32) []byte {
	body := make([]byte, 8)
	body[0] = protocol.CoECmdAbort
	protocol.PutUint16(body[1:3], index)
	body[3] = subindex
	protocol.PutUint32(body[4:8], code)
	return wrapCoESrv(body)
}

// coeUploadCapacity is the most upload data this server can inline into a
// single initiate-upload response alongside its size field.
func (s *Server) coeUploadCapacity() int {
	budget := int(s.sendSize) - protocol.MailboxHeaderLen - protocol.CoEHeaderLen - 8
	if budget < 0 {
		return 0
	}
	return budget
}

func wrapCoESrv(body []byte) []byte {
	buf := make([]byte, protocol.MailboxHeaderLen+protocol.CoEHeaderLen+len(body))
	protocol.PutMailboxHeader(buf, protocol.MailboxHeader{
		Length: uint16(protocol.CoEHeaderLen + len(body)),
		Type:   protocol.MailboxTypeCoE,
	})
	protocol.PutCoEHeader(buf[protocol.MailboxHeaderLen:], protocol.CoEHeader{Service: protocol.CoEServiceSDOResponse})
	copy(buf[protocol.MailboxHeaderLen+protocol.CoEHeaderLen:], body)
	return buf
}
