package mailboxsrv

import "github.com/leducp/kickcat/protocol"

// foeTransfer tracks one in-progress FoE read (slave -> master) or write
// (master -> slave) across rounds; nil on Server between transfers.
type foeTransfer struct {
	read     bool
	filename string
	buffer   []byte
	cursor   int
	packet   uint32
	done     bool // read only: the last DATA chunk has been sent, awaiting its ACK
}

func foeHeaderSrv(opcode uint8, param uint32) []byte {
	h := make([]byte, 6, 6+8)
	h[0] = opcode
	protocol.PutUint32(h[2:6], param)
	return h
}

func wrapFoESrv(body []byte) []byte {
	buf := make([]byte, protocol.MailboxHeaderLen+len(body))
	protocol.PutMailboxHeader(buf, protocol.MailboxHeader{
		Length: uint16(len(body)),
		Type:   protocol.MailboxTypeFoE,
	})
	copy(buf[protocol.MailboxHeaderLen:], body)
	return buf
}

func foeError(code uint32, text string) []byte {
	body := foeHeaderSrv(protocol.FoEOpError, code)
	body = append(body, []byte(text)...)
	return wrapFoESrv(body)
}

// foeSendCapacity is the most file data this server can pack into one DATA
// chunk it sends (a read response); foeRecvCapacity is the most it expects
// per DATA chunk it receives (a write request) — mirroring image of each
// other across the sendSize/recvSize SyncManager pair.
func (s *Server) foeSendCapacity() int {
	budget := int(s.sendSize) - protocol.MailboxHeaderLen - 6
	if budget < 0 {
		return 0
	}
	return budget
}

func (s *Server) foeRecvCapacity() int {
	budget := int(s.recvSize) - protocol.MailboxHeaderLen - 6
	if budget < 0 {
		return 0
	}
	return budget
}

func (s *Server) handleFoE(body []byte) []byte {
	if len(body) < 6 {
		return nil
	}
	opcode := body[0]

	if s.foe == nil {
		switch opcode {
		case protocol.FoEOpRRQ:
			filename := string(body[6:])
			data, ok := s.File(filename)
			if !ok {
				return foeError(1, "file not found")
			}
			s.foe = &foeTransfer{read: true, filename: filename, buffer: data}
			return s.foeSendNextChunk()
		case protocol.FoEOpWRQ:
			filename := string(body[6:])
			s.foe = &foeTransfer{read: false, filename: filename}
			return wrapFoESrv(foeHeaderSrv(protocol.FoEOpACK, 0))
		default:
			return nil
		}
	}

	if s.foe.read {
		if opcode != protocol.FoEOpACK {
			return nil
		}
		if s.foe.done {
			s.foe = nil
			return nil // final ACK needs no further reply, the transfer is over
		}
		return s.foeSendNextChunk()
	}

	if opcode != protocol.FoEOpDATA {
		return nil
	}
	chunk := body[6:]
	s.foe.buffer = append(s.foe.buffer, chunk...)
	s.foe.packet++
	ack := s.foe.packet
	if len(chunk) < s.foeRecvCapacity() {
		s.SetFile(s.foe.filename, s.foe.buffer)
		s.foe = nil
	}
	return wrapFoESrv(foeHeaderSrv(protocol.FoEOpACK, ack))
}

func (s *Server) foeSendNextChunk() []byte {
	t := s.foe
	remaining := len(t.buffer) - t.cursor
	cap := s.foeSendCapacity()
	chunk := remaining
	if chunk > cap {
		chunk = cap
	}
	t.packet++
	body := foeHeaderSrv(protocol.FoEOpDATA, t.packet)
	body = append(body, t.buffer[t.cursor:t.cursor+chunk]...)
	t.cursor += chunk
	if chunk < cap {
		t.done = true
	}
	return wrapFoESrv(body)
}
