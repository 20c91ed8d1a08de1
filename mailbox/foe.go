package mailbox

import "github.com/leducp/kickcat/protocol"

// FoE header layout used by this implementation: opcode(1), reserved(1),
// param(4, LE) — password for RRQ/WRQ, packet number for DATA/ACK, error
// code for ERROR — followed by opcode-specific data (spec.md section 4.D
// "FoE file transfer").
func foeHeader(opcode uint8, param uint32) []byte {
	h := make([]byte, 6, 6+8)
	h[0] = opcode
	h[1] = 0
	protocol.PutUint32(h[2:6], param)
	return h
}

func wrapFoE(msg *message, body []byte) []byte {
	buf := make([]byte, protocol.MailboxHeaderLen+len(body))
	protocol.PutMailboxHeader(buf, protocol.MailboxHeader{
		Length:  uint16(len(body)),
		Address: 0,
		Type:    protocol.MailboxTypeFoE,
		Counter: msg.counter,
	})
	copy(buf[protocol.MailboxHeaderLen:], body)
	return buf
}

func foeBuildRequest(msg *message) []byte {
	if msg.kind == kindFoEWrite {
		return foeWriteBuildRequest(msg)
	}
	return foeReadBuildRequest(msg)
}

func foeHandleResponse(msg *message, body []byte) bool {
	if msg.kind == kindFoEWrite {
		return foeWriteHandleResponse(msg, body)
	}
	return foeReadHandleResponse(msg, body)
}

func foeReadBuildRequest(msg *message) []byte {
	switch msg.foePhase {
	case foePhaseStart:
		body := foeHeader(protocol.FoEOpRRQ, msg.password)
		body = append(body, []byte(msg.filename)...)
		msg.foePhase = foePhaseTransfer
		return wrapFoE(msg, body)
	default: // transfer or done: ACK the last packet received
		body := foeHeader(protocol.FoEOpACK, uint32(msg.foePacket))
		if msg.foePhase == foePhaseDone {
			msg.status = StatusSuccess
		}
		return wrapFoE(msg, body)
	}
}

func foeReadHandleResponse(msg *message, body []byte) bool {
	if len(body) < 6 {
		msg.status = StatusTransportError
		return true
	}
	switch body[0] {
	case protocol.FoEOpError:
		msg.foeErrCode = uint16(protocol.Uint32(body[2:6]))
		msg.foeErrText = string(body[6:])
		msg.status = StatusTransportError
		return true
	case protocol.FoEOpBusy:
		if msg.foePacket == 0 {
			// No DATA received yet: the request in flight was the RRQ.
			msg.foePhase = foePhaseStart
		}
		return false // retry the same request next round
	case protocol.FoEOpDATA:
		packet := protocol.Uint32(body[2:6])
		chunk := body[6:]
		if !msg.writeUploadData(chunk) {
			msg.status = StatusCoEClientBufferTooSmall
			return true
		}
		msg.foePacket = uint16(packet)
		if len(chunk) < msg.capacity {
			msg.foePhase = foePhaseDone
		} else {
			msg.foePhase = foePhaseTransfer
		}
		return false
	default:
		msg.status = StatusCoEUnknownService
		return true
	}
}

func foeWriteBuildRequest(msg *message) []byte {
	if msg.foePhase == foePhaseStart {
		body := foeHeader(protocol.FoEOpWRQ, msg.password)
		body = append(body, []byte(msg.filename)...)
		msg.foePhase = foePhaseTransfer
		return wrapFoE(msg, body)
	}

	remaining := len(msg.buffer) - msg.cursor
	chunk := remaining
	if chunk > msg.capacity {
		chunk = msg.capacity
	}
	msg.foePacket++
	body := foeHeader(protocol.FoEOpDATA, uint32(msg.foePacket))
	body = append(body, msg.buffer[msg.cursor:msg.cursor+chunk]...)
	msg.cursor += chunk
	if msg.cursor >= len(msg.buffer) {
		msg.foePhase = foePhaseDone
	}
	return wrapFoE(msg, body)
}

func foeWriteHandleResponse(msg *message, body []byte) bool {
	if len(body) < 6 {
		msg.status = StatusTransportError
		return true
	}
	switch body[0] {
	case protocol.FoEOpError:
		msg.foeErrCode = uint16(protocol.Uint32(body[2:6]))
		msg.foeErrText = string(body[6:])
		msg.status = StatusTransportError
		return true
	case protocol.FoEOpBusy:
		return false
	case protocol.FoEOpACK:
		if msg.foePhase == foePhaseDone {
			msg.status = StatusSuccess
			return true
		}
		return false
	default:
		msg.status = StatusCoEUnknownService
		return true
	}
}
