package mailbox

import "github.com/leducp/kickcat/protocol"

// sdoBuildRequest builds the next outgoing SDO round for msg, whose phase
// and direction determine whether this is an initiate or a segment.
func sdoBuildRequest(msg *message) []byte {
	if msg.phase == coePhaseSegment {
		return sdoBuildSegmentRequest(msg)
	}
	return sdoBuildInitiateRequest(msg)
}

func sdoBuildInitiateRequest(msg *message) []byte {
	sub := msg.activeSubindex()

	if msg.direction == Upload {
		body := make([]byte, 8)
		body[0] = protocol.CoECmdInitiateUploadReq
		protocol.PutUint16(body[1:3], msg.index)
		body[3] = sub
		return wrapCoE(msg, body)
	}

	remaining := msg.payloadCapacity()
	if remaining <= 4 {
		n := 4 - remaining
		body := make([]byte, 8)
		body[0] = protocol.CoECmdInitiateDownloadReq | byte(n<<2) | protocol.CoECmdExpeditedFlag | protocol.CoECmdSizeIndicator
		protocol.PutUint16(body[1:3], msg.index)
		body[3] = sub
		copy(body[4:4+remaining], msg.buffer[msg.cursor:])
		msg.cursor = len(msg.buffer)
		return wrapCoE(msg, body)
	}

	body := make([]byte, 8, 8+remaining)
	body[0] = protocol.CoECmdInitiateDownloadReq | protocol.CoECmdSizeIndicator
	protocol.PutUint16(body[1:3], msg.index)
	body[3] = sub
	protocol.PutUint32(body[4:8], uint32(remaining))
	msg.expectedSize = remaining

	if remaining <= msg.capacity {
		body = append(body, msg.buffer[msg.cursor:]...)
		msg.cursor = len(msg.buffer)
	} else {
		msg.phase = coePhaseSegment
	}
	return wrapCoE(msg, body)
}

func sdoBuildSegmentRequest(msg *message) []byte {
	if msg.direction == Upload {
		body := make([]byte, 8)
		body[0] = protocol.CoECmdUploadSegmentReq | byte(msg.toggle<<4)
		return wrapCoE(msg, body)
	}

	remaining := len(msg.buffer) - msg.cursor
	chunk := remaining
	if chunk > 7 {
		chunk = 7
	}
	noMore := remaining <= 7
	unused := 7 - chunk
	cmd := byte(msg.toggle<<4) | byte(unused<<1)
	if noMore {
		cmd |= protocol.CoESegmentNoMoreBit
	}
	body := make([]byte, 8)
	body[0] = cmd
	copy(body[1:1+chunk], msg.buffer[msg.cursor:msg.cursor+chunk])
	msg.cursor += chunk
	return wrapCoE(msg, body)
}

// sdoHandleResponse advances msg's state machine from one SDO response.
// It returns true once the message has reached a terminal status.
func sdoHandleResponse(msg *message, coeBody []byte) bool {
	if len(coeBody) < 8 {
		msg.status = StatusTransportError
		return true
	}
	cmd := coeBody[0]
	specifier := cmd & 0xE0

	if specifier == protocol.CoECmdAbort {
		msg.abortCode = protocol.Uint32(coeBody[4:8])
		msg.status = StatusCoEAborted
		return true
	}

	if msg.phase == coePhaseSegment {
		return sdoHandleSegmentResponse(msg, cmd, coeBody)
	}
	return sdoHandleInitiateResponse(msg, cmd, coeBody)
}

func sdoHandleInitiateResponse(msg *message, cmd byte, coeBody []byte) bool {
	specifier := cmd & 0xE0

	if msg.direction == Download {
		if specifier != protocol.CoECmdInitiateDownloadRsp {
			msg.status = StatusCoEWrongService
			return true
		}
		if msg.cursor >= len(msg.buffer) {
			return sdoSubindexComplete(msg)
		}
		// Normal transfer too large to inline: segmentation continues on
		// the next round (sdoBuildInitiateRequest already flipped phase).
		return false
	}

	if specifier != protocol.CoECmdInitiateUploadRsp {
		msg.status = StatusCoEUnknownService
		return true
	}

	expedited := cmd&protocol.CoECmdExpeditedFlag != 0
	sizeIndicated := cmd&protocol.CoECmdSizeIndicator != 0

	if expedited {
		n := (cmd >> 2) & 0x3
		dataLen := 4 - int(n)
		if !msg.writeUploadData(coeBody[4 : 4+dataLen]) {
			msg.status = StatusCoEClientBufferTooSmall
			return true
		}
		return sdoSubindexComplete(msg)
	}

	if !sizeIndicated {
		msg.status = StatusCoEUnknownService
		return true
	}

	totalSize := int(protocol.Uint32(coeBody[4:8]))
	inline := coeBody[8:]
	if len(inline) >= totalSize {
		if !msg.writeUploadData(inline[:totalSize]) {
			msg.status = StatusCoEClientBufferTooSmall
			return true
		}
		return sdoSubindexComplete(msg)
	}

	if !msg.writeUploadData(inline) {
		msg.status = StatusCoEClientBufferTooSmall
		return true
	}
	msg.expectedSize = totalSize
	msg.phase = coePhaseSegment
	msg.toggle = 0
	return false
}

func sdoHandleSegmentResponse(msg *message, cmd byte, coeBody []byte) bool {
	specifier := cmd & 0xE0
	toggle := (cmd >> 4) & 1
	if toggle != msg.toggle {
		msg.status = StatusCoESegmentBadToggleBit
		return true
	}
	msg.toggle ^= 1

	if msg.direction == Download {
		if specifier != protocol.CoECmdDownloadSegmentRsp {
			msg.status = StatusCoEWrongService
			return true
		}
		if msg.cursor >= len(msg.buffer) {
			return sdoSubindexComplete(msg)
		}
		return false
	}

	if specifier != protocol.CoECmdUploadSegmentRsp {
		msg.status = StatusCoEWrongService
		return true
	}
	unused := (cmd >> 1) & 0x7
	segLen := 7 - int(unused)
	noMore := cmd&protocol.CoESegmentNoMoreBit != 0

	if !msg.writeUploadData(coeBody[1 : 1+segLen]) {
		msg.status = StatusCoEClientBufferTooSmall
		return true
	}
	if noMore {
		return sdoSubindexComplete(msg)
	}
	return false
}

// sdoSubindexComplete is reached whenever one subindex's transfer finishes.
// For an ordinary SDO that is the whole message; for a Complete-Access
// emulation it advances to the next subindex (or finishes once caCount
// elements have been read), per SPEC_FULL.md's resolution of the
// "emulated Complete Access" design question: a 1-byte read of subindex 0
// supplies the entry count, then subindices 1..count are read in order
// into the caller's buffer.
func sdoSubindexComplete(msg *message) bool {
	if !msg.completeAccess {
		msg.status = StatusSuccess
		return true
	}

	if msg.caStep == 0 {
		if msg.caScratchLen < 1 {
			msg.status = StatusTransportError
			return true
		}
		msg.caCount = int(msg.caScratch[0])
		msg.caStep = 1
		msg.phase = coePhaseInitiate
		msg.toggle = 0
		if msg.caCount == 0 {
			msg.status = StatusSuccess
			return true
		}
		return false
	}

	if int(msg.caStep) >= msg.caCount {
		msg.status = StatusSuccess
		return true
	}
	msg.caStep++
	msg.phase = coePhaseInitiate
	msg.toggle = 0
	return false
}

// wrapCoE prefixes a CoE header to body and returns the full mailbox
// message bytes (mailbox header included) with msg.counter already set
// by the Mailbox's Send dispatcher.
func wrapCoE(msg *message, body []byte) []byte {
	buf := make([]byte, protocol.MailboxHeaderLen+protocol.CoEHeaderLen+len(body))
	protocol.PutMailboxHeader(buf, protocol.MailboxHeader{
		Length:  uint16(protocol.CoEHeaderLen + len(body)),
		Address: 0,
		Type:    protocol.MailboxTypeCoE,
		Counter: msg.counter,
	})
	protocol.PutCoEHeader(buf[protocol.MailboxHeaderLen:], protocol.CoEHeader{
		Service: protocol.CoEServiceSDORequest,
	})
	copy(buf[protocol.MailboxHeaderLen+protocol.CoEHeaderLen:], body)
	return buf
}
