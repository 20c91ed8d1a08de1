package mailbox

import "github.com/leducp/kickcat/protocol"

// EoEIPConfig carries the fields a Set-IP request configures or a Get-IP
// response reports, selected by the bitmask in eoeParams (spec.md section
// 4.D "EoE Set-IP/Get-IP").
type EoEIPConfig struct {
	Params  uint16
	MAC     [6]byte
	IP      [4]byte
	Subnet  [4]byte
	Gateway [4]byte
	DNS     [4]byte
	DNSName string
}

func wrapEoE(msg *message, body []byte) []byte {
	buf := make([]byte, protocol.MailboxHeaderLen+len(body))
	protocol.PutMailboxHeader(buf, protocol.MailboxHeader{
		Length:  uint16(len(body)),
		Address: 0,
		Type:    protocol.MailboxTypeEoE,
		Counter: msg.counter,
	})
	copy(buf[protocol.MailboxHeaderLen:], body)
	return buf
}

// eoeEncodeConfig lays out the fixed-width IP configuration fields after a
// 2-byte opcode+param header; fields the caller didn't select in Params
// are still present but zeroed, trading a few wasted bytes for a layout
// simple enough that Get-IP's response can reuse the same decoder.
func eoeEncodeConfig(cfg EoEIPConfig) []byte {
	body := make([]byte, 2+6+4+4+4+4+len(cfg.DNSName))
	protocol.PutUint16(body[0:2], cfg.Params)
	copy(body[2:8], cfg.MAC[:])
	copy(body[8:12], cfg.IP[:])
	copy(body[12:16], cfg.Subnet[:])
	copy(body[16:20], cfg.Gateway[:])
	copy(body[20:24], cfg.DNS[:])
	copy(body[24:], cfg.DNSName)
	return body
}

func eoeDecodeConfig(data []byte) EoEIPConfig {
	var cfg EoEIPConfig
	if len(data) < 24 {
		return cfg
	}
	cfg.Params = protocol.Uint16(data[0:2])
	copy(cfg.MAC[:], data[2:8])
	copy(cfg.IP[:], data[8:12])
	copy(cfg.Subnet[:], data[12:16])
	copy(cfg.Gateway[:], data[16:20])
	copy(cfg.DNS[:], data[20:24])
	cfg.DNSName = string(data[24:])
	return cfg
}

func eoeBuildRequest(msg *message) []byte {
	if msg.kind == kindEoEGetIP {
		body := make([]byte, 2)
		body[0] = protocol.EoEOpMacAddrFilterReq
		return wrapEoE(msg, body)
	}
	cfg := EoEIPConfig{
		Params:  msg.eoeParams,
		MAC:     msg.eoeMAC,
		IP:      msg.eoeIP,
		Subnet:  msg.eoeSubnet,
		Gateway: msg.eoeGateway,
		DNS:     msg.eoeDNS,
		DNSName: msg.eoeDNSName,
	}
	payload := eoeEncodeConfig(cfg)
	body := make([]byte, 2+len(payload))
	body[0] = protocol.EoEOpInitReq
	copy(body[2:], payload)
	return wrapEoE(msg, body)
}

func eoeHandleResponse(msg *message, body []byte) bool {
	if len(body) < 2 {
		msg.status = StatusTransportError
		return true
	}
	if msg.kind == kindEoEGetIP {
		if body[0] != protocol.EoEOpMacAddrFilterRsp {
			msg.status = StatusCoEWrongService
			return true
		}
		cfg := eoeDecodeConfig(body[2:])
		msg.eoeParams = cfg.Params
		msg.eoeMAC = cfg.MAC
		msg.eoeIP = cfg.IP
		msg.eoeSubnet = cfg.Subnet
		msg.eoeGateway = cfg.Gateway
		msg.eoeDNS = cfg.DNS
		msg.eoeDNSName = cfg.DNSName
		msg.status = StatusSuccess
		return true
	}
	if body[0] != protocol.EoEOpInitRsp {
		msg.status = StatusCoEWrongService
		return true
	}
	msg.status = StatusSuccess
	return true
}
