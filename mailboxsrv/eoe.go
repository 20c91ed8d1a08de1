package mailboxsrv

import "github.com/leducp/kickcat/protocol"

// eoeConfig mirrors the wire layout mailbox.EoEIPConfig encodes on the
// request side: 2-byte params, 6-byte MAC, four 4-byte address fields,
// trailing variable-length DNS name.
type eoeConfig struct {
	Params  uint16
	MAC     [6]byte
	IP      [4]byte
	Subnet  [4]byte
	Gateway [4]byte
	DNS     [4]byte
	DNSName string
}

func wrapEoESrv(body []byte) []byte {
	buf := make([]byte, protocol.MailboxHeaderLen+len(body))
	protocol.PutMailboxHeader(buf, protocol.MailboxHeader{
		Length: uint16(len(body)),
		Type:   protocol.MailboxTypeEoE,
	})
	copy(buf[protocol.MailboxHeaderLen:], body)
	return buf
}

func encodeEoEConfig(cfg eoeConfig) []byte {
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

func decodeEoEConfig(data []byte) eoeConfig {
	var cfg eoeConfig
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

// SetEoEConfig seeds the IP configuration a subsequent Get-IP reports, as a
// test harness would to simulate a slave with a pre-existing address.
func (s *Server) SetEoEConfig(cfg eoeConfig) {
	s.eoe = cfg
}

// EoEConfig reads back the IP configuration a prior Set-IP stored.
func (s *Server) EoEConfig() eoeConfig {
	return s.eoe
}

func (s *Server) handleEoE(body []byte) []byte {
	if len(body) < 2 {
		return nil
	}
	switch body[0] {
	case protocol.EoEOpMacAddrFilterReq:
		payload := encodeEoEConfig(s.eoe)
		resp := make([]byte, 2+len(payload))
		resp[0] = protocol.EoEOpMacAddrFilterRsp
		copy(resp[2:], payload)
		return wrapEoESrv(resp)
	case protocol.EoEOpInitReq:
		s.eoe = decodeEoEConfig(body[2:])
		return wrapEoESrv([]byte{protocol.EoEOpInitRsp, 0})
	default:
		return nil
	}
}
