package slave

import "testing"

func TestDecodeDLStatusPortBits(t *testing.T) {
	// PDI operational + port0 link/loop/com + port2 link only.
	reg := uint16(1<<0 | 1<<4 | 1<<8 | 1<<12 | 1<<6)
	s := DecodeDLStatus(reg)
	if !s.PDIOperational {
		t.Error("PDIOperational should be set")
	}
	if !s.PLPort[0] || !s.LoopPort[0] || !s.ComPort[0] {
		t.Errorf("port0 bits = %+v, want all set", s)
	}
	if !s.PLPort[2] {
		t.Error("PLPort[2] should be set")
	}
	if s.LoopPort[2] || s.ComPort[2] {
		t.Error("port2 loop/com should not be set")
	}
	if s.CountOpenPorts() != 2 {
		t.Errorf("CountOpenPorts = %d, want 2", s.CountOpenPorts())
	}
}
