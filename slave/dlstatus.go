package slave

// DLStatus is the per-slave Data Link Status register (ESC 0x0110):
// physical link, loop, and communication bits for each of the four ports,
// plus the PDI/watchdog summary bits (spec.md section 3 "Slave" and
// section 4.F "count_open_ports sums PL_port0..PL_port3").
type DLStatus struct {
	PDIOperational bool
	WatchdogOK     bool
	ExtendedLink   bool

	PLPort   [4]bool // physical link detected
	LoopPort [4]bool // port is in loop-back (no downstream device)
	ComPort  [4]bool // a valid Ethernet frame has been seen on this port
}

// DecodeDLStatus unpacks the 16-bit DL status register value read from a
// slave via FPRD, following the ETG.1000.4 bit layout also used by SOEM's
// ec_dlstatus.
func DecodeDLStatus(reg uint16) DLStatus {
	var s DLStatus
	s.PDIOperational = reg&(1<<0) != 0
	s.WatchdogOK = reg&(1<<1) != 0
	s.ExtendedLink = reg&(1<<2) != 0
	for i := 0; i < 4; i++ {
		s.PLPort[i] = reg&(1<<(4+i)) != 0
		s.LoopPort[i] = reg&(1<<(8+i)) != 0
		s.ComPort[i] = reg&(1<<(12+i)) != 0
	}
	return s
}

// CountOpenPorts sums the physical-link bits across all four ports
// (spec.md section 4.F).
func (s DLStatus) CountOpenPorts() int {
	n := 0
	for _, up := range s.PLPort {
		if up {
			n++
		}
	}
	return n
}
