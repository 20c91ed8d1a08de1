// kickcatscan runs discovery on an interface and prints the inferred bus
// topology and each slave's diagnostics, without driving the bus past
// PRE-OP. It is a read-only counterpart to kickcatmaster, grounded on
// original_source's scanTopology tool (SPEC_FULL.md supplemented feature 5).
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leducp/kickcat/bus"
	"github.com/leducp/kickcat/clock"
	"github.com/leducp/kickcat/link"
	"github.com/leducp/kickcat/socket"
)

const scanTimeout = 5 * time.Second

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <iface>\n", os.Args[0])
		os.Exit(1)
	}
	iface := os.Args[1]

	srcMAC, err := interfaceMAC(iface)
	if err != nil {
		logrus.Fatalf("kickcatscan: %v", err)
	}

	nominal := socket.NewRaw()
	if err := nominal.Open(iface); err != nil {
		logrus.Fatalf("kickcatscan: open interface %q: %v", iface, err)
	}
	defer nominal.Close()

	clk := clock.Real{}
	log := logrus.NewEntry(logrus.StandardLogger())
	l := link.New(nominal, socket.Null{}, srcMAC, clk, log)
	b := bus.New(l, clk, log)

	logrus.Infof("kickcatscan: discovering slaves on %s", iface)
	if err := b.Init(scanTimeout); err != nil {
		logrus.Fatalf("kickcatscan: Init: %v", err)
	}

	slaves := b.Slaves()
	logrus.Infof("kickcatscan: %d slave(s) discovered", len(slaves))
	for _, s := range slaves {
		state, err := b.GetCurrentState(s.Address, scanTimeout)
		if err != nil {
			logrus.Warnf("kickcatscan: GetCurrentState(%#04x): %v", s.Address, err)
			continue
		}
		logrus.Infof("kickcatscan: slave %#04x state is %s", s.Address, state)
	}

	if err := b.DumpTopology(os.Stdout); err != nil {
		logrus.Fatalf("kickcatscan: DumpTopology: %v", err)
	}
}

// interfaceMAC looks up iface's hardware address for use as the frame's
// source MAC.
func interfaceMAC(iface string) ([6]byte, error) {
	var mac [6]byte
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return mac, fmt.Errorf("lookup interface %q: %w", iface, err)
	}
	if len(ifi.HardwareAddr) != 6 {
		return mac, fmt.Errorf("interface %q has no Ethernet MAC address", iface)
	}
	copy(mac[:], ifi.HardwareAddr)
	return mac, nil
}
