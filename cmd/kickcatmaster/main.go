package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/leducp/kickcat/bus"
	"github.com/leducp/kickcat/clock"
	"github.com/leducp/kickcat/link"
	"github.com/leducp/kickcat/metrics"
	"github.com/leducp/kickcat/socket"
)

// imageSize bounds the logical process image this demo allocates; a real
// deployment would size it from its own slave configuration instead of
// guessing, but this binary exists to drive the library end to end
// (SPEC_FULL.md §2 "bring-up demo binary"), not to ship a configurable
// master.
const imageSize = 4096

const (
	initTimeout   = 5 * time.Second
	metricsListen = ":9100"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <nominal-iface> [redundant-iface]\n", os.Args[0])
		os.Exit(1)
	}
	nominalIface := os.Args[1]
	redundantIface := ""
	if len(os.Args) > 2 {
		redundantIface = os.Args[2]
	}

	srcMAC, err := interfaceMAC(nominalIface)
	if err != nil {
		logrus.Fatalf("kickcatmaster: %v", err)
	}

	nominal := socket.NewRaw()
	if err := nominal.Open(nominalIface); err != nil {
		logrus.Fatalf("kickcatmaster: open nominal interface %q: %v", nominalIface, err)
	}
	defer nominal.Close()

	var redundant socket.Socket = socket.Null{}
	if redundantIface != "" {
		r := socket.NewRaw()
		if err := r.Open(redundantIface); err != nil {
			logrus.Fatalf("kickcatmaster: open redundant interface %q: %v", redundantIface, err)
		}
		defer r.Close()
		redundant = r
	}

	clk := clock.Real{}
	log := logrus.NewEntry(logrus.StandardLogger())

	l := link.New(nominal, redundant, srcMAC, clk, log)

	collector := metrics.New(prometheus.Labels{"app": "kickcatmaster", "iface": nominalIface})
	prometheus.MustRegister(collector)
	go serveMetrics()

	b := bus.New(l, clk, log)
	b.SetRecorder(collector)

	logrus.Infof("kickcatmaster: discovering slaves on %s", nominalIface)
	if err := b.Init(initTimeout); err != nil {
		logrus.Fatalf("kickcatmaster: Init: %v", err)
	}
	logrus.Infof("kickcatmaster: %d slave(s) discovered", len(b.Slaves()))

	image := make([]byte, imageSize)
	helpers := bus.NewHelpers(b)
	if err := b.CreateMapping(image); err != nil {
		logrus.Fatalf("kickcatmaster: CreateMapping: %v", err)
	}
	if err := b.RequestState(bus.StateSafeOp); err != nil {
		logrus.Fatalf("kickcatmaster: RequestState(SAFE-OP): %v", err)
	}
	if err := helpers.WaitForAllSlaves(bus.StateSafeOp, initTimeout, nil); err != nil {
		logrus.Fatalf("kickcatmaster: WaitForState(SAFE-OP): %v", err)
	}
	if err := b.RequestState(bus.StateOp); err != nil {
		logrus.Fatalf("kickcatmaster: RequestState(OP): %v", err)
	}
	if err := helpers.WaitForAllSlaves(bus.StateOp, initTimeout, nil); err != nil {
		logrus.Fatalf("kickcatmaster: WaitForState(OP): %v", err)
	}
	logrus.Infof("kickcatmaster: bus operational, entering cyclic loop")

	runCyclic(b)
}

// runCyclic drives the process-data exchange and mailbox polling forever
// at a fixed period, logging (not panicking on) transport and WKC errors
// so a single bad cycle doesn't bring the whole loop down.
func runCyclic(b *bus.Bus) {
	const period = 1 * time.Millisecond
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	onErr := func(err error) {
		logrus.Warnf("kickcatmaster: cyclic: %v", err)
	}

	for range ticker.C {
		if err := b.ProcessDataWrite(onErr); err != nil {
			logrus.Fatalf("kickcatmaster: ProcessDataWrite: %v", err)
		}
		if err := b.ProcessDataRead(onErr); err != nil {
			logrus.Fatalf("kickcatmaster: ProcessDataRead: %v", err)
		}
		if err := b.ProcessAwaitingFrames(); err != nil {
			logrus.Fatalf("kickcatmaster: ProcessAwaitingFrames: %v", err)
		}
	}
}

func serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logrus.Infof("kickcatmaster: metrics on %s/metrics", metricsListen)
	if err := http.ListenAndServe(metricsListen, mux); err != nil {
		logrus.Warnf("kickcatmaster: metrics server: %v", err)
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
