// Package kernelcaps gates which raw-socket speedups the transport may
// use on the running kernel, the way the teacher's pkg/linux/init.go
// gates TCPInfo struct layout on kernel version rather than probing it
// at runtime.
package kernelcaps

import (
	"fmt"

	"github.com/docker/docker/pkg/parsers/kernel"
)

// Capabilities reports which optional AF_PACKET speedups a kernel
// supports. All fields default false, matching a conservative kernel.
type Capabilities struct {
	// QDiscBypass allows PACKET_QDISC_BYPASS, skipping the queueing
	// discipline on transmit for lower and more consistent latency.
	QDiscBypass bool
	// BusyPoll allows SO_BUSY_POLL, spinning briefly in the kernel
	// instead of sleeping before a receive returns empty.
	BusyPoll bool
	// TxTime allows SO_TXTIME, scheduling a frame's transmission for a
	// specific point on the DC reference clock instead of sending it
	// immediately.
	TxTime bool
}

type versionGate struct {
	version kernel.VersionInfo
	flag    *bool
}

// Detect inspects the running kernel and returns the capabilities it
// supports. version is normally *kernel.GetKernelVersion(); callers in
// tests pass a fixed kernel.VersionInfo to exercise specific gates
// without depending on the host kernel.
func Detect(version kernel.VersionInfo) Capabilities {
	var caps Capabilities

	gates := []versionGate{
		{kernel.VersionInfo{Kernel: 3, Major: 11, Minor: 0}, &caps.BusyPoll},
		{kernel.VersionInfo{Kernel: 3, Major: 14, Minor: 0}, &caps.QDiscBypass},
		{kernel.VersionInfo{Kernel: 4, Major: 19, Minor: 0}, &caps.TxTime},
	}

	for _, g := range gates {
		if kernel.CompareKernelVersion(version, g.version) >= 0 {
			*g.flag = true
		}
	}
	return caps
}

// DetectHost calls Detect against the running kernel's reported
// version, the way the teacher's init() calls kernel.GetKernelVersion
// once at package load rather than per call.
func DetectHost() (Capabilities, error) {
	v, err := kernel.GetKernelVersion()
	if err != nil {
		return Capabilities{}, fmt.Errorf("kernelcaps: get kernel version: %w", err)
	}
	return Detect(*v), nil
}
