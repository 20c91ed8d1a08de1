package slave

import "fmt"

// Topology infers the physical bus arrangement (line, branch, or tree)
// from each slave's open-port count, walking the chain in discovery
// order and tracking branch points on a stack — ported from
// original_source's getTopology (lib/master/src/Diagnostics.cc), which
// spec.md section 8 requires as a testable property but leaves unnamed.
//
// The returned map has one entry per slave, keyed by its Address, whose
// value is the Address of its parent; the root slave (the first one
// walked) is its own parent. A slave with zero open ports is rejected.
func Topology(slaves []*Slave) (map[uint16]uint16, error) {
	if len(slaves) == 0 {
		return map[uint16]uint16{}, nil
	}

	topology := make(map[uint16]uint16, len(slaves))
	lastSeen := slaves[0].Address
	var branches []uint16

	for _, s := range slaves {
		openPorts := s.CountOpenPorts()
		switch openPorts {
		case 0:
			return nil, fmt.Errorf("slave: no open port on slave %#04x - it should not exist in the bus", s.Address)
		case 1:
			topology[s.Address] = lastSeen
			lastSeen = s.Address
			if n := len(branches); n > 0 {
				lastSeen = branches[n-1]
				branches = branches[:n-1]
			}
		case 2:
			topology[s.Address] = lastSeen
			lastSeen = s.Address
		default:
			topology[s.Address] = lastSeen
			lastSeen = s.Address
			for i := 2; i < openPorts; i++ {
				branches = append(branches, s.Address)
			}
		}
	}
	return topology, nil
}
