package bus

import (
	"fmt"
	"io"

	"github.com/leducp/kickcat/slave"
)

// DumpTopology writes the inferred parent/child topology and each
// slave's diagnostics string to w (SPEC_FULL.md supplemented feature 3,
// grounded on original_source's Prints.cc).
func (b *Bus) DumpTopology(w io.Writer) error {
	topology, err := slave.Topology(b.slaves)
	if err != nil {
		return fmt.Errorf("bus: DumpTopology: %w", err)
	}
	for _, s := range b.slaves {
		if err := s.WriteDiagnostics(w); err != nil {
			return err
		}
		if parent := topology[s.Address]; parent != s.Address {
			if _, err := fmt.Fprintf(w, "  parent: %#04x\n", parent); err != nil {
				return err
			}
		} else {
			if _, err := fmt.Fprintln(w, "  parent: (root)"); err != nil {
				return err
			}
		}
	}
	return nil
}
