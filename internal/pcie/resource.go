// Package pcie discovers and maps the memory BARs of a PCI function through
// sysfs.
package pcie

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ioresourceMem marks a memory BAR in the sysfs resource flags.
const ioresourceMem = 0x200

// SysfsRoot is where PCI functions are listed.
var SysfsRoot = "/sys/bus/pci/devices"

// Resource is one line of a function's sysfs "resource" file.
type Resource struct {
	Index int
	Start uint64
	End   uint64
	Flags uint64
}

// Size returns the resource length in bytes, or 0 for an unused slot.
func (r Resource) Size() uint64 {
	if r.Start == 0 && r.End == 0 {
		return 0
	}
	return r.End - r.Start + 1
}

// IsMemory reports whether the resource is a memory BAR.
func (r Resource) IsMemory() bool { return r.Flags&ioresourceMem != 0 }

// ParseResources reads a sysfs resource file. Each line holds the start,
// end and flags of one resource, in hex.
func ParseResources(r io.Reader) ([]Resource, error) {
	var out []Resource
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var res Resource
		n, err := fmt.Sscanf(line, "0x%x 0x%x 0x%x", &res.Start, &res.End, &res.Flags)
		if err != nil || n != 3 {
			return nil, fmt.Errorf("pcie: resource line %d %q: malformed", len(out), line)
		}
		if res.End < res.Start {
			return nil, fmt.Errorf("pcie: resource line %d ends before it starts", len(out))
		}
		res.Index = len(out)
		out = append(out, res)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("pcie: read resources: %w", err)
	}
	return out, nil
}
