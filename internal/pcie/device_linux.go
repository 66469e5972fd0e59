//go:build linux

package pcie

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/fpgaio/internal/bar"
	"github.com/tinyrange/fpgaio/internal/hw"
)

// Device is a PCI function whose memory BARs are mapped into this process.
type Device struct {
	Addr  string
	Table *bar.Table
	Bus   *hw.Bus

	maps   [][]byte
	logger *slog.Logger
}

// Open maps every memory BAR of the function at addr (a domain:bus:dev.fn
// address such as 0000:03:00.0) whose index is below count.
func Open(addr string, count, hostControl int) (*Device, error) {
	dir := filepath.Join(SysfsRoot, addr)
	f, err := os.Open(filepath.Join(dir, "resource"))
	if err != nil {
		return nil, fmt.Errorf("pcie: %w", err)
	}
	resources, err := ParseResources(f)
	f.Close()
	if err != nil {
		return nil, err
	}

	table, err := bar.NewTable(count, hostControl)
	if err != nil {
		return nil, err
	}
	d := &Device{
		Addr:   addr,
		Table:  table,
		Bus:    hw.NewBus(),
		logger: slog.Default(),
	}
	windows := make(map[int]hw.Window)
	for _, r := range resources {
		if r.Index >= count || !r.IsMemory() || r.Size() == 0 {
			continue
		}
		mem, err := mapResource(dir, r)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.maps = append(d.maps, mem)
		if err := table.Add(r.Index, r.Start, uint64(len(mem))); err != nil {
			d.Close()
			return nil, err
		}
		windows[r.Index] = hw.NewMapping(mem)
		d.logger.Debug("mapped BAR",
			slog.Int("bar", r.Index),
			slog.String("base", fmt.Sprintf("%#x", r.Start)),
			slog.Uint64("size", r.Size()),
		)
	}
	if err := table.Map(d.Bus, windows); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func mapResource(dir string, r Resource) ([]byte, error) {
	name := filepath.Join(dir, fmt.Sprintf("resource%d", r.Index))
	f, err := os.OpenFile(name, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("pcie: %w", err)
	}
	defer f.Close()

	mem, err := unix.Mmap(int(f.Fd()), 0, int(r.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("pcie: mmap %s: %w", name, err)
	}
	return mem, nil
}

// Close unmaps every BAR. The Bus must not be used afterwards.
func (d *Device) Close() error {
	var first error
	for _, m := range d.maps {
		if err := unix.Munmap(m); err != nil && first == nil {
			first = fmt.Errorf("pcie: munmap: %w", err)
		}
	}
	d.maps = nil
	return first
}
