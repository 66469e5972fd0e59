//go:build linux

package pcie

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// fakeSysfs lays out a function directory whose resourceN files are plain
// files, which mmap the same way as BARs.
func fakeSysfs(t *testing.T, addr string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, addr)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	resources := "0x00000000fb000000 0x00000000fb000fff 0x0000000000040200\n" +
		"0x0000000000000000 0x0000000000000000 0x0000000000000000\n" +
		"0x00000000fc000000 0x00000000fc001fff 0x0000000000040200\n"
	if err := os.WriteFile(filepath.Join(dir, "resource"), []byte(resources), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	for idx, size := range map[int]int{0: 0x1000, 2: 0x2000} {
		name := filepath.Join(dir, fmt.Sprintf("resource%d", idx))
		if err := os.WriteFile(name, make([]byte, size), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	return root
}

func TestOpenMapsMemoryBARs(t *testing.T) {
	const addr = "0000:03:00.0"
	old := SysfsRoot
	SysfsRoot = fakeSysfs(t, addr)
	t.Cleanup(func() { SysfsRoot = old })

	d, err := Open(addr, 6, 2)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer d.Close()

	b2, ok := d.Table.Get(2)
	if !ok || b2.Base != 0xfc000000 || b2.Length != 0x2000 {
		t.Fatalf("BAR2 = %+v, %v", b2, ok)
	}
	if _, ok := d.Table.Get(1); ok {
		t.Fatalf("unused resource registered as a BAR")
	}

	d.Bus.Write32(0xfc000010, 0xcafef00d)
	if got := d.Bus.Read32(0xfc000010); got != 0xcafef00d {
		t.Fatalf("Read32 = %#x", got)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(SysfsRoot, addr, "resource2"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if raw[0x10] != 0x0d || raw[0x13] != 0xca {
		t.Fatalf("mapped write not visible in file: % x", raw[0x10:0x14])
	}
}

func TestOpenMissingDevice(t *testing.T) {
	old := SysfsRoot
	SysfsRoot = t.TempDir()
	t.Cleanup(func() { SysfsRoot = old })

	if _, err := Open("0000:ff:00.0", 6, 4); err == nil {
		t.Fatalf("Open of a missing device succeeded")
	}
}
