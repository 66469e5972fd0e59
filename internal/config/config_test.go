package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if c.ChunkSize != 8192 {
		t.Errorf("ChunkSize = %d, want 8192", c.ChunkSize)
	}
	if c.MemWindow.Control != 0xc870 || c.MemWindow.Base != 0x10000 || c.MemWindow.Size != 0x10000 {
		t.Errorf("MemWindow = %+v", c.MemWindow)
	}
	p := c.Policy()
	if !p.Enabled || p.MinLength != 1024 || p.Alignment != 64 {
		t.Errorf("Policy = %+v", p)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "board.yaml")
	doc := `
chunkSize: 4096
dma:
  enabled: false
memWindow:
  bar: 4
  control: 0x100
  base: 0x8000
  size: 0x8000
sim:
  barSizes:
    2: 0x4000
    4: 0x10000
  globalMemory: 0x100000
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.ChunkSize != 4096 {
		t.Errorf("ChunkSize = %d, want 4096", c.ChunkSize)
	}
	if c.DMA.Enabled {
		t.Errorf("DMA still enabled")
	}
	if c.DMA.MinLength != 1024 {
		t.Errorf("DMA.MinLength = %d, want default", c.DMA.MinLength)
	}
	if c.CommandBAR != DefaultCommandBAR || c.BARs != DefaultBARCount {
		t.Errorf("defaults lost: %+v", c)
	}
	if len(c.Sim.BARSizes) != 2 || c.Sim.BARSizes[2] != 0x4000 {
		t.Errorf("Sim.BARSizes = %v", c.Sim.BARSizes)
	}
	if c.Sim.GlobalMemory != 0x100000 {
		t.Errorf("Sim.GlobalMemory = %#x", c.Sim.GlobalMemory)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("Load of missing file succeeded")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"window not power of two", "memWindow: {bar: 4, control: 0xc870, base: 0x10000, size: 0x3000}", "power of two"},
		{"chunk size", "chunkSize: 6", "chunkSize"},
		{"host control bar", "hostControlBar: 9", "hostControlBar"},
		{"command bar collides", "commandBar: 2", "commandBar"},
		{"control inside window", "memWindow: {bar: 4, control: 0x10010, base: 0x10000, size: 0x10000}", "inside the window"},
		{"window past bar", "sim: {barSizes: {4: 0x18000}}", "past sim BAR"},
		{"sim bar index", "sim: {barSizes: {7: 0x1000}}", "sim.barSizes"},
		{"dma alignment", "dma: {enabled: true, alignment: 48}", "alignment"},
		{"bad yaml", "bars: [", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatalf("Parse succeeded, want error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Parse error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}
