// Package config loads the YAML description of an accelerator board.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/fpgaio/internal/dma"
	"github.com/tinyrange/fpgaio/internal/xfer"
)

const (
	DefaultBARCount       = 6
	DefaultHostControlBAR = 4
	DefaultCommandBAR     = 23
	DefaultDMABAR         = 22

	DefaultWindowControl = 0xc870
	DefaultWindowBase    = 0x10000
	DefaultWindowSize    = 0x10000

	DefaultHostControlSize = 0x20000
	DefaultGlobalMemory    = 64 << 20
)

// Config describes the BAR layout and data-path tunables of one board.
type Config struct {
	BARs           int `yaml:"bars"`
	CommandBAR     int `yaml:"commandBar"`
	DMABAR         int `yaml:"dmaBar"`
	HostControlBAR int `yaml:"hostControlBar"`

	MemWindow MemWindow `yaml:"memWindow"`
	ChunkSize int       `yaml:"chunkSize,omitempty"`
	DMA       DMA       `yaml:"dma"`
	Sim       Sim       `yaml:"sim"`
}

// MemWindow locates the segment window inside its BAR.
type MemWindow struct {
	BAR     int    `yaml:"bar"`
	Control uint64 `yaml:"control"`
	Base    uint64 `yaml:"base"`
	Size    uint64 `yaml:"size"`
}

type DMA struct {
	Enabled   bool   `yaml:"enabled"`
	MinLength uint64 `yaml:"minLength,omitempty"`
	Alignment uint64 `yaml:"alignment,omitempty"`
}

// Sim sizes the simulated board. BARSizes maps BAR index to length; BARs
// without an entry are absent.
type Sim struct {
	BARSizes     map[int]uint64 `yaml:"barSizes,omitempty"`
	GlobalMemory uint64         `yaml:"globalMemory,omitempty"`
}

// Default returns the layout of the reference board.
func Default() Config {
	c := Config{
		BARs:           DefaultBARCount,
		CommandBAR:     DefaultCommandBAR,
		DMABAR:         DefaultDMABAR,
		HostControlBAR: DefaultHostControlBAR,
		MemWindow: MemWindow{
			BAR:     DefaultHostControlBAR,
			Control: DefaultWindowControl,
			Base:    DefaultWindowBase,
			Size:    DefaultWindowSize,
		},
		DMA: DMA{Enabled: true},
	}
	c.normalize()
	return c
}

func (c *Config) normalize() {
	if c.BARs == 0 {
		c.BARs = DefaultBARCount
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = xfer.DefaultChunkSize
	}
	if c.DMA.MinLength == 0 {
		c.DMA.MinLength = dma.DefaultMinLength
	}
	if c.DMA.Alignment == 0 {
		c.DMA.Alignment = dma.DefaultAlignment
	}
	if c.Sim.GlobalMemory == 0 {
		c.Sim.GlobalMemory = DefaultGlobalMemory
	}
	if len(c.Sim.BARSizes) == 0 {
		c.Sim.BARSizes = map[int]uint64{0: 0x1000, c.HostControlBAR: DefaultHostControlSize}
	}
}

// Load reads a configuration file. Fields missing from the file keep the
// values of Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document over Default and validates the result.
func Parse(data []byte) (Config, error) {
	c := Default()
	// Sim BAR sizes from the document replace the defaults instead of
	// merging into them.
	c.Sim.BARSizes = nil
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.BARs <= 0 {
		return fmt.Errorf("config: bars must be positive, got %d", c.BARs)
	}
	if c.HostControlBAR < 0 || c.HostControlBAR >= c.BARs {
		return fmt.Errorf("config: hostControlBar %d outside [0, %d)", c.HostControlBAR, c.BARs)
	}
	if c.MemWindow.BAR < 0 || c.MemWindow.BAR >= c.BARs {
		return fmt.Errorf("config: memWindow.bar %d outside [0, %d)", c.MemWindow.BAR, c.BARs)
	}
	if c.CommandBAR < c.BARs || c.DMABAR < c.BARs {
		return fmt.Errorf("config: commandBar %d and dmaBar %d must not name a real BAR", c.CommandBAR, c.DMABAR)
	}
	if c.CommandBAR == c.DMABAR {
		return fmt.Errorf("config: commandBar and dmaBar are both %d", c.CommandBAR)
	}

	w := c.MemWindow
	if w.Size == 0 || w.Size&(w.Size-1) != 0 {
		return fmt.Errorf("config: memWindow.size %#x is not a power of two", w.Size)
	}
	if w.Base+w.Size < w.Base {
		return fmt.Errorf("config: memWindow [%#x+%#x) overflows", w.Base, w.Size)
	}
	if w.Control+8 > w.Base && w.Control < w.Base+w.Size {
		return fmt.Errorf("config: memWindow.control %#x lies inside the window", w.Control)
	}
	if c.ChunkSize <= 0 || c.ChunkSize%4 != 0 {
		return fmt.Errorf("config: chunkSize %d must be a positive multiple of 4", c.ChunkSize)
	}
	if a := c.DMA.Alignment; a&(a-1) != 0 {
		return fmt.Errorf("config: dma.alignment %d is not a power of two", a)
	}

	if size, ok := c.Sim.BARSizes[w.BAR]; ok {
		if w.Base+w.Size > size {
			return fmt.Errorf("config: memWindow ends at %#x past sim BAR %d size %#x", w.Base+w.Size, w.BAR, size)
		}
		if w.Control+8 > size {
			return fmt.Errorf("config: memWindow.control %#x outside sim BAR %d", w.Control, w.BAR)
		}
	}
	for idx := range c.Sim.BARSizes {
		if idx < 0 || idx >= c.BARs {
			return fmt.Errorf("config: sim.barSizes names BAR %d outside [0, %d)", idx, c.BARs)
		}
	}
	return nil
}

// Policy returns the DMA eligibility rules.
func (c Config) Policy() dma.Policy {
	return dma.Policy{
		Enabled:   c.DMA.Enabled,
		MinLength: c.DMA.MinLength,
		Alignment: c.DMA.Alignment,
	}
}
