package dma

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/tinyrange/fpgaio/internal/xfer"
)

func TestEligible(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		name       string
		length     uint64
		user, dev  uint64
		want       bool
		misaligned bool
	}{
		{"aligned large", 4096, 0x1000, 0x40, true, false},
		{"too short", 512, 0, 0, false, false},
		{"exact threshold", 1024, 0, 0, true, false},
		{"user misaligned", 4096, 0x1001, 0, false, true},
		{"device misaligned", 4096, 0, 0x20, false, true},
		{"length misaligned", 4100, 0, 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := p.Eligible(tt.length, tt.user, tt.dev)
			if ok != tt.want {
				t.Fatalf("Eligible = %v, want %v", ok, tt.want)
			}
			if errors.Is(err, ErrMisaligned) != tt.misaligned {
				t.Fatalf("err = %v, misaligned want %v", err, tt.misaligned)
			}
		})
	}

	p.Enabled = false
	if ok, _ := p.Eligible(4096, 0, 0); ok {
		t.Fatalf("disabled policy allowed DMA")
	}
}

func TestSimRoundTrip(t *testing.T) {
	global := make([]byte, 64*1024)
	s, err := NewSim(global, 1024, 4)
	if err != nil {
		t.Fatalf("NewSim failed: %v", err)
	}
	defer s.Close()

	src := make(xfer.Buffer, 10*1024)
	for i := range src {
		src[i] = byte(i ^ 0x5a)
	}
	ctx := context.Background()
	if err := s.Transfer(ctx, 0x2000, src, 0, uint64(len(src)), xfer.FromCaller); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !s.Idle() {
		t.Fatalf("engine not idle after transfer")
	}
	if s.Completed() != 10 {
		t.Fatalf("completed %d descriptors, want 10", s.Completed())
	}
	if !bytes.Equal(global[0x2000:0x2000+len(src)], src) {
		t.Fatalf("global memory differs from source")
	}

	dst := make(xfer.Buffer, len(src))
	if err := s.Transfer(ctx, 0x2000, dst, 0, uint64(len(dst)), xfer.ToCaller); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(dst, src) {
		t.Fatalf("read back differs")
	}
}

func TestSimRejectsOutOfRange(t *testing.T) {
	s, err := NewSim(make([]byte, 4096), 1024, 2)
	if err != nil {
		t.Fatalf("NewSim failed: %v", err)
	}
	if err := s.Transfer(context.Background(), 2048, make(xfer.Buffer, 4096), 0, 4096, xfer.ToCaller); err == nil {
		t.Fatalf("transfer past global memory succeeded")
	}
}

func TestSimCopyFaultDrains(t *testing.T) {
	s, err := NewSim(make([]byte, 8192), 1024, 4)
	if err != nil {
		t.Fatalf("NewSim failed: %v", err)
	}
	short := make(xfer.Buffer, 2048)
	err = s.Transfer(context.Background(), 0, short, 0, 8192, xfer.FromCaller)
	if !errors.Is(err, xfer.ErrUserCopyFault) {
		t.Fatalf("Transfer = %v, want ErrUserCopyFault", err)
	}
	if !s.Idle() {
		t.Fatalf("engine left descriptors outstanding after a fault")
	}
}

func TestSimHonoursCancelledContext(t *testing.T) {
	s, err := NewSim(make([]byte, 4096), 1024, 2)
	if err != nil {
		t.Fatalf("NewSim failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Transfer(ctx, 0, make(xfer.Buffer, 1024), 0, 1024, xfer.ToCaller); !errors.Is(err, context.Canceled) {
		t.Fatalf("Transfer = %v, want context.Canceled", err)
	}
}
