package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/tinyrange/fpgaio/internal/bar"
	"github.com/tinyrange/fpgaio/internal/config"
)

func newSimApp(t *testing.T) *app {
	t.Helper()
	cfg := config.Default()
	cfg.Sim.GlobalMemory = 4 << 20
	a := &app{cfg: cfg, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if err := a.open("", false); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { a.close() })
	return a
}

func TestWriteThenDump(t *testing.T) {
	a := newSimApp(t)
	ctx := context.Background()

	if err := a.write(ctx, []string{"-bar", "4", "-addr", "0x100", "-value", "deadbeef"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	out := filepath.Join(t.TempDir(), "regs.bin")
	if err := a.dump(ctx, []string{"-bar", "4", "-addr", "0x100", "-size", "4", "-o", out}); err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(got, []byte{0xef, 0xbe, 0xad, 0xde}) {
		t.Fatalf("dumped % x", got)
	}
}

func TestLoadThenDumpGlobalMemory(t *testing.T) {
	a := newSimApp(t)
	ctx := context.Background()
	dir := t.TempDir()

	// Larger than one request so the load is split.
	data := make([]byte, pieceSize+4096)
	for i := range data {
		data[i] = byte(i * 13)
	}
	in := filepath.Join(dir, "in.bin")
	if err := os.WriteFile(in, data, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := a.load(ctx, []string{"-bar", "22", "-addr", "0x40000", in}); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	out := filepath.Join(dir, "out.bin")
	if err := a.dump(ctx, []string{"-bar", "22", "-addr", "0x40000", "-size", "1052672", "-o", out}); err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("dump differs from loaded data")
	}
}

// roundTrip loads data at addr on BAR 22 and dumps it back.
func roundTrip(t *testing.T, a *app, addr string, data []byte) []byte {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	in := filepath.Join(dir, "in.bin")
	if err := os.WriteFile(in, data, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := a.load(ctx, []string{"-bar", "22", "-addr", addr, in}); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	out := filepath.Join(dir, "out.bin")
	size := strconv.Itoa(len(data))
	if err := a.dump(ctx, []string{"-bar", "22", "-addr", addr, "-size", size, "-o", out}); err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	return got
}

func TestUnalignedGlobalMemoryCrossesSegments(t *testing.T) {
	a := newSimApp(t)
	data := make([]byte, 0x11000)
	for i := range data {
		data[i] = byte(i * 31)
	}
	if got := roundTrip(t, a, "0x40008", data); !bytes.Equal(got, data) {
		t.Fatalf("dump differs from loaded data")
	}
}

func TestGlobalMemoryWithoutDMAEngine(t *testing.T) {
	a := newSimApp(t)
	// A -device handle has no DMA engine installed.
	a.handle.SetEngine(nil)

	data := make([]byte, pieceSize+4096)
	for i := range data {
		data[i] = byte(i * 7)
	}
	if got := roundTrip(t, a, "0x40000", data); !bytes.Equal(got, data) {
		t.Fatalf("dump differs from loaded data")
	}
}

func TestRequestErrorKeepsCause(t *testing.T) {
	a := newSimApp(t)
	err := a.read(context.Background(), []string{"-bar", "0", "-addr", "0", "-size", "4"})
	var re *requestError
	if !errors.As(err, &re) {
		t.Fatalf("read = %v, want a request error", err)
	}
	if !errors.Is(err, bar.ErrOutOfRange) {
		t.Fatalf("read = %v, want ErrOutOfRange", err)
	}
}

func TestTargetParse(t *testing.T) {
	tg := target{bar: 4, addr: "0xc870"}
	id, addr, err := tg.parse()
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if id != 4 || addr != 0xc870 {
		t.Fatalf("parse = %d, %#x", id, addr)
	}
	tg.addr = "nope"
	if _, _, err := tg.parse(); err == nil {
		t.Fatalf("parse accepted a bad address")
	}
}
