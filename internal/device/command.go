package device

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/fpgaio/internal/xfer"
)

// CommandSize is the encoded length of a Command.
const CommandSize = 40

// Command is one read or write request.
type Command struct {
	BarID      uint32
	DeviceAddr uint64
	UserAddr   uint64
	Size       uint64
	// IsDiffEndian asks for host byte order on the device instead of
	// little-endian.
	IsDiffEndian bool
}

// Mode returns the byte-order mode the command asks for.
func (c Command) Mode() xfer.Mode {
	if c.IsDiffEndian {
		return xfer.Raw
	}
	return xfer.Natural
}

// DecodeCommand parses the little-endian wire layout:
//
//	0  bar_id         u32
//	4  reserved       u32
//	8  device_addr    u64
//	16 user_addr      u64
//	24 size           u64
//	32 is_diff_endian u32
//	36 reserved       u32
func DecodeCommand(b []byte) (Command, error) {
	if len(b) < CommandSize {
		return Command{}, fmt.Errorf("device: command is %d bytes, want %d", len(b), CommandSize)
	}
	le := binary.LittleEndian
	return Command{
		BarID:        le.Uint32(b[0:4]),
		DeviceAddr:   le.Uint64(b[8:16]),
		UserAddr:     le.Uint64(b[16:24]),
		Size:         le.Uint64(b[24:32]),
		IsDiffEndian: le.Uint32(b[32:36]) != 0,
	}, nil
}

// AppendEncode appends the wire form of c to b.
func (c Command) AppendEncode(b []byte) []byte {
	var buf [CommandSize]byte
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], c.BarID)
	le.PutUint64(buf[8:16], c.DeviceAddr)
	le.PutUint64(buf[16:24], c.UserAddr)
	le.PutUint64(buf[24:32], c.Size)
	if c.IsDiffEndian {
		le.PutUint32(buf[32:36], 1)
	}
	return append(b, buf[:]...)
}

// CommandExecutor serves requests addressed to the command channel.
type CommandExecutor interface {
	Exec(ctx context.Context, cmd Command, mem xfer.CallerMemory, dir xfer.Direction) error
}

// CommandFunc adapts a function to CommandExecutor.
type CommandFunc func(ctx context.Context, cmd Command, mem xfer.CallerMemory, dir xfer.Direction) error

func (f CommandFunc) Exec(ctx context.Context, cmd Command, mem xfer.CallerMemory, dir xfer.Direction) error {
	return f(ctx, cmd, mem, dir)
}

type unsupportedExecutor struct{}

func (unsupportedExecutor) Exec(_ context.Context, cmd Command, _ xfer.CallerMemory, _ xfer.Direction) error {
	return fmt.Errorf("%w: size %d", ErrUnsupportedCommand, cmd.Size)
}
