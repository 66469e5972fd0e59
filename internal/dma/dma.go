// Package dma decides when a request may use the DMA fast path and defines
// the engine the dispatcher hands such requests to.
package dma

import (
	"context"
	"errors"
	"fmt"

	"github.com/tinyrange/fpgaio/internal/xfer"
)

var ErrMisaligned = errors.New("request not aligned for DMA")

const (
	DefaultMinLength = 1024
	DefaultAlignment = 64
)

// Engine is the DMA collaborator. Transfer submits a whole request; Idle
// reports whether every submitted descriptor has completed.
type Engine interface {
	Transfer(ctx context.Context, devAddr uint64, mem xfer.CallerMemory, user, length uint64, dir xfer.Direction) error
	Idle() bool
}

// Policy holds the DMA eligibility rules.
type Policy struct {
	Enabled   bool
	MinLength uint64
	// Alignment is the granularity user address, device address and
	// length must all be multiples of. It must be a power of two.
	Alignment uint64
}

// DefaultPolicy returns the eligibility rules of the reference hardware.
func DefaultPolicy() Policy {
	return Policy{Enabled: true, MinLength: DefaultMinLength, Alignment: DefaultAlignment}
}

// CheckAlignment returns ErrMisaligned unless user, dev and length are all
// multiples of granularity.
func CheckAlignment(user, dev, length, granularity uint64) error {
	if granularity == 0 {
		return nil
	}
	mask := granularity - 1
	if (user|dev|length)&mask != 0 {
		return fmt.Errorf("%w: user %#x device %#x length %#x (granularity %d)", ErrMisaligned, user, dev, length, granularity)
	}
	return nil
}

// Eligible reports whether a request of length bytes aimed at the DMA
// target may use the engine. A non-nil error explains a misalignment that
// forced the PIO fallback; it is informational.
func (p Policy) Eligible(length, user, dev uint64) (bool, error) {
	if !p.Enabled || length < p.MinLength {
		return false, nil
	}
	if err := CheckAlignment(user, dev, length, p.Alignment); err != nil {
		return false, err
	}
	return true, nil
}
