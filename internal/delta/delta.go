// Package delta wraps the bsdiff binary diff algorithm.
package delta

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/gabstv/go-bsdiff/pkg/bsdiff"
	"github.com/gabstv/go-bsdiff/pkg/bspatch"
)

// Engine computes and applies binary deltas. Implementations must satisfy
// Patch(base, Diff(base, target)) == target for every input, including
// empty ones.
type Engine interface {
	Diff(base, target []byte) ([]byte, error)
	Patch(base, delta []byte) ([]byte, error)
}

// MaxTargetSize bounds the output size a delta may declare
const MaxTargetSize = 1 << 31

const headerSize = 32

var (
	bsdiffMagic = []byte("BSDIFF40")

	ErrCorruptDelta = errors.New("corrupt delta")
)

// Bsdiff implements Engine with bsdiff4 deltas
type Bsdiff struct{}

var _ Engine = Bsdiff{}

func (Bsdiff) Diff(base, target []byte) (d []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			d, err = nil, fmt.Errorf("computing bsdiff: %v", r)
		}
	}()

	d, err = bsdiff.Bytes(nonNil(base), nonNil(target))
	if err != nil {
		return nil, fmt.Errorf("computing bsdiff: %w", err)
	}
	return d, nil
}

// Patch applies delta to base. Malformed deltas return ErrCorruptDelta
// instead of panicking.
func (Bsdiff) Patch(base, delta []byte) (out []byte, err error) {
	size, err := TargetSize(delta)
	if err != nil {
		return nil, fmt.Errorf("applying bspatch: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("applying bspatch: %w: %v", ErrCorruptDelta, r)
		}
	}()

	out, err = bspatch.Bytes(nonNil(base), delta)
	if err != nil {
		return nil, fmt.Errorf("applying bspatch: %w: %v", ErrCorruptDelta, err)
	}
	if int64(len(out)) != size {
		return nil, fmt.Errorf("applying bspatch: %w: produced %d bytes, header declares %d",
			ErrCorruptDelta, len(out), size)
	}
	return nonNil(out), nil
}

// TargetSize reads the output size declared in a bsdiff header
func TargetSize(delta []byte) (int64, error) {
	if len(delta) < headerSize || !bytes.HasPrefix(delta, bsdiffMagic) {
		return 0, fmt.Errorf("%w: missing bsdiff header", ErrCorruptDelta)
	}
	ctrlLen, diffLen, size := offtin(delta[8:16]), offtin(delta[16:24]), offtin(delta[24:32])
	if ctrlLen < 0 || diffLen < 0 || ctrlLen+diffLen > int64(len(delta)-headerSize) {
		return 0, fmt.Errorf("%w: block lengths %d/%d exceed delta", ErrCorruptDelta, ctrlLen, diffLen)
	}
	if size < 0 || size > MaxTargetSize {
		return 0, fmt.Errorf("%w: declared size %d out of range", ErrCorruptDelta, size)
	}
	return size, nil
}

// offtin decodes bsdiff's sign-magnitude little-endian integers
func offtin(buf []byte) int64 {
	y := int64(buf[7] & 0x7f)
	for i := 6; i >= 0; i-- {
		y = y<<8 | int64(buf[i])
	}
	if buf[7]&0x80 != 0 {
		y = -y
	}
	return y
}

// Unchanged reports whether a delta would be a no-op
func Unchanged(base, target []byte) bool {
	return bytes.Equal(base, target)
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
