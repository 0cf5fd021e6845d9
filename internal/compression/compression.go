// internal/compression/compression.go
package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrUnknownFormat = errors.New("unknown compression format")

// Algorithm identifies a container compression codec
type Algorithm string

const (
	XZ   Algorithm = "xz"
	Zstd Algorithm = "zstd"
)

var (
	xzMagic   = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
)

// Codec compresses whole buffers. Decompress(Compress(x)) == x for every x.
type Codec interface {
	Algorithm() Algorithm
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	// NewReader wraps a compressed stream for incremental reads.
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// Options configures a codec
type Options struct {
	Algorithm Algorithm
	// Level follows the codec's native scale: 0-9 for xz, 1-22 for zstd.
	Level int
}

// DefaultOptions uses xz at the liblzma default preset
func DefaultOptions() Options {
	return Options{
		Algorithm: XZ,
		Level:     6,
	}
}

// ParseAlgorithm accepts the names used in config files and flags
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "xz", "lzma":
		return XZ, nil
	case "zstd", "zst":
		return Zstd, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// New builds the codec selected by opts
func New(opts Options) (Codec, error) {
	switch opts.Algorithm {
	case XZ, "":
		return newXZ(opts.Level)
	case Zstd:
		return newZstd(opts.Level)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, opts.Algorithm)
	}
}

// Detect sniffs the compression format from its magic bytes
func Detect(data []byte) (Algorithm, error) {
	switch {
	case bytes.HasPrefix(data, xzMagic):
		return XZ, nil
	case bytes.HasPrefix(data, zstdMagic):
		return Zstd, nil
	default:
		return "", ErrUnknownFormat
	}
}

// Decompress detects the format of data and decompresses it
func Decompress(data []byte) ([]byte, error) {
	codec, err := forData(data)
	if err != nil {
		return nil, err
	}
	return codec.Decompress(data)
}

// NewReader detects the format from the first bytes of r and returns a
// streaming decompressor.
func NewReader(r io.Reader) (io.ReadCloser, error) {
	head := make([]byte, len(xzMagic))
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if errors.Is(err, io.EOF) {
			return nil, ErrUnknownFormat
		}
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	head = head[:n]

	codec, err := forData(head)
	if err != nil {
		return nil, err
	}
	return codec.NewReader(io.MultiReader(bytes.NewReader(head), r))
}

func forData(data []byte) (Codec, error) {
	alg, err := Detect(data)
	if err != nil {
		return nil, err
	}
	return New(Options{Algorithm: alg})
}
