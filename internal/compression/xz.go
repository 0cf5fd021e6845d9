package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
)

// dictionary sizes of the liblzma presets 0-9
var xzPresetDictCap = [...]int{
	256 << 10, 1 << 20, 2 << 20, 4 << 20, 4 << 20,
	8 << 20, 8 << 20, 16 << 20, 32 << 20, 64 << 20,
}

type xzCodec struct {
	config xz.WriterConfig
}

func newXZ(level int) (*xzCodec, error) {
	if level < 0 || level >= len(xzPresetDictCap) {
		return nil, fmt.Errorf("xz level %d out of range 0-%d", level, len(xzPresetDictCap)-1)
	}
	config := xz.WriterConfig{
		DictCap:  xzPresetDictCap[level],
		CheckSum: xz.CRC64,
	}
	if err := config.Verify(); err != nil {
		return nil, fmt.Errorf("verifying xz config: %w", err)
	}
	return &xzCodec{config: config}, nil
}

func (c *xzCodec) Algorithm() Algorithm { return XZ }

func (c *xzCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := c.config.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("creating xz writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("xz compression: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing xz stream: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *xzCodec) Decompress(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening xz stream: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("xz decompression: %w", err)
	}
	return out, nil
}

func (c *xzCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening xz stream: %w", err)
	}
	return io.NopCloser(xr), nil
}
