// Package container encodes patch sets as compressed tar archives.
//
// A container is an xz (or zstd) stream wrapping a tar archive. Each tar
// item holds one entry: diff payloads are named "<path>.bspatch", snapshot
// payloads use the bare path. Encoding is deterministic; timestamps, modes
// and ownership are fixed so the same set always yields the same bytes.
package container

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"time"

	"patchpack/internal/compression"
	"patchpack/internal/patch"
)

// ErrCorrupt reports a container whose envelope cannot be read at all
var ErrCorrupt = errors.New("corrupt container")

// epoch is stamped on every tar header
var epoch = time.Unix(0, 0).UTC()

// Option configures Encode
type Option func(*compression.Options)

func WithCompression(alg compression.Algorithm) Option {
	return func(o *compression.Options) { o.Algorithm = alg }
}

func WithLevel(level int) Option {
	return func(o *compression.Options) { o.Level = level }
}

// Encode serializes set into a compressed container. The whole encode
// fails if any entry cannot be represented.
func Encode(set patch.Set, opts ...Option) ([]byte, error) {
	copts := compression.DefaultOptions()
	for _, opt := range opts {
		opt(&copts)
	}

	codec, err := compression.New(copts)
	if err != nil {
		return nil, fmt.Errorf("creating codec: %w", err)
	}

	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("validating patch set: %w", err)
	}

	archive, err := writeArchive(set)
	if err != nil {
		return nil, err
	}

	out, err := codec.Compress(archive)
	if err != nil {
		return nil, fmt.Errorf("compressing archive: %w", err)
	}
	return out, nil
}

func writeArchive(set patch.Set) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	for _, e := range set {
		hdr := header(e)
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("writing header for %s: %w", hdr.Name, err)
		}
		if _, err := tw.Write(e.Payload); err != nil {
			return nil, fmt.Errorf("writing payload for %s: %w", hdr.Name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing archive: %w", err)
	}
	return buf.Bytes(), nil
}

func header(e patch.Entry) *tar.Header {
	return &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     e.ArchiveName(),
		Size:     int64(len(e.Payload)),
		Mode:     0644,
		ModTime:  epoch,
		Format:   tar.FormatGNU,
	}
}
