// internal/container/reader.go
package container

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"

	"patchpack/internal/compression"
	"patchpack/internal/patch"
)

// ItemError describes one archive item that could not be decoded. It is
// entry-local: the rest of the container is still usable.
type ItemError struct {
	Index int
	Name  string
	Err   error
}

func (e *ItemError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("item %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("item %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Reader pulls entries from a container one at a time
type Reader struct {
	closer io.Closer
	tr     *tar.Reader
	index  int
	done   bool
}

// NewReader starts decoding a compressed container stream. Only the
// compression header is read here.
func NewReader(r io.Reader) (*Reader, error) {
	rc, err := compression.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &Reader{closer: rc, tr: tar.NewReader(rc)}, nil
}

// newArchiveReader reads an already decompressed tar stream
func newArchiveReader(r io.Reader) *Reader {
	return &Reader{closer: io.NopCloser(nil), tr: tar.NewReader(r)}
}

// Next returns the next entry. It returns io.EOF after the last entry, an
// *ItemError for a single unusable item (callers may keep reading), and an
// error wrapping ErrCorrupt when the archive cannot be read at all.
func (r *Reader) Next() (patch.Entry, error) {
	for {
		if r.done {
			return patch.Entry{}, io.EOF
		}

		hdr, err := r.tr.Next()
		if hdr != nil && errors.Is(err, tar.ErrInsecurePath) {
			// Unsafe names are decoded as-is and rejected by the applicator
			err = nil
		}
		if err == io.EOF {
			r.done = true
			return patch.Entry{}, io.EOF
		}
		if err != nil {
			r.done = true
			if r.index == 0 {
				return patch.Entry{}, fmt.Errorf("%w: reading first header: %v", ErrCorrupt, err)
			}
			// The stream is misaligned; nothing after this point can be trusted
			return patch.Entry{}, &ItemError{Index: r.index, Err: fmt.Errorf("reading header: %w", err)}
		}

		index := r.index
		r.index++

		switch hdr.Typeflag {
		case tar.TypeReg:
		case tar.TypeDir, tar.TypeXGlobalHeader:
			continue
		default:
			return patch.Entry{}, &ItemError{
				Index: index,
				Name:  hdr.Name,
				Err:   fmt.Errorf("unsupported item type %q", hdr.Typeflag),
			}
		}

		body, err := io.ReadAll(r.tr)
		if err == nil && int64(len(body)) != hdr.Size {
			err = io.ErrUnexpectedEOF
		}
		if err != nil {
			r.done = true
			return patch.Entry{}, &ItemError{Index: index, Name: hdr.Name, Err: fmt.Errorf("reading body: %w", err)}
		}

		p, kind := patch.FromArchiveName(hdr.Name)
		return patch.Entry{Path: p, Kind: kind, Payload: body}, nil
	}
}

// Close releases the decompressor
func (r *Reader) Close() error {
	return r.closer.Close()
}

// Decoded is the result of reading a whole container
type Decoded struct {
	Set      patch.Set
	Failures []*ItemError
}

// Decode decompresses data and reads every entry. Unusable items are
// collected in Failures; the error is only set when the container itself
// is unreadable.
func Decode(data []byte) (*Decoded, error) {
	archive, err := compression.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return Collect(newArchiveReader(bytes.NewReader(archive)))
}

// Collect drains r into a Decoded
func Collect(r *Reader) (*Decoded, error) {
	defer r.Close()

	out := &Decoded{Set: patch.Set{}}
	for {
		e, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		var itemErr *ItemError
		if errors.As(err, &itemErr) {
			out.Failures = append(out.Failures, itemErr)
			continue
		}
		if err != nil {
			return nil, err
		}
		out.Set = append(out.Set, e)
	}
}
