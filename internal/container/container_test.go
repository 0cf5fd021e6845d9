package container

import (
	"archive/tar"
	"bytes"
	"io"
	"strings"
	"testing"

	"patchpack/internal/compression"
	"patchpack/internal/patch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSet(t *testing.T) patch.Set {
	t.Helper()
	d1, err := patch.NewDiff("libs/engine.so", []byte{0x42, 0x53, 0x44, 0x49, 0x46, 0x46})
	require.NoError(t, err)
	s1, err := patch.NewSnapshot("readme.md", []byte("# readme\n"))
	require.NoError(t, err)
	d2, err := patch.NewDiff("a.txt", []byte("delta"))
	require.NoError(t, err)
	s2, err := patch.NewSnapshot("deep/"+strings.Repeat("long-directory-name/", 8)+"file.txt", []byte{})
	require.NoError(t, err)
	return patch.Set{d1, s1, d2, s2}
}

func compressArchive(t *testing.T, archive []byte) []byte {
	t.Helper()
	codec, err := compression.New(compression.Options{Algorithm: compression.XZ, Level: 1})
	require.NoError(t, err)
	out, err := codec.Compress(archive)
	require.NoError(t, err)
	return out
}

func TestRoundTrip(t *testing.T) {
	set := sampleSet(t)

	for _, alg := range []compression.Algorithm{compression.XZ, compression.Zstd} {
		t.Run(string(alg), func(t *testing.T) {
			data, err := Encode(set, WithCompression(alg), WithLevel(3))
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Empty(t, decoded.Failures)
			require.Len(t, decoded.Set, len(set))
			for i := range set {
				assert.Equal(t, set[i].Path, decoded.Set[i].Path)
				assert.Equal(t, set[i].Kind, decoded.Set[i].Kind)
				assert.Equal(t, set[i].Payload, decoded.Set[i].Payload)
			}
		})
	}
}

func TestEmptySet(t *testing.T) {
	data, err := Encode(patch.Set{})
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Empty(t, decoded.Set)
	assert.Empty(t, decoded.Failures)
}

func TestEncodeDeterministic(t *testing.T) {
	set := sampleSet(t)

	first, err := Encode(set)
	require.NoError(t, err)
	second, err := Encode(set)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEncodeRejectsInvalidSets(t *testing.T) {
	_, err := Encode(patch.Set{{Path: "", Kind: patch.Snapshot}})
	assert.ErrorIs(t, err, patch.ErrUnsafePath)

	_, err = Encode(patch.Set{{Path: "../../etc/passwd", Kind: patch.Diff}})
	assert.ErrorIs(t, err, patch.ErrUnsafePath)

	a, _ := patch.NewDiff("a.txt", nil)
	b, _ := patch.NewSnapshot("a.txt", nil)
	_, err = Encode(patch.Set{a, b})
	assert.ErrorIs(t, err, patch.ErrDuplicatePath)

	_, err = Encode(patch.Set{{Path: "lib/data.bspatch", Kind: patch.Snapshot, Payload: []byte("raw")}})
	assert.ErrorIs(t, err, patch.ErrAmbiguousName)
}

func TestEncodeWritesExactHeaders(t *testing.T) {
	set := sampleSet(t)
	data, err := Encode(set)
	require.NoError(t, err)

	archive, err := compression.Decompress(data)
	require.NoError(t, err)

	tr := tar.NewReader(bytes.NewReader(archive))
	for i := 0; ; i++ {
		hdr, err := tr.Next()
		if err == io.EOF {
			assert.Equal(t, len(set), i)
			break
		}
		require.NoError(t, err)
		assert.Equal(t, set[i].ArchiveName(), hdr.Name)
		assert.Equal(t, int64(len(set[i].Payload)), hdr.Size)
		assert.Equal(t, int64(0), hdr.ModTime.Unix())
		assert.Zero(t, hdr.Uid)
		assert.Empty(t, hdr.Uname)
	}
}

func TestDecodeKeepsUnsafePaths(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	body := []byte("payload")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     "../../etc/passwd.bspatch",
		Size:     int64(len(body)),
		Mode:     0644,
	}))
	_, err := tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	decoded, err := Decode(compressArchive(t, buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, decoded.Set, 1)

	// Path safety is enforced where the entry would be written
	assert.Equal(t, "../../etc/passwd", decoded.Set[0].Path)
	assert.Equal(t, patch.Diff, decoded.Set[0].Kind)
	assert.ErrorIs(t, decoded.Set.Validate(), patch.ErrUnsafePath)
}

// twoItemArchive returns a tar with a short item "a.txt" followed by a
// 100 byte item "b.txt.bspatch". The second header starts at offset 1024.
func twoItemArchive(t *testing.T) []byte {
	t.Helper()
	set := patch.Set{
		{Path: "a.txt", Kind: patch.Snapshot, Payload: []byte("hello")},
		{Path: "b.txt", Kind: patch.Diff, Payload: bytes.Repeat([]byte{7}, 100)},
	}
	archive, err := writeArchive(set)
	require.NoError(t, err)
	return archive
}

func TestDecodeCorruptSecondHeader(t *testing.T) {
	archive := twoItemArchive(t)
	archive[1024] ^= 0xFF

	decoded, err := Decode(compressArchive(t, archive))
	require.NoError(t, err)
	require.Len(t, decoded.Set, 1)
	assert.Equal(t, "a.txt", decoded.Set[0].Path)
	require.Len(t, decoded.Failures, 1)
	assert.Equal(t, 1, decoded.Failures[0].Index)
}

func TestDecodeTruncatedBody(t *testing.T) {
	archive := twoItemArchive(t)[:1536+10]

	decoded, err := Decode(compressArchive(t, archive))
	require.NoError(t, err)
	require.Len(t, decoded.Set, 1)
	require.Len(t, decoded.Failures, 1)
	assert.Equal(t, "b.txt.bspatch", decoded.Failures[0].Name)
	assert.ErrorIs(t, decoded.Failures[0], io.ErrUnexpectedEOF)
}

func TestDecodeFatal(t *testing.T) {
	_, err := Decode([]byte("not a container"))
	assert.ErrorIs(t, err, ErrCorrupt)

	archive := twoItemArchive(t)
	archive[0] ^= 0xFF
	_, err = Decode(compressArchive(t, archive))
	assert.ErrorIs(t, err, ErrCorrupt)

	valid, err := Encode(sampleSet(t))
	require.NoError(t, err)
	_, err = Decode(valid[:len(valid)/2])
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStreamingReader(t *testing.T) {
	set := sampleSet(t)
	data, err := Encode(set, WithCompression(compression.Zstd))
	require.NoError(t, err)

	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer r.Close()

	for i := range set {
		e, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, set[i].Path, e.Path)
		assert.Equal(t, set[i].Payload, e.Payload)
	}
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)

	_, err = NewReader(strings.NewReader("garbage!"))
	assert.ErrorIs(t, err, ErrCorrupt)
}
