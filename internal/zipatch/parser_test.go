package zipatch

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildChunk assembles one on-wire chunk: size, type, payload, crc32 over
// (type||payload).
func buildChunk(chunkType string, payload []byte) []byte {
	var buf bytes.Buffer
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(payload)))
	buf.Write(sizeBuf[:])
	buf.WriteString(chunkType)
	buf.Write(payload)

	h := crc32.NewIEEE()
	h.Write([]byte(chunkType))
	h.Write(payload)
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], h.Sum32())
	buf.Write(crcBuf[:])
	return buf.Bytes()
}

func u16(v uint16) []byte { b := make([]byte, 2); binary.BigEndian.PutUint16(b, v); return b }
func u32(v uint32) []byte { b := make([]byte, 4); binary.BigEndian.PutUint32(b, v); return b }
func u64(v uint64) []byte { b := make([]byte, 8); binary.BigEndian.PutUint64(b, v); return b }

// buildSamplePatch assembles a small five-chunk patch:
// FHDR(version=3,type=DIFF,entries=10), ADIR("\game\sqpack\x"),
// APLY(IgnoreMissing,1), SQPK PatchInfo, EOF_.
func buildSamplePatch() []byte {
	var out bytes.Buffer
	out.Write(Magic[:])

	fhdr := append(u16(3), append(u16(0), append([]byte("DIFF"), u32(10)...)...)...)
	out.Write(buildChunk("FHDR", fhdr))

	path := append([]byte(`\game\sqpack\x`), 0)
	adir := append(path, make([]byte, 4)...)
	out.Write(buildChunk("ADIR", adir))

	aply := append(u32(1), append(u32(1), make([]byte, 4)...)...)
	out.Write(buildChunk("APLY", aply))

	patchInfo := append([]byte{0x01, 0x03}, append(make([]byte, 2), u64(1024)...)...)
	sqpkPayload := append(u32(uint32(5+len(patchInfo))), append([]byte{'X'}, patchInfo...)...)
	out.Write(buildChunk("SQPK", sqpkPayload))

	out.Write(buildChunk("EOF_", nil))
	return out.Bytes()
}

func TestParse_SamplePatchRoundTrip(t *testing.T) {
	chunks, err := NewParser().Parse(bytes.NewReader(buildSamplePatch()))
	require.NoError(t, err)
	require.Len(t, chunks, 5)

	assert.Equal(t, ChunkFileHeader, chunks[0].Type)
	assert.Equal(t, uint16(3), chunks[0].FileHeader.Version)
	assert.Equal(t, "DIFF", chunks[0].FileHeader.PatchType)
	assert.Equal(t, uint32(10), chunks[0].FileHeader.EntryFiles)

	assert.Equal(t, ChunkAddDirectory, chunks[1].Type)
	assert.Equal(t, filepath.FromSlash("game/sqpack/x"), chunks[1].AddDirectory.Path)

	assert.Equal(t, ChunkApplyOption, chunks[2].Type)
	assert.Equal(t, OptionIgnoreMissing, chunks[2].ApplyOption.Option)
	assert.Equal(t, uint32(1), chunks[2].ApplyOption.Value)

	assert.Equal(t, ChunkSqpk, chunks[3].Type)
	assert.Equal(t, SqpkPatchInfoCmd, chunks[3].Sqpk.Command)
	assert.Equal(t, uint64(1024), chunks[3].Sqpk.PatchInfo.InstallSize)

	assert.Equal(t, ChunkEOF, chunks[4].Type)
}

func TestParse_RejectsInvalidMagic(t *testing.T) {
	bad := append([]byte("not a zipatch"), buildChunk("EOF_", nil)...)
	_, err := NewParser().Parse(bytes.NewReader(bad))
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestParse_ChecksumMismatchCarriesOffset(t *testing.T) {
	var out bytes.Buffer
	out.Write(Magic[:])
	chunk := buildChunk("EOF_", nil)
	chunk[len(chunk)-1] ^= 0xFF // corrupt the stored CRC
	out.Write(chunk)

	_, err := NewParser().Parse(bytes.NewReader(out.Bytes()))
	require.Error(t, err)
	var mismatch *ChecksumMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, uint64(len(Magic)), mismatch.Offset)
}

func TestParse_CRCOverTypeAndPayload(t *testing.T) {
	// A would-be-buggy implementation that CRCs only the payload must fail
	// this test.
	payload := append(u16(3), append(u16(0), append([]byte("DIFF"), u32(10)...)...)...)
	payloadOnlyCRC := crc32.ChecksumIEEE(payload)

	var buf bytes.Buffer
	buf.Write(u32(uint32(len(payload))))
	buf.WriteString("FHDR")
	buf.Write(payload)
	buf.Write(u32(payloadOnlyCRC))

	var out bytes.Buffer
	out.Write(Magic[:])
	out.Write(buf.Bytes())
	out.Write(buildChunk("EOF_", nil))

	_, err := NewParser().Parse(bytes.NewReader(out.Bytes()))
	require.Error(t, err)
	var mismatch *ChecksumMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestParse_UnknownChunkTypePreserved(t *testing.T) {
	var out bytes.Buffer
	out.Write(Magic[:])
	out.Write(buildChunk("FUTR", []byte("future")))
	out.Write(buildChunk("EOF_", nil))

	chunks, err := NewParser().Parse(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.NotNil(t, chunks[0].Unknown)
	assert.Equal(t, "FUTR", chunks[0].Unknown.RawType)
}

func TestParse_UnknownSqpkCommandPreserved(t *testing.T) {
	var out bytes.Buffer
	out.Write(Magic[:])
	payload := append(u32(5), byte('Z'))
	out.Write(buildChunk("SQPK", payload))
	out.Write(buildChunk("EOF_", nil))

	chunks, err := NewParser().Parse(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	require.NotNil(t, chunks[0].Sqpk.Unknown)
	assert.Equal(t, byte('Z'), chunks[0].Sqpk.Unknown.RawCommand)
}

func TestApplier_AddDirectoryAndRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	a := NewApplier(dir, "")

	chunks := []Chunk{
		{Type: ChunkAddDirectory, AddDirectory: &AddDirectoryChunk{Path: filepath.FromSlash("game/sqpack/x")}},
	}
	require.NoError(t, a.Apply(chunks))
	info, err := os.Stat(filepath.Join(dir, "game", "sqpack", "x"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	traversal := []Chunk{
		{Offset: 42, Type: ChunkAddDirectory, AddDirectory: &AddDirectoryChunk{Path: filepath.FromSlash("../etc/passwd")}},
	}
	err = a.Apply(traversal)
	require.Error(t, err)
	var failed *ApplyFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, uint64(42), failed.Offset)

	// nothing written outside root
	_, statErr := os.Stat(filepath.Join(filepath.Dir(dir), "etc"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestApplier_DeleteDirectoryIdempotent(t *testing.T) {
	dir := t.TempDir()
	a := NewApplier(dir, "")
	chunks := []Chunk{{Type: ChunkDeleteDir, DeleteDir: &DeleteDirectoryChunk{Path: "nonexistent"}}}
	assert.NoError(t, a.Apply(chunks))
}

func TestApplier_SqpkAddDataWritesAtOffset(t *testing.T) {
	dir := t.TempDir()
	patchDir := t.TempDir()
	patchPath := filepath.Join(patchDir, "src.patch")
	payload := bytes.Repeat([]byte{0xAB}, 128)
	require.NoError(t, os.WriteFile(patchPath, payload, 0o644))

	a := NewApplier(dir, patchPath)
	chunks := []Chunk{{
		Type: ChunkSqpk,
		Sqpk: &SqpkChunk{
			Command: SqpkAddData,
			AddData: &SqpkAddDataChunk{
				Target:      SqpackFileTarget{MainID: 0, SubID: 0, FileID: 0},
				BlockOffset: 0,
				BlockNumber: 128,
				data:        blockRange{SourceOffset: 0, Length: 128},
			},
		},
	}}
	require.NoError(t, a.Apply(chunks))

	out, err := os.ReadFile(sqpackDatPath(dir, SqpackFileTarget{MainID: 0, SubID: 0}))
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}
