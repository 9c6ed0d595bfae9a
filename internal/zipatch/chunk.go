// Package zipatch implements ZiPatchCodec: parsing the vendor's binary
// patch chunk stream and applying it to a game tree.
//
// Parse walks the chunk stream strictly forward and never materializes bulk
// payload bytes (SQPK AddData block data, SQPK File file data) in memory: it
// records their byte range within the source patch file instead. Apply then
// reopens that file for random-access reads of exactly those ranges via
// io.SectionReader, so neither phase ever loads a multi-hundred-megabyte
// patch file whole.
package zipatch

// Magic is the fixed 12-byte ZiPatch file header.
var Magic = [12]byte{0x91, 'Z', 'I', 'P', 'A', 'T', 'C', 'H', 0x0D, 0x0A, 0x1A, 0x0A}

// ChunkType is the four-ASCII-character chunk discriminant.
type ChunkType string

const (
	ChunkFileHeader     ChunkType = "FHDR"
	ChunkApplyOption    ChunkType = "APLY"
	ChunkAddDirectory   ChunkType = "ADIR"
	ChunkDeleteDir      ChunkType = "DELD"
	ChunkApplyFreeSpace ChunkType = "APFS"
	ChunkSqpk           ChunkType = "SQPK"
	ChunkEOF            ChunkType = "EOF_"
)

// Chunk is one parsed element of the stream. Exactly one of the typed
// payload fields is set, selected by Type.
type Chunk struct {
	Type   ChunkType
	Offset uint64 // file offset of this chunk's size field

	FileHeader   *FileHeaderChunk
	ApplyOption  *ApplyOptionChunk
	AddDirectory *AddDirectoryChunk
	DeleteDir    *DeleteDirectoryChunk
	ApplyFree    *ApplyFreeSpaceChunk
	Sqpk         *SqpkChunk
	// Unknown holds the raw chunk type for any type outside the known
	// inventory.
	Unknown *UnknownChunk
}

type FileHeaderChunk struct {
	Version    uint16
	PatchType  string // "DIFF" or "HIST"
	EntryFiles uint32
}

// ApplyOptionCode is the APLY option code; named constants cover the known
// codes, everything else is preserved verbatim.
type ApplyOptionCode uint32

const (
	OptionIgnoreMissing     ApplyOptionCode = 1
	OptionIgnoreOldMismatch ApplyOptionCode = 2
)

type ApplyOptionChunk struct {
	Option ApplyOptionCode
	Value  uint32
}

type AddDirectoryChunk struct {
	Path string // host-separator form, leading separator already stripped
}

type DeleteDirectoryChunk struct {
	Path string
}

type ApplyFreeSpaceChunk struct {
	AllocSize uint64
}

// UnknownChunk preserves an unrecognized top-level chunk type so
// forward-compatible patches still parse.
type UnknownChunk struct {
	RawType string
}

// SqpackFileTarget names a SqPack dat/index file.
type SqpackFileTarget struct {
	MainID uint16
	SubID  uint16
	FileID uint32
}

// SqpkCommand is the one-byte SQPK sub-command discriminant.
type SqpkCommand byte

const (
	SqpkAddData      SqpkCommand = 'A'
	SqpkDeleteData   SqpkCommand = 'D'
	SqpkExpandData   SqpkCommand = 'E'
	SqpkHeaderCmd    SqpkCommand = 'H'
	SqpkIndexCmd     SqpkCommand = 'I'
	SqpkFileCmd      SqpkCommand = 'F'
	SqpkPatchInfoCmd SqpkCommand = 'X'
	SqpkTargetInfo   SqpkCommand = 'T'
)

// SqpkChunk is the SQPK wrapper; exactly one typed payload is set, selected
// by Command.
type SqpkChunk struct {
	Command SqpkCommand

	AddData    *SqpkAddDataChunk
	DeleteData *SqpkDeleteDataChunk
	ExpandData *SqpkExpandDataChunk
	Header     *SqpkHeaderChunk
	Index      *SqpkIndexChunk
	File       *SqpkFileChunk
	PatchInfo  *SqpkPatchInfoChunk
	TargetInfo *SqpkTargetInfoChunk
	// Unknown holds the raw command byte for an unrecognized SQPK
	// sub-command.
	Unknown *SqpkUnknownChunk
}

type SqpkUnknownChunk struct {
	RawCommand byte
}

// blockRange references a byte span inside the source patch file that Parse
// deliberately left unread into memory; Apply reopens the file to stream it.
type blockRange struct {
	SourceOffset uint64
	Length       uint64
}

type SqpkAddDataChunk struct {
	Target                                     SqpackFileTarget
	BlockOffset, BlockNumber, BlockDeleteNumber uint64 // already <<7 (128-byte granular)
	data                                        blockRange
}

type SqpkDeleteDataChunk struct {
	Target                                     SqpackFileTarget
	BlockOffset, BlockNumber, BlockDeleteNumber uint64
}

type SqpkExpandDataChunk struct {
	Target                                     SqpackFileTarget
	BlockOffset, BlockNumber, BlockDeleteNumber uint64
}

// SqpkHeaderChunk is an H command. HeaderKind, its second framing byte, has
// no authoritative mapping beyond 'V'/'I'/'D' observed in the wild, so it is
// kept as a raw byte rather than decoded into a named enum.
type SqpkHeaderChunk struct {
	FileKind   byte // 'D' = dat, 'I' = index
	HeaderKind byte
	Target     SqpackFileTarget
	HeaderData []byte // small, fixed-size; safe to hold in memory
}

type SqpkIndexEntry struct {
	PathHash    uint64
	BlockOffset uint32
	BlockNumber uint32
}

type SqpkIndexChunk struct {
	IsIndex2  bool
	IsSynonym bool
	Target    SqpackFileTarget
	Entries   []SqpkIndexEntry
}

type SqpkFileChunk struct {
	Operation   byte // 'A' add/overwrite, 'R' remove-all, 'D' delete, 'M' mkdir
	ExpansionID byte
	Path        string
	data        blockRange
}

type SqpkPatchInfoChunk struct {
	Status      byte
	Version     byte
	InstallSize uint64
}

type SqpkTargetInfoChunk struct {
	Platform        byte // 0 win32, 1 ps3, 2 ps4
	Region          uint16
	Debug           byte
	Version         uint16
	DeletedDataSize uint64
	SeekCount       uint64
}
