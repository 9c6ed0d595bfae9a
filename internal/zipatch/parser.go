package zipatch

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"

	"github.com/nanolyn/gaveloc/internal/coreerr"
)

// ErrInvalidMagic is returned when a file's leading 12 bytes don't match the
// ZiPatch magic exactly.
var ErrInvalidMagic = coreerr.New(coreerr.KindZiPatchInvalidMagic, "invalid ZiPatch magic")

// ChecksumMismatchError carries the offending chunk's file offset.
type ChecksumMismatchError struct {
	Offset uint64
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("zipatch checksum mismatch at offset %d", e.Offset)
}

func (e *ChecksumMismatchError) CoreErrKind() coreerr.Kind {
	return coreerr.KindZiPatchChecksumMismatch
}

// Parser parses a ZiPatch chunk stream. NewParser returns one that verifies
// checksums; the zero value, like WithoutChecksumVerification, skips them.
type Parser struct {
	VerifyChecksums bool
	sourcePath      string
}

// NewParser returns a Parser with checksum verification enabled.
func NewParser() *Parser {
	return &Parser{VerifyChecksums: true}
}

// WithoutChecksumVerification returns a Parser that skips CRC verification.
func WithoutChecksumVerification() *Parser {
	return &Parser{VerifyChecksums: false}
}

// ParseFile opens path and parses its full chunk stream. Bulk payloads
// (SQPK AddData block data, SQPK File file data) are not read into memory;
// Chunk.Sqpk.{AddData,File} record the byte range in path instead, and
// Apply reopens path to stream exactly that range.
func (p *Parser) ParseFile(path string) ([]Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening patch file: %w", err)
	}
	defer f.Close()

	p.sourcePath = path
	return p.Parse(f)
}

// Parse reads chunks from r until an EOF_ chunk is parsed.
func (p *Parser) Parse(r io.Reader) ([]Chunk, error) {
	cr := &countingReader{r: r}

	var magic [12]byte
	if _, err := io.ReadFull(cr, magic[:]); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if !bytes.Equal(magic[:], Magic[:]) {
		return nil, ErrInvalidMagic
	}

	var chunks []Chunk
	for {
		chunk, isEOF, err := p.readChunk(cr)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
		if isEOF {
			break
		}
	}
	return chunks, nil
}

type countingReader struct {
	r   io.Reader
	pos uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.pos += uint64(n)
	return n, err
}

func (p *Parser) readChunk(cr *countingReader) (Chunk, bool, error) {
	offset := cr.pos

	var sizeBuf [4]byte
	if _, err := io.ReadFull(cr, sizeBuf[:]); err != nil {
		return Chunk{}, false, fmt.Errorf("reading chunk size at offset %d: %w", offset, err)
	}
	size := binary.BigEndian.Uint32(sizeBuf[:])

	var typeBuf [4]byte
	if _, err := io.ReadFull(cr, typeBuf[:]); err != nil {
		return Chunk{}, false, fmt.Errorf("reading chunk type at offset %d: %w", offset, err)
	}
	chunkType := string(typeBuf[:])

	var hasher hash.Hash32
	if p.VerifyChecksums {
		hasher = crc32.NewIEEE()
		hasher.Write(typeBuf[:])
	}

	payloadEnd := cr.pos + uint64(size)
	pr := &payloadReader{cr: cr, hasher: hasher}

	chunk, err := p.dispatch(chunkType, pr, offset, size)
	if err != nil {
		return Chunk{}, false, fmt.Errorf("parsing %s chunk at offset %d: %w", chunkType, offset, err)
	}

	if cr.pos < payloadEnd {
		if err := pr.skipBulk(payloadEnd - cr.pos); err != nil {
			return Chunk{}, false, fmt.Errorf("skipping trailing payload of %s chunk: %w", chunkType, err)
		}
	} else if cr.pos > payloadEnd {
		return Chunk{}, false, fmt.Errorf("%s chunk at offset %d overread its declared size", chunkType, offset)
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(cr, crcBuf[:]); err != nil {
		return Chunk{}, false, fmt.Errorf("reading crc for %s chunk: %w", chunkType, err)
	}
	storedCRC := binary.BigEndian.Uint32(crcBuf[:])

	if p.VerifyChecksums {
		if computed := hasher.Sum32(); computed != storedCRC {
			return Chunk{}, false, &ChecksumMismatchError{Offset: offset}
		}
	}

	chunk.Type = ChunkType(chunkType)
	chunk.Offset = offset
	return chunk, chunkType == string(ChunkEOF), nil
}

// payloadReader reads chunk-body fields while feeding every consumed byte
// to the running CRC hasher (when enabled).
type payloadReader struct {
	cr     *countingReader
	hasher hash.Hash32
}

func (p *payloadReader) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.cr, buf); err != nil {
		return nil, err
	}
	if p.hasher != nil {
		p.hasher.Write(buf)
	}
	return buf, nil
}

func (p *payloadReader) readU16() (uint16, error) {
	b, err := p.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (p *payloadReader) readU32() (uint32, error) {
	b, err := p.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (p *payloadReader) readI32() (int32, error) {
	v, err := p.readU32()
	return int32(v), err
}

func (p *payloadReader) readU64() (uint64, error) {
	b, err := p.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (p *payloadReader) readByte() (byte, error) {
	b, err := p.readN(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// skipBulk advances n bytes without materializing them (beyond a small
// streaming buffer), feeding the CRC hasher as it goes. Used for the
// fixed-size trailing padding every chunk type may declare beyond its known
// fields, and reused by recordBulk for large block payloads.
func (p *payloadReader) skipBulk(n uint64) error {
	var w io.Writer = io.Discard
	if p.hasher != nil {
		w = p.hasher
	}
	_, err := io.CopyN(w, p.cr, int64(n))
	return err
}

// recordBulk returns the byte range of the next n bytes in the source file
// without reading them into memory, then advances past them.
func (p *payloadReader) recordBulk(n uint64) (blockRange, error) {
	br := blockRange{SourceOffset: p.cr.pos, Length: n}
	if err := p.skipBulk(n); err != nil {
		return blockRange{}, err
	}
	return br, nil
}

func (p *Parser) dispatch(chunkType string, pr *payloadReader, offset uint64, size uint32) (Chunk, error) {
	switch ChunkType(chunkType) {
	case ChunkFileHeader:
		return p.parseFileHeader(pr)
	case ChunkApplyOption:
		return p.parseApplyOption(pr)
	case ChunkAddDirectory:
		return p.parseAddDirectory(pr, size)
	case ChunkDeleteDir:
		return p.parseDeleteDirectory(pr, size)
	case ChunkApplyFreeSpace:
		return p.parseApplyFreeSpace(pr)
	case ChunkSqpk:
		return p.parseSqpk(pr)
	case ChunkEOF:
		return Chunk{}, nil
	default:
		return Chunk{Unknown: &UnknownChunk{RawType: chunkType}}, nil
	}
}

func (p *Parser) parseFileHeader(pr *payloadReader) (Chunk, error) {
	version, err := pr.readU16()
	if err != nil {
		return Chunk{}, err
	}
	if _, err := pr.readU16(); err != nil { // pad
		return Chunk{}, err
	}
	patchType, err := pr.readN(4)
	if err != nil {
		return Chunk{}, err
	}
	entryFiles, err := pr.readU32()
	if err != nil {
		return Chunk{}, err
	}
	return Chunk{FileHeader: &FileHeaderChunk{
		Version:    version,
		PatchType:  trimNulls(patchType),
		EntryFiles: entryFiles,
	}}, nil
}

func (p *Parser) parseApplyOption(pr *payloadReader) (Chunk, error) {
	option, err := pr.readU32()
	if err != nil {
		return Chunk{}, err
	}
	value, err := pr.readU32()
	if err != nil {
		return Chunk{}, err
	}
	return Chunk{ApplyOption: &ApplyOptionChunk{Option: ApplyOptionCode(option), Value: value}}, nil
}

func (p *Parser) parseAddDirectory(pr *payloadReader, size uint32) (Chunk, error) {
	path, err := readPaddedPath(pr, size)
	if err != nil {
		return Chunk{}, err
	}
	return Chunk{AddDirectory: &AddDirectoryChunk{Path: normalizeVendorPath(path)}}, nil
}

func (p *Parser) parseDeleteDirectory(pr *payloadReader, size uint32) (Chunk, error) {
	path, err := readPaddedPath(pr, size)
	if err != nil {
		return Chunk{}, err
	}
	return Chunk{DeleteDir: &DeleteDirectoryChunk{Path: normalizeVendorPath(path)}}, nil
}

// readPaddedPath reads a null-terminated path occupying (size - 4) bytes; the
// trailing 4 bytes of structural padding are left for the caller's generic
// skip-to-payload-end step.
func readPaddedPath(pr *payloadReader, size uint32) (string, error) {
	pathLen := int(size) - 4
	if pathLen < 0 {
		pathLen = 0
	}
	raw, err := pr.readN(pathLen)
	if err != nil {
		return "", err
	}
	return trimNulls(raw), nil
}

func (p *Parser) parseApplyFreeSpace(pr *payloadReader) (Chunk, error) {
	allocSize, err := pr.readU64()
	if err != nil {
		return Chunk{}, err
	}
	return Chunk{ApplyFree: &ApplyFreeSpaceChunk{AllocSize: allocSize}}, nil
}

func (p *Parser) parseSqpk(pr *payloadReader) (Chunk, error) {
	innerSize, err := pr.readI32()
	if err != nil {
		return Chunk{}, err
	}
	cmdByte, err := pr.readByte()
	if err != nil {
		return Chunk{}, err
	}
	dataSize := int64(innerSize) - 5
	if dataSize < 0 {
		dataSize = 0
	}

	sqpk, err := p.parseSqpkCommand(pr, SqpkCommand(cmdByte), dataSize)
	if err != nil {
		return Chunk{}, err
	}
	return Chunk{Sqpk: sqpk}, nil
}

func (p *Parser) parseSqpkTarget(pr *payloadReader) (SqpackFileTarget, error) {
	mainID, err := pr.readU16()
	if err != nil {
		return SqpackFileTarget{}, err
	}
	subID, err := pr.readU16()
	if err != nil {
		return SqpackFileTarget{}, err
	}
	fileID, err := pr.readU32()
	if err != nil {
		return SqpackFileTarget{}, err
	}
	return SqpackFileTarget{MainID: mainID, SubID: subID, FileID: fileID}, nil
}

func (p *Parser) parseSqpkCommand(pr *payloadReader, cmd SqpkCommand, dataSize int64) (*SqpkChunk, error) {
	switch cmd {
	case SqpkAddData:
		return p.parseSqpkAddData(pr)
	case SqpkDeleteData:
		return p.parseSqpkDeleteOrExpand(pr, false)
	case SqpkExpandData:
		return p.parseSqpkDeleteOrExpand(pr, true)
	case SqpkHeaderCmd:
		return p.parseSqpkHeader(pr, dataSize)
	case SqpkIndexCmd:
		return p.parseSqpkIndex(pr, dataSize)
	case SqpkFileCmd:
		return p.parseSqpkFile(pr, dataSize)
	case SqpkPatchInfoCmd:
		return p.parseSqpkPatchInfo(pr)
	case SqpkTargetInfo:
		return p.parseSqpkTargetInfo(pr)
	default:
		return &SqpkChunk{Command: cmd, Unknown: &SqpkUnknownChunk{RawCommand: byte(cmd)}}, nil
	}
}

func (p *Parser) parseSqpkAddData(pr *payloadReader) (*SqpkChunk, error) {
	if _, err := pr.readN(3); err != nil { // 3-byte align
		return nil, err
	}
	target, err := p.parseSqpkTarget(pr)
	if err != nil {
		return nil, err
	}
	blockOffset, err := pr.readU32()
	if err != nil {
		return nil, err
	}
	blockNumber, err := pr.readU32()
	if err != nil {
		return nil, err
	}
	blockDeleteNumber, err := pr.readU32()
	if err != nil {
		return nil, err
	}

	shiftedNumber := uint64(blockNumber) << 7
	data, err := pr.recordBulk(shiftedNumber)
	if err != nil {
		return nil, err
	}

	return &SqpkChunk{Command: SqpkAddData, AddData: &SqpkAddDataChunk{
		Target:            target,
		BlockOffset:       uint64(blockOffset) << 7,
		BlockNumber:       shiftedNumber,
		BlockDeleteNumber: uint64(blockDeleteNumber) << 7,
		data:              data,
	}}, nil
}

// parseSqpkDeleteOrExpand handles D (DeleteData) and E (ExpandData): same
// framing as A minus the payload and delete count, plus 4 bytes trailing
// padding.
func (p *Parser) parseSqpkDeleteOrExpand(pr *payloadReader, isExpand bool) (*SqpkChunk, error) {
	if _, err := pr.readN(3); err != nil {
		return nil, err
	}
	target, err := p.parseSqpkTarget(pr)
	if err != nil {
		return nil, err
	}
	blockOffset, err := pr.readU32()
	if err != nil {
		return nil, err
	}
	blockNumber, err := pr.readU32()
	if err != nil {
		return nil, err
	}

	offsetBytes := uint64(blockOffset) << 7
	numberBytes := uint64(blockNumber) << 7
	if isExpand {
		return &SqpkChunk{Command: SqpkExpandData, ExpandData: &SqpkExpandDataChunk{
			Target: target, BlockOffset: offsetBytes, BlockNumber: numberBytes,
		}}, nil
	}
	return &SqpkChunk{Command: SqpkDeleteData, DeleteData: &SqpkDeleteDataChunk{
		Target: target, BlockOffset: offsetBytes, BlockNumber: numberBytes,
	}}, nil
}

func (p *Parser) parseSqpkHeader(pr *payloadReader, dataSize int64) (*SqpkChunk, error) {
	fileKind, err := pr.readByte()
	if err != nil {
		return nil, err
	}
	headerKind, err := pr.readByte()
	if err != nil {
		return nil, err
	}
	target, err := p.parseSqpkTarget(pr)
	if err != nil {
		return nil, err
	}
	remaining := dataSize - 10
	if remaining < 0 {
		remaining = 0
	}
	headerData, err := pr.readN(int(remaining))
	if err != nil {
		return nil, err
	}
	return &SqpkChunk{Command: SqpkHeaderCmd, Header: &SqpkHeaderChunk{
		FileKind: fileKind, HeaderKind: headerKind, Target: target, HeaderData: headerData,
	}}, nil
}

func (p *Parser) parseSqpkIndex(pr *payloadReader, dataSize int64) (*SqpkChunk, error) {
	flag, err := pr.readByte()
	if err != nil {
		return nil, err
	}
	target, err := p.parseSqpkTarget(pr)
	if err != nil {
		return nil, err
	}

	remaining := dataSize - 9
	if remaining < 0 {
		remaining = 0
	}
	count := remaining / 16
	entries := make([]SqpkIndexEntry, 0, count)
	for i := int64(0); i < count; i++ {
		pathHash, err := pr.readU64()
		if err != nil {
			return nil, err
		}
		blockOffset, err := pr.readU32()
		if err != nil {
			return nil, err
		}
		blockNumber, err := pr.readU32()
		if err != nil {
			return nil, err
		}
		entries = append(entries, SqpkIndexEntry{PathHash: pathHash, BlockOffset: blockOffset, BlockNumber: blockNumber})
	}

	return &SqpkChunk{Command: SqpkIndexCmd, Index: &SqpkIndexChunk{
		IsIndex2:  flag&0x0F != 0,
		IsSynonym: flag&0x10 != 0,
		Target:    target,
		Entries:   entries,
	}}, nil
}

func (p *Parser) parseSqpkFile(pr *payloadReader, dataSize int64) (*SqpkChunk, error) {
	operation, err := pr.readByte()
	if err != nil {
		return nil, err
	}
	expansionID, err := pr.readByte()
	if err != nil {
		return nil, err
	}
	pathLen, err := pr.readU32()
	if err != nil {
		return nil, err
	}
	pathBytes, err := pr.readN(int(pathLen))
	if err != nil {
		return nil, err
	}

	remaining := dataSize - 2 - 4 - int64(pathLen)
	if remaining < 0 {
		remaining = 0
	}
	data, err := pr.recordBulk(uint64(remaining))
	if err != nil {
		return nil, err
	}

	return &SqpkChunk{Command: SqpkFileCmd, File: &SqpkFileChunk{
		Operation:   operation,
		ExpansionID: expansionID,
		Path:        normalizeVendorPath(trimNulls(pathBytes)),
		data:        data,
	}}, nil
}

func (p *Parser) parseSqpkPatchInfo(pr *payloadReader) (*SqpkChunk, error) {
	status, err := pr.readByte()
	if err != nil {
		return nil, err
	}
	version, err := pr.readByte()
	if err != nil {
		return nil, err
	}
	if _, err := pr.readN(2); err != nil { // pad
		return nil, err
	}
	installSize, err := pr.readU64()
	if err != nil {
		return nil, err
	}
	return &SqpkChunk{Command: SqpkPatchInfoCmd, PatchInfo: &SqpkPatchInfoChunk{
		Status: status, Version: version, InstallSize: installSize,
	}}, nil
}

func (p *Parser) parseSqpkTargetInfo(pr *payloadReader) (*SqpkChunk, error) {
	platform, err := pr.readByte()
	if err != nil {
		return nil, err
	}
	region, err := pr.readU16()
	if err != nil {
		return nil, err
	}
	debug, err := pr.readByte()
	if err != nil {
		return nil, err
	}
	version, err := pr.readU16()
	if err != nil {
		return nil, err
	}
	if _, err := pr.readByte(); err != nil { // pad
		return nil, err
	}
	deletedDataSize, err := pr.readU64()
	if err != nil {
		return nil, err
	}
	seekCount, err := pr.readU64()
	if err != nil {
		return nil, err
	}
	return &SqpkChunk{Command: SqpkTargetInfo, TargetInfo: &SqpkTargetInfoChunk{
		Platform: platform, Region: region, Debug: debug, Version: version,
		DeletedDataSize: deletedDataSize, SeekCount: seekCount,
	}}, nil
}

func trimNulls(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return string(b)
	}
	return string(b[:i])
}
