package zipatch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nanolyn/gaveloc/internal/coreerr"
	"github.com/nanolyn/gaveloc/internal/ioutil"
)

// platformTag is the fixed filename platform segment for SqPack dat/index
// names; this core only ever targets the Windows client tree.
const platformTag = "win32"

// ApplyFailedError carries the offset of the chunk whose application
// failed. Non-recoverable without a fresh check/download cycle; the caller
// must leave the version file untouched so the patch is offered again.
type ApplyFailedError struct {
	Offset uint64
	Err    error
}

func (e *ApplyFailedError) Error() string {
	return fmt.Sprintf("applying chunk at offset %d: %v", e.Offset, e.Err)
}

func (e *ApplyFailedError) Unwrap() error        { return e.Err }
func (e *ApplyFailedError) CoreErrKind() coreerr.Kind { return coreerr.KindZiPatchApplyFailed }

// normalizeVendorPath translates a vendor (Windows-separator, leading
// separator) path into host form, stripping the leading separator.
func normalizeVendorPath(raw string) string {
	p := strings.ReplaceAll(raw, "\\", "/")
	p = strings.TrimPrefix(p, "/")
	return filepath.FromSlash(p)
}

// AppliedOptions records the informational APLY options seen while applying
// a stream.
type AppliedOptions struct {
	IgnoreMissing     bool
	IgnoreOldMismatch bool
	Unknown           map[uint32]uint32
}

// Applier applies a parsed ZiPatch chunk stream to a game tree. GameRoot is
// the root of the installation being patched; SourcePath is the patch file
// the chunks were parsed from, reopened here to stream AddData/File block
// payloads without ever holding them whole in memory.
type Applier struct {
	GameRoot   string
	SourcePath string

	Options AppliedOptions
}

// NewApplier returns an Applier targeting gameRoot, reading bulk payload
// bytes from sourcePath (the same file Parse/ParseFile read).
func NewApplier(gameRoot, sourcePath string) *Applier {
	return &Applier{GameRoot: gameRoot, SourcePath: sourcePath}
}

// Apply walks chunks in order, applying each one's on-disk effect. On any failure it stops and returns an
// ApplyFailedError carrying the failing chunk's offset; the caller is
// responsible for leaving the version file unchanged so the same patch is
// offered again.
func (a *Applier) Apply(chunks []Chunk) error {
	var source *os.File
	if a.SourcePath != "" {
		f, err := os.Open(a.SourcePath)
		if err != nil {
			return fmt.Errorf("opening patch source for apply: %w", err)
		}
		defer f.Close()
		source = f
	}

	for _, c := range chunks {
		if err := a.applyOne(c, source); err != nil {
			return &ApplyFailedError{Offset: c.Offset, Err: err}
		}
	}
	return nil
}

func (a *Applier) applyOne(c Chunk, source *os.File) error {
	switch c.Type {
	case ChunkFileHeader, ChunkEOF:
		return nil
	case ChunkApplyOption:
		a.recordApplyOption(c.ApplyOption)
		return nil
	case ChunkApplyFreeSpace:
		// Legacy free-space allocator: recorded only, no disk effect.
		return nil
	case ChunkAddDirectory:
		return a.applyAddDirectory(c.AddDirectory)
	case ChunkDeleteDir:
		return a.applyDeleteDirectory(c.DeleteDir)
	case ChunkSqpk:
		return a.applySqpk(c.Sqpk, source)
	default:
		// Unknown top-level chunk: skip without error.
		return nil
	}
}

func (a *Applier) recordApplyOption(opt *ApplyOptionChunk) {
	if opt == nil {
		return
	}
	switch opt.Option {
	case OptionIgnoreMissing:
		a.Options.IgnoreMissing = opt.Value != 0
	case OptionIgnoreOldMismatch:
		a.Options.IgnoreOldMismatch = opt.Value != 0
	default:
		if a.Options.Unknown == nil {
			a.Options.Unknown = map[uint32]uint32{}
		}
		a.Options.Unknown[uint32(opt.Option)] = opt.Value
	}
}

func (a *Applier) applyAddDirectory(d *AddDirectoryChunk) error {
	joined, err := ioutil.SafeJoin(a.GameRoot, d.Path)
	if err != nil {
		return err
	}
	return os.MkdirAll(joined, 0o755)
}

// applyDeleteDirectory recursively removes the target tree. A missing
// target is not an error (idempotent).
func (a *Applier) applyDeleteDirectory(d *DeleteDirectoryChunk) error {
	joined, err := ioutil.SafeJoin(a.GameRoot, d.Path)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(joined); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (a *Applier) applySqpk(s *SqpkChunk, source *os.File) error {
	if s == nil {
		return nil
	}
	switch s.Command {
	case SqpkAddData:
		return a.applyAddData(s.AddData, source)
	case SqpkDeleteData:
		return a.applyDeleteData(s.DeleteData)
	case SqpkExpandData:
		return a.applyExpandData(s.ExpandData)
	case SqpkHeaderCmd:
		return a.applyHeader(s.Header)
	case SqpkIndexCmd:
		return a.applyIndex(s.Index)
	case SqpkFileCmd:
		return a.applyFile(s.File, source)
	case SqpkPatchInfoCmd, SqpkTargetInfo:
		// Informational only.
		return nil
	default:
		// Unknown SQPK sub-command: skip without error.
		return nil
	}
}

// sqpackDatPath derives the on-disk dat/index file name for a target.
// The vendor format encodes the owning expansion in the target's main id
// (0 = base game, 1..5 = Ex1..Ex5), the same convention the Repository enum
// uses.
func sqpackDatPath(gameRoot string, t SqpackFileTarget) string {
	expDir := expansionDirForMainID(t.MainID)
	name := fmt.Sprintf("%02x%04x.%s.dat%d", t.MainID, t.SubID, platformTag, t.FileID)
	return filepath.Join(gameRoot, "game", "sqpack", expDir, name)
}

func sqpackIndexPath(gameRoot string, t SqpackFileTarget, isIndex2 bool) string {
	expDir := expansionDirForMainID(t.MainID)
	ext := "index"
	if isIndex2 {
		ext = "index2"
	}
	name := fmt.Sprintf("%02x%04x.%s.%s", t.MainID, t.SubID, platformTag, ext)
	return filepath.Join(gameRoot, "game", "sqpack", expDir, name)
}

func expansionDirForMainID(mainID uint16) string {
	if mainID == 0 {
		return "ffxiv"
	}
	return fmt.Sprintf("ex%d", mainID)
}

func openTargetForWrite(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating sqpack directory: %w", err)
	}
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
}

// applyAddData writes the block data at block_offset, then removes
// block_delete_number bytes immediately after it. When the deleted span is
// not trailing data, the bytes
// after it are shifted down to close the gap (a splice), matching the
// vendor's variable-length block replacement semantics.
func (a *Applier) applyAddData(d *SqpkAddDataChunk, source *os.File) error {
	if d == nil {
		return nil
	}
	path := sqpackDatPath(a.GameRoot, d.Target)
	f, err := openTargetForWrite(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if d.BlockNumber > 0 {
		if err := copyRange(f, int64(d.BlockOffset), source, int64(d.data.SourceOffset), int64(d.data.Length)); err != nil {
			return fmt.Errorf("writing add-data block: %w", err)
		}
	}
	if d.BlockDeleteNumber > 0 {
		spliceFrom := int64(d.BlockOffset) + int64(d.BlockNumber)
		if err := closeGap(f, spliceFrom, int64(d.BlockDeleteNumber)); err != nil {
			return fmt.Errorf("closing add-data delete gap: %w", err)
		}
	}
	return nil
}

// applyDeleteData zero-fills the specified range.
func (a *Applier) applyDeleteData(d *SqpkDeleteDataChunk) error {
	if d == nil {
		return nil
	}
	path := sqpackDatPath(a.GameRoot, d.Target)
	f, err := openTargetForWrite(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return zeroFill(f, int64(d.BlockOffset), int64(d.BlockNumber))
}

// applyExpandData grows the target file to cover [block_offset,
// block_offset+block_number).
func (a *Applier) applyExpandData(d *SqpkExpandDataChunk) error {
	if d == nil {
		return nil
	}
	path := sqpackDatPath(a.GameRoot, d.Target)
	f, err := openTargetForWrite(path)
	if err != nil {
		return err
	}
	defer f.Close()

	want := int64(d.BlockOffset) + int64(d.BlockNumber)
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < want {
		return f.Truncate(want)
	}
	return nil
}

// applyHeader rewrites a range at the start of the target dat or index file.
func (a *Applier) applyHeader(h *SqpkHeaderChunk) error {
	if h == nil {
		return nil
	}
	var path string
	if h.FileKind == 'I' {
		path = sqpackIndexPath(a.GameRoot, h.Target, h.HeaderKind == 'I')
	} else {
		path = sqpackDatPath(a.GameRoot, h.Target)
	}
	f, err := openTargetForWrite(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteAt(h.HeaderData, 0)
	return err
}

// applyIndex appends (or, for a path hash already present, replaces) index
// entries. The on-disk index layout beyond the 16-byte entry record is
// undocumented; entries are appended in encounter order,
// keyed by path hash within this chunk's own batch, which is sufficient to
// keep the file consistent across repeated application of the same patch
// (idempotent re-apply replaces rather than duplicates a path-hash record).
func (a *Applier) applyIndex(idx *SqpkIndexChunk) error {
	if idx == nil {
		return nil
	}
	path := sqpackIndexPath(a.GameRoot, idx.Target, idx.IsIndex2)
	f, err := openTargetForWrite(path)
	if err != nil {
		return err
	}
	defer f.Close()

	existing, err := readIndexEntries(f)
	if err != nil {
		return err
	}
	byHash := make(map[uint64]int, len(existing))
	for i, e := range existing {
		byHash[e.PathHash] = i
	}
	for _, e := range idx.Entries {
		if i, ok := byHash[e.PathHash]; ok {
			existing[i] = e
		} else {
			byHash[e.PathHash] = len(existing)
			existing = append(existing, e)
		}
	}
	return writeIndexEntries(f, existing)
}

// applyFile performs the SqpkFile operation against a game-root-relative
// path.
func (a *Applier) applyFile(fc *SqpkFileChunk, source *os.File) error {
	if fc == nil {
		return nil
	}
	joined, err := ioutil.SafeJoin(a.GameRoot, fc.Path)
	if err != nil {
		return err
	}
	switch fc.Operation {
	case 'M':
		return os.MkdirAll(joined, 0o755)
	case 'D':
		if err := os.Remove(joined); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	case 'R':
		if err := os.RemoveAll(joined); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	case 'A':
		if err := os.MkdirAll(filepath.Dir(joined), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(joined, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		defer out.Close()
		if fc.data.Length == 0 {
			return nil
		}
		return copyRange(out, 0, source, int64(fc.data.SourceOffset), int64(fc.data.Length))
	default:
		return fmt.Errorf("unknown SQPK File operation %q", fc.Operation)
	}
}

// copyRange streams n bytes from src at srcOff into dst at dstOff, never
// materializing the whole span in memory.
func copyRange(dst *os.File, dstOff int64, src *os.File, srcOff, n int64) error {
	if src == nil {
		return fmt.Errorf("no patch source file available to stream block data")
	}
	sr := io.NewSectionReader(src, srcOff, n)
	w := io.NewOffsetWriter(dst, dstOff)
	_, err := io.Copy(w, sr)
	return err
}

const zeroFillChunkSize = 64 * 1024

func zeroFill(f *os.File, offset, length int64) error {
	if length <= 0 {
		return nil
	}
	buf := make([]byte, zeroFillChunkSize)
	w := io.NewOffsetWriter(f, offset)
	remaining := length
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

// closeGap removes a [from, from+length) span from f by shifting everything
// after it down by length bytes, then truncating the file. Used by AddData
// to apply block_delete_number.
func closeGap(f *os.File, from, length int64) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	tailStart := from + length
	if tailStart >= info.Size() {
		// The deleted span is at or past EOF: nothing to shift.
		if from < info.Size() {
			return f.Truncate(from)
		}
		return nil
	}

	buf := make([]byte, zeroFillChunkSize)
	readAt := tailStart
	writeAt := from
	for readAt < info.Size() {
		n := int64(len(buf))
		if info.Size()-readAt < n {
			n = info.Size() - readAt
		}
		got, err := f.ReadAt(buf[:n], readAt)
		if err != nil && err != io.EOF {
			return err
		}
		if got == 0 {
			break
		}
		if _, err := f.WriteAt(buf[:got], writeAt); err != nil {
			return err
		}
		readAt += int64(got)
		writeAt += int64(got)
	}
	return f.Truncate(writeAt)
}

const indexEntrySize = 16

func readIndexEntries(f *os.File) ([]SqpkIndexEntry, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	count := info.Size() / indexEntrySize
	entries := make([]SqpkIndexEntry, 0, count)
	buf := make([]byte, indexEntrySize)
	for i := int64(0); i < count; i++ {
		if _, err := f.ReadAt(buf, i*indexEntrySize); err != nil {
			return nil, err
		}
		entries = append(entries, decodeIndexEntry(buf))
	}
	return entries, nil
}

func writeIndexEntries(f *os.File, entries []SqpkIndexEntry) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	buf := make([]byte, indexEntrySize)
	for i, e := range entries {
		encodeIndexEntry(buf, e)
		if _, err := f.WriteAt(buf, int64(i)*indexEntrySize); err != nil {
			return err
		}
	}
	return nil
}

func decodeIndexEntry(b []byte) SqpkIndexEntry {
	return SqpkIndexEntry{
		PathHash:    beUint64(b[0:8]),
		BlockOffset: beUint32(b[8:12]),
		BlockNumber: beUint32(b[12:16]),
	}
}

func encodeIndexEntry(b []byte, e SqpkIndexEntry) {
	putBeUint64(b[0:8], e.PathHash)
	putBeUint32(b[8:12], e.BlockOffset)
	putBeUint32(b[12:16], e.BlockNumber)
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

func beUint32(b []byte) uint32 {
	var v uint32
	for _, x := range b {
		v = v<<8 | uint32(x)
	}
	return v
}

func putBeUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func putBeUint32(b []byte, v uint32) {
	for i := 3; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
