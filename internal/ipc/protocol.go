// Package ipc implements WorkerProtocol: the length-prefixed tagged-union
// framing between the launcher and the isolated patch worker process. The
// wire encoding is a single discriminant byte followed by length-prefixed
// fields; messages are capped at 16 MiB.
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nanolyn/gaveloc/internal/entities"
)

// MaxMessageSize caps a single framed message.
const MaxMessageSize = 16 * 1024 * 1024

// RequestType discriminates a Launcher->Worker message.
type RequestType byte

const (
	ReqHello RequestType = iota + 1
	ReqStartPatch
	ReqCancel
	ReqShutdown
)

// Request is a Launcher->Worker message. Only the fields relevant to Type
// are populated.
type Request struct {
	Type RequestType

	// ReqHello
	ParentPID int32

	// ReqStartPatch. PatchDir is the launcher's scratch directory holding
	// the verified patch files, one per entry, named by the entry's
	// Filename(); the worker never downloads anything itself.
	Patches     []entities.PatchEntry
	GameRoot    string
	PatchDir    string
	KeepPatches bool
}

// ResponseType discriminates a Worker->Launcher message.
type ResponseType byte

const (
	RespReady ResponseType = iota + 1
	RespProgress
	RespPatchCompleted
	RespAllCompleted
	RespError
	RespCancelled
)

// Response is a Worker->Launcher message.
type Response struct {
	Type ResponseType

	// RespProgress
	Index      uint32
	Total      uint32
	VersionID  string
	Repository entities.Repository
	State      entities.PatchState
	BytesDone  uint64
	BytesTotal uint64

	// RespPatchCompleted (VersionID reused)
	PatchIndex uint32

	// RespError
	Message string
}

// --- wire primitives ---

func writeString(buf *[]byte, s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	*buf = append(*buf, lenBuf[:]...)
	*buf = append(*buf, s...)
}

func readString(b []byte, off int) (string, int, error) {
	if off+4 > len(b) {
		return "", off, fmt.Errorf("ipc: truncated string length")
	}
	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if off+n > len(b) {
		return "", off, fmt.Errorf("ipc: truncated string body")
	}
	return string(b[off : off+n]), off + n, nil
}

func writeU64(buf *[]byte, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	*buf = append(*buf, b[:]...)
}

func readU64(b []byte, off int) (uint64, int, error) {
	if off+8 > len(b) {
		return 0, off, fmt.Errorf("ipc: truncated uint64")
	}
	return binary.BigEndian.Uint64(b[off : off+8]), off + 8, nil
}

func writeU32(buf *[]byte, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	*buf = append(*buf, b[:]...)
}

func readU32(b []byte, off int) (uint32, int, error) {
	if off+4 > len(b) {
		return 0, off, fmt.Errorf("ipc: truncated uint32")
	}
	return binary.BigEndian.Uint32(b[off : off+4]), off + 4, nil
}

func writePatchEntry(buf *[]byte, p entities.PatchEntry) {
	writeString(buf, p.VersionID)
	writeString(buf, p.URL)
	writeU64(buf, p.Length)
	writeString(buf, p.HashType)
	writeU64(buf, p.HashBlockSize)
	writeU32(buf, uint32(len(p.Hashes)))
	for _, h := range p.Hashes {
		writeString(buf, h)
	}
	*buf = append(*buf, byte(p.Repository))
}

func readPatchEntry(b []byte, off int) (entities.PatchEntry, int, error) {
	var p entities.PatchEntry
	var err error
	p.VersionID, off, err = readString(b, off)
	if err != nil {
		return p, off, err
	}
	p.URL, off, err = readString(b, off)
	if err != nil {
		return p, off, err
	}
	p.Length, off, err = readU64(b, off)
	if err != nil {
		return p, off, err
	}
	p.HashType, off, err = readString(b, off)
	if err != nil {
		return p, off, err
	}
	p.HashBlockSize, off, err = readU64(b, off)
	if err != nil {
		return p, off, err
	}
	var count uint32
	count, off, err = readU32(b, off)
	if err != nil {
		return p, off, err
	}
	if count > 0 {
		p.Hashes = make([]string, count)
	}
	for i := range p.Hashes {
		p.Hashes[i], off, err = readString(b, off)
		if err != nil {
			return p, off, err
		}
	}
	if off >= len(b) {
		return p, off, fmt.Errorf("ipc: truncated repository tag")
	}
	p.Repository = entities.Repository(b[off])
	off++
	return p, off, nil
}

// EncodeRequest serializes req into its wire form (discriminant byte plus
// type-specific fields).
func EncodeRequest(req Request) []byte {
	buf := []byte{byte(req.Type)}
	switch req.Type {
	case ReqHello:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(req.ParentPID))
		buf = append(buf, b[:]...)
	case ReqStartPatch:
		writeU32(&buf, uint32(len(req.Patches)))
		for _, p := range req.Patches {
			writePatchEntry(&buf, p)
		}
		writeString(&buf, req.GameRoot)
		writeString(&buf, req.PatchDir)
		if req.KeepPatches {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case ReqCancel, ReqShutdown:
		// no payload
	}
	return buf
}

// DecodeRequest parses the wire form produced by EncodeRequest.
func DecodeRequest(b []byte) (Request, error) {
	if len(b) == 0 {
		return Request{}, fmt.Errorf("ipc: empty request frame")
	}
	req := Request{Type: RequestType(b[0])}
	off := 1
	switch req.Type {
	case ReqHello:
		v, _, err := readU32(b, off)
		if err != nil {
			return req, err
		}
		req.ParentPID = int32(v)
	case ReqStartPatch:
		count, newOff, err := readU32(b, off)
		if err != nil {
			return req, err
		}
		off = newOff
		req.Patches = make([]entities.PatchEntry, count)
		for i := range req.Patches {
			req.Patches[i], off, err = readPatchEntry(b, off)
			if err != nil {
				return req, err
			}
		}
		req.GameRoot, off, err = readString(b, off)
		if err != nil {
			return req, err
		}
		req.PatchDir, off, err = readString(b, off)
		if err != nil {
			return req, err
		}
		if off < len(b) {
			req.KeepPatches = b[off] != 0
		}
	case ReqCancel, ReqShutdown:
		// no payload
	default:
		return req, fmt.Errorf("ipc: unknown request type %d", req.Type)
	}
	return req, nil
}

// EncodeResponse serializes resp into its wire form.
func EncodeResponse(resp Response) []byte {
	buf := []byte{byte(resp.Type)}
	switch resp.Type {
	case RespReady, RespAllCompleted, RespCancelled:
		// no payload
	case RespProgress:
		writeU32(&buf, resp.Index)
		writeU32(&buf, resp.Total)
		writeString(&buf, resp.VersionID)
		buf = append(buf, byte(resp.Repository))
		buf = append(buf, byte(resp.State))
		writeU64(&buf, resp.BytesDone)
		writeU64(&buf, resp.BytesTotal)
	case RespPatchCompleted:
		writeU32(&buf, resp.PatchIndex)
		writeString(&buf, resp.VersionID)
	case RespError:
		writeString(&buf, resp.Message)
	}
	return buf
}

// DecodeResponse parses the wire form produced by EncodeResponse.
func DecodeResponse(b []byte) (Response, error) {
	if len(b) == 0 {
		return Response{}, fmt.Errorf("ipc: empty response frame")
	}
	resp := Response{Type: ResponseType(b[0])}
	off := 1
	var err error
	switch resp.Type {
	case RespReady, RespAllCompleted, RespCancelled:
		// no payload
	case RespProgress:
		resp.Index, off, err = readU32(b, off)
		if err != nil {
			return resp, err
		}
		resp.Total, off, err = readU32(b, off)
		if err != nil {
			return resp, err
		}
		resp.VersionID, off, err = readString(b, off)
		if err != nil {
			return resp, err
		}
		if off+2 > len(b) {
			return resp, fmt.Errorf("ipc: truncated progress tail")
		}
		resp.Repository = entities.Repository(b[off])
		resp.State = entities.PatchState(b[off+1])
		off += 2
		resp.BytesDone, off, err = readU64(b, off)
		if err != nil {
			return resp, err
		}
		resp.BytesTotal, _, err = readU64(b, off)
		if err != nil {
			return resp, err
		}
	case RespPatchCompleted:
		resp.PatchIndex, off, err = readU32(b, off)
		if err != nil {
			return resp, err
		}
		resp.VersionID, _, err = readString(b, off)
		if err != nil {
			return resp, err
		}
	case RespError:
		resp.Message, _, err = readString(b, off)
		if err != nil {
			return resp, err
		}
	default:
		return resp, fmt.Errorf("ipc: unknown response type %d", resp.Type)
	}
	return resp, nil
}

// WriteFrame writes a 4-byte big-endian length prefix followed by payload.
// Returns an error if payload exceeds MaxMessageSize.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return fmt.Errorf("ipc: message of %d bytes exceeds max %d", len(payload), MaxMessageSize)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("ipc: writing frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("ipc: writing frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame, rejecting declared sizes above
// MaxMessageSize before allocating.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("ipc: reading frame header: %w", err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxMessageSize {
		return nil, fmt.Errorf("ipc: declared frame size %d exceeds max %d", size, MaxMessageSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("ipc: reading frame payload: %w", err)
	}
	return payload, nil
}
