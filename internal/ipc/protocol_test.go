package ipc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanolyn/gaveloc/internal/entities"
)

func TestRequestRoundTrip(t *testing.T) {
	cases := []Request{
		{Type: ReqHello, ParentPID: 12345},
		{
			Type: ReqStartPatch,
			Patches: []entities.PatchEntry{
				{VersionID: "2024.07.24.0000.0000", URL: "http://example/patch1.patch", Length: 1024, Repository: entities.RepoBoot},
				{VersionID: "v2", URL: "http://example/p2.patch", Length: 8, HashType: "sha1", HashBlockSize: 4, Hashes: []string{"a", "b"}, Repository: entities.RepoEx1},
			},
			GameRoot:    "/home/user/ffxiv",
			PatchDir:    "/tmp/gaveloc-cycle-1",
			KeepPatches: true,
		},
		{Type: ReqCancel},
		{Type: ReqShutdown},
	}
	for _, req := range cases {
		encoded := EncodeRequest(req)
		decoded, err := DecodeRequest(encoded)
		require.NoError(t, err)
		assert.Equal(t, req, decoded)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	cases := []Response{
		{Type: RespReady},
		{Type: RespProgress, Index: 1, Total: 3, VersionID: "v1", Repository: entities.RepoBase, State: entities.PatchDownloading, BytesDone: 10, BytesTotal: 100},
		{Type: RespPatchCompleted, PatchIndex: 1, VersionID: "v1"},
		{Type: RespAllCompleted},
		{Type: RespError, Message: "disk full"},
		{Type: RespCancelled},
	}
	for _, resp := range cases {
		encoded := EncodeResponse(resp)
		decoded, err := DecodeResponse(encoded)
		require.NoError(t, err)
		assert.Equal(t, resp, decoded)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := EncodeRequest(Request{Type: ReqCancel})
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadFrameRejectsOversizedDeclaration(t *testing.T) {
	var buf bytes.Buffer
	header := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	buf.Write(header)
	_, err := ReadFrame(&buf)
	assert.Error(t, err)
}

func TestDecodeRequestRejectsEmptyFrame(t *testing.T) {
	_, err := DecodeRequest(nil)
	assert.Error(t, err)
}
