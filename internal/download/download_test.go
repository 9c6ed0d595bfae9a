package download

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanolyn/gaveloc/internal/entities"
)

func sha1hex(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

func TestDownload_StreamsAndReportsProgress(t *testing.T) {
	body := make([]byte, 1024)
	for i := range body {
		body[i] = byte(i)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
		w.Write(body)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "sub", "patch1.patch")
	c := NewClient()
	entry := entities.PatchEntry{URL: srv.URL, Length: 1024}

	var lastDone, lastTotal int64
	err := c.Download(context.Background(), entry, dest, "", func(done, total int64) {
		lastDone, lastTotal = done, total
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1024, lastDone)
	assert.EqualValues(t, 1024, lastTotal)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestDownload_SendsUniqueIDHeader(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Patch-Unique-Id")
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	c := NewClient()
	dest := filepath.Join(t.TempDir(), "p")
	err := c.Download(context.Background(), entities.PatchEntry{URL: srv.URL, Length: 1}, dest, "handle-123", nil)
	require.NoError(t, err)
	assert.Equal(t, "handle-123", gotHeader)
}

// With no hashes present, verify succeeds purely on length match.
func TestVerify_NoHashesChecksSizeOnly(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "p")
	require.NoError(t, os.WriteFile(dest, make([]byte, 1024), 0o644))

	c := NewClient()
	ok, err := c.Verify(entities.PatchEntry{Length: 1024}, dest)
	require.NoError(t, err)
	assert.True(t, ok)
}

// A single corrupted block fails verification.
func TestVerify_BlockHashMismatch(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "p")
	require.NoError(t, os.WriteFile(dest, []byte("aaaa"+"bXbb"), 0o644))

	entry := entities.PatchEntry{
		Length:        8,
		HashBlockSize: 4,
		Hashes:        []string{sha1hex("aaaa"), sha1hex("bbbb")},
	}
	c := NewClient()
	ok, err := c.Verify(entry, dest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_AllBlocksMatch(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "p")
	require.NoError(t, os.WriteFile(dest, []byte("aaaabbbb"), 0o644))

	entry := entities.PatchEntry{
		Length:        8,
		HashBlockSize: 4,
		Hashes:        []string{sha1hex("aaaa"), sha1hex("bbbb")},
	}
	c := NewClient()
	ok, err := c.Verify(entry, dest)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_MissingFile(t *testing.T) {
	c := NewClient()
	ok, err := c.Verify(entities.PatchEntry{Length: 4}, filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_SizeMismatch(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "p")
	require.NoError(t, os.WriteFile(dest, []byte("short"), 0o644))
	c := NewClient()
	ok, err := c.Verify(entities.PatchEntry{Length: 1024}, dest)
	require.NoError(t, err)
	assert.False(t, ok)
}
