package patchserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanolyn/gaveloc/internal/entities"
)

func TestParsePatchList_DropsMalformedLines(t *testing.T) {
	body := "v1\thttp://x/p1\t1024\nmalformed\nv2\thttp://x/ex1/p2\t2048\thash\t4\taabb\tccdd"
	entries := parsePatchList(body, entities.RepoBase)
	require.Len(t, entries, 2)
	assert.Equal(t, entities.RepoBase, entries[0].Repository)
	assert.Equal(t, entities.RepoEx1, entries[1].Repository)
	assert.Equal(t, []string{"aabb", "ccdd"}, entries[1].Hashes)
	assert.EqualValues(t, 4, entries[1].HashBlockSize)
}

func TestParsePatchList_BootLinesAlwaysTaggedBoot(t *testing.T) {
	entries := parsePatchList("v1\thttp://x/ex2/p1\t10", entities.RepoBoot)
	require.Len(t, entries, 1)
	assert.Equal(t, entities.RepoBoot, entries[0].Repository)
}

// TestRegisterGame_ParsesUniqueIDAndBody: a 2xx body is parsed into
// entries, and the
// X-Patch-Unique-Id response header is surfaced for subsequent downloads.
func TestRegisterGame_ParsesUniqueIDAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "enabled", r.Header.Get("X-Hash-Check"))
		w.Header().Set("X-Patch-Unique-Id", "handle-abc")
		w.Write([]byte("2024.07.24.0000.0000\thttp://example/patch1.patch\t1024\n"))
	}))
	defer srv.Close()

	c := &Client{HTTP: srv.Client()}
	entries, uniqueID, err := registerAt(c, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "handle-abc", uniqueID)
	require.Len(t, entries, 1)
	assert.Equal(t, "2024.07.24.0000.0000", entries[0].VersionID)
}

// registerAt is a thin test seam that calls registerGameAt, the body of
// RegisterGame, against an arbitrary base URL (the production endpoint
// constant is fixed, so tests exercise the parsing/header logic through a
// local server rather than overriding gameEndpoint).
func registerAt(c *Client, base string) ([]entities.PatchEntry, string, error) {
	return c.registerGameAt(context.Background(), base, "3.0", "sess1", "ffxiv/3.0")
}

func TestCheckBoot_204MeansEmptyList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "digest123", r.Header.Get("X-Hash-Check"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := &Client{HTTP: srv.Client()}
	entries, err := c.checkBootAt(context.Background(), srv.URL, "2024.07.23.0000.0001", "digest123")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRegisterGame_409IsMaintenanceOrConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := &Client{HTTP: srv.Client()}
	_, _, err := c.registerGameAt(context.Background(), srv.URL, "3.0", "sess1", "ffxiv/3.0")
	assert.ErrorIs(t, err, ErrMaintenanceOrConflict)
}
