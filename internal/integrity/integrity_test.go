package integrity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanolyn/gaveloc/internal/entities"
)

// TestCheckIntegrity_MixedCaseSpaceSeparatedHashMatches: a manifest entry
// with a space-separated, mixed-case hex hash must be
// normalized and compared against the lowercase hex digest of the file
// contents.
func TestCheckIntegrity_MixedCaseSpaceSeparatedHashMatches(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "game", "sqpack"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "game", "sqpack", "a.dat"), []byte("Hello, World!"), 0o644))

	manifest := entities.IntegrityManifest{
		GameVersion: "2024.07.24.0000.0000",
		Hashes: map[string]string{
			`\game\sqpack\a.dat`: "0A 0A 9F 2A 67 72 94 25 57 AB 53 55 D7 6A F4 42 F8 F6 5E 01",
		},
	}

	e := NewEngine(t.TempDir())
	results, err := e.CheckIntegrity(context.Background(), root, manifest, nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, entities.IntegrityValid, results[0].Status)
	assert.Equal(t, "0a0a9f2a6772942557ab5355d76af442f8f65e01", results[0].ExpectedHash)
}

func TestCheckIntegrity_MismatchAndMissingClassified(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "game"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "game", "present.dat"), []byte("corrupted"), 0o644))

	manifest := entities.IntegrityManifest{
		Hashes: map[string]string{
			`\game\present.dat`: "0000000000000000000000000000000000000000",
			`\game\absent.dat`:  "1111111111111111111111111111111111111111",
		},
	}

	e := NewEngine(t.TempDir())
	results, err := e.CheckIntegrity(context.Background(), root, manifest, nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byPath := map[string]entities.FileIntegrityResult{}
	for _, r := range results {
		byPath[r.RelativePath] = r
	}
	assert.Equal(t, entities.IntegrityMismatch, byPath[`\game\present.dat`].Status)
	assert.Equal(t, entities.IntegrityMissing, byPath[`\game\absent.dat`].Status)
}

// TestCheckIntegrity_TraversalEntriesDroppedSilently: a manifest entry
// containing ".." must never
// reach the filesystem, and must not appear in the returned results.
func TestCheckIntegrity_TraversalEntriesDroppedSilently(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(filepath.Dir(root), "outside-secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("should never be read"), 0o644))
	defer os.Remove(outside)

	manifest := entities.IntegrityManifest{
		Hashes: map[string]string{
			`\..\outside-secret.txt`: "deadbeef",
		},
	}

	e := NewEngine(t.TempDir())
	results, err := e.CheckIntegrity(context.Background(), root, manifest, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCheckIntegrity_ProgressReflectsCompletionCount(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.dat"), []byte("aa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.dat"), []byte("bb"), 0o644))

	manifest := entities.IntegrityManifest{
		Hashes: map[string]string{
			`\a.dat`: "x",
			`\b.dat`: "y",
		},
	}

	var calls int
	e := NewEngine(t.TempDir())
	results, err := e.CheckIntegrity(context.Background(), root, manifest, nil, func(p entities.IntegrityProgress) {
		calls++
		assert.Equal(t, 2, p.FilesTotal)
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, calls)
}

func TestCheckIntegrity_CancelStopsEarly(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.dat"), []byte("aa"), 0o644))

	manifest := entities.IntegrityManifest{Hashes: map[string]string{`\a.dat`: "x"}}

	e := NewEngine(t.TempDir())
	cancelled := func() bool { return true }
	_, err := e.CheckIntegrity(context.Background(), root, manifest, cancelled, nil)
	assert.Error(t, err)
}

func TestRepair_RemovesNonValidFilesOnly(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.dat"), []byte("keep"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bad.dat"), []byte("bad"), 0o644))

	results := []entities.FileIntegrityResult{
		{RelativePath: `\keep.dat`, Status: entities.IntegrityValid},
		{RelativePath: `\bad.dat`, Status: entities.IntegrityMismatch},
		{RelativePath: `\gone.dat`, Status: entities.IntegrityMissing},
	}
	successCount, failureCount := Repair(root, results)
	assert.Equal(t, 2, successCount)
	assert.Equal(t, 0, failureCount)

	_, err := os.Stat(filepath.Join(root, "keep.dat"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "bad.dat"))
	assert.True(t, os.IsNotExist(err))
}

func TestFetchManifest_ReadsFromFilesystemCache(t *testing.T) {
	cacheDir := t.TempDir()
	e := NewEngine(cacheDir)
	cached := wireManifest{GameVersion: "2024.07.24.0000.0000", Hashes: map[string]string{`\a`: "aa"}}
	e.writeCache(e.cachePath("2024.07.24.0000.0000"), cached)

	manifest, err := e.FetchManifest(context.Background(), "2024.07.24.0000.0000")
	require.NoError(t, err)
	assert.Equal(t, "2024.07.24.0000.0000", manifest.GameVersion)
	assert.Equal(t, "aa", manifest.Hashes[`\a`])
}
