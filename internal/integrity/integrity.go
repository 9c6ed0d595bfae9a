// Package integrity implements IntegrityEngine: fetching the
// community-maintained hash manifest (with a 24h filesystem cache), verifying installed game files against it in parallel, and
// producing a repair plan. Fan-out uses golang.org/x/sync/errgroup; retry
// uses github.com/cenkalti/backoff/v4, matching internal/patchserver.
package integrity

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/nanolyn/gaveloc/internal/build"
	"github.com/nanolyn/gaveloc/internal/coreerr"
	"github.com/nanolyn/gaveloc/internal/entities"
	"github.com/nanolyn/gaveloc/internal/ioutil"
)

const manifestURLTemplate = "https://goatcorp.github.io/integrity/%s.json"

const cacheTTL = 24 * time.Hour

// wireManifest mirrors the published JSON shape: {"GameVersion",
// "LastGameVersion"?, "Hashes": {relPath: "space separated uppercase hex"}}.
type wireManifest struct {
	GameVersion     string            `json:"GameVersion"`
	LastGameVersion string            `json:"LastGameVersion,omitempty"`
	Hashes          map[string]string `json:"Hashes"`
}

// Engine fetches and checks game-file integrity against the public
// manifest.
type Engine struct {
	HTTP     *http.Client
	CacheDir string
}

// NewEngine returns an Engine caching fetched manifests under cacheDir.
func NewEngine(cacheDir string) *Engine {
	return &Engine{HTTP: http.DefaultClient, CacheDir: cacheDir}
}

func (e *Engine) cachePath(gameVersion string) string {
	return filepath.Join(e.CacheDir, gameVersion+".json")
}

// FetchManifest retrieves the manifest for gameVersion, consulting a 24h
// filesystem cache first. On 5xx responses the fetch is tried at most
// three times in all, with exponential backoff.
func (e *Engine) FetchManifest(ctx context.Context, gameVersion string) (entities.IntegrityManifest, error) {
	cachePath := e.cachePath(gameVersion)
	if cached, ok := e.readCache(cachePath); ok {
		return cached, nil
	}

	var wire wireManifest
	op := func() error {
		url := fmt.Sprintf(manifestURLTemplate, gameVersion)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", build.UserAgent())
		resp, err := e.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return coreerr.New(coreerr.KindServerError5xx, "integrity manifest server error")
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("fetching manifest: unexpected status %d", resp.StatusCode))
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(err)
		}
		return json.Unmarshal(body, &wire)
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return entities.IntegrityManifest{}, fmt.Errorf("fetching integrity manifest: %w", err)
	}

	manifest := entities.IntegrityManifest{
		GameVersion:     wire.GameVersion,
		LastGameVersion: wire.LastGameVersion,
		Hashes:          wire.Hashes,
	}
	e.writeCache(cachePath, wire)
	return manifest, nil
}

func (e *Engine) readCache(path string) (entities.IntegrityManifest, bool) {
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) > cacheTTL {
		return entities.IntegrityManifest{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return entities.IntegrityManifest{}, false
	}
	var wire wireManifest
	if err := json.Unmarshal(data, &wire); err != nil {
		return entities.IntegrityManifest{}, false
	}
	return entities.IntegrityManifest{GameVersion: wire.GameVersion, LastGameVersion: wire.LastGameVersion, Hashes: wire.Hashes}, true
}

func (e *Engine) writeCache(path string, wire wireManifest) {
	data, err := json.Marshal(wire)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o644)
}

// ProgressFunc is invoked after each file is checked. Results
// may arrive out of order; callers that need a stable order must sort.
type ProgressFunc func(p entities.IntegrityProgress)

// CheckIntegrity verifies every manifest entry against gameRoot, fanning
// out across CPU parallelism. cancel, if non-nil, is
// polled cooperatively at the top of each file check; once it reports true
// the remaining work stops and coreerr.ErrCancelled is returned. Manifest
// entries whose path contains ".." are silently dropped.
func (e *Engine) CheckIntegrity(ctx context.Context, gameRoot string, manifest entities.IntegrityManifest, cancel func() bool, progress ProgressFunc) ([]entities.FileIntegrityResult, error) {
	type job struct {
		relPath  string
		expected string
	}
	var jobs []job
	for rel, expected := range manifest.Hashes {
		if strings.Contains(rel, "..") {
			continue
		}
		jobs = append(jobs, job{relPath: rel, expected: expected})
	}

	total := len(jobs)
	var done int32
	var totalBytes, doneBytes uint64
	for _, j := range jobs {
		if hostPath, err := ioutil.SafeJoin(gameRoot, vendorRelPath(j.relPath)); err == nil {
			if info, err := os.Stat(hostPath); err == nil {
				atomic.AddUint64(&totalBytes, uint64(info.Size()))
			}
		}
	}

	results := make([]entities.FileIntegrityResult, total)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	var mu sync.Mutex
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			if cancel != nil && cancel() {
				return coreerr.ErrCancelled
			}
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			result := checkOne(gameRoot, j.relPath, j.expected)
			results[i] = result

			n := atomic.AddInt32(&done, 1)
			mu.Lock()
			if result.Status != entities.IntegrityMissing && result.Status != entities.IntegrityUnreadable {
				if hostPath, err := ioutil.SafeJoin(gameRoot, vendorRelPath(j.relPath)); err == nil {
					if info, err := os.Stat(hostPath); err == nil {
						atomic.AddUint64(&doneBytes, uint64(info.Size()))
					}
				}
			}
			mu.Unlock()

			if progress != nil {
				progress(entities.IntegrityProgress{
					CurrentFile: j.relPath,
					FilesDone:   int(n),
					FilesTotal:  total,
					BytesDone:   atomic.LoadUint64(&doneBytes),
					BytesTotal:  atomic.LoadUint64(&totalBytes),
				})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// vendorRelPath strips the manifest's leading Windows-style path separator
// before handing the remainder to ioutil.SafeJoin, which treats a leading
// separator as an absolute path and would otherwise reject every legitimate
// manifest entry. Mirrors internal/zipatch's normalizeVendorPath.
func vendorRelPath(raw string) string {
	return strings.TrimPrefix(strings.ReplaceAll(raw, "\\", "/"), "/")
}

func checkOne(gameRoot, relPath, expectedHash string) entities.FileIntegrityResult {
	result := entities.FileIntegrityResult{RelativePath: relPath, ExpectedHash: normalizeHash(expectedHash)}

	hostPath, pathErr := ioutil.SafeJoin(gameRoot, vendorRelPath(relPath))
	if pathErr != nil {
		result.Status = entities.IntegrityUnreadable
		return result
	}
	f, err := os.Open(hostPath)
	if err != nil {
		if os.IsNotExist(err) {
			result.Status = entities.IntegrityMissing
		} else {
			result.Status = entities.IntegrityUnreadable
		}
		return result
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		result.Status = entities.IntegrityUnreadable
		return result
	}
	actual := hex.EncodeToString(h.Sum(nil))
	result.ActualHash = actual
	if actual == result.ExpectedHash {
		result.Status = entities.IntegrityValid
	} else {
		result.Status = entities.IntegrityMismatch
	}
	return result
}

// normalizeHash strips whitespace and lowercases a manifest hash entry,
// which may be space-separated uppercase hex.
func normalizeHash(h string) string {
	return strings.ToLower(strings.ReplaceAll(h, " ", ""))
}

// Repair deletes the on-disk file for every non-Valid result. Returns the count of successful and failed deletions.
func Repair(gameRoot string, results []entities.FileIntegrityResult) (successCount, failureCount int) {
	for _, r := range results {
		if r.Status == entities.IntegrityValid {
			continue
		}
		hostPath, err := ioutil.SafeJoin(gameRoot, vendorRelPath(r.RelativePath))
		if err != nil {
			failureCount++
			continue
		}
		if err := os.Remove(hostPath); err != nil && !os.IsNotExist(err) {
			failureCount++
			continue
		}
		successCount++
	}
	return
}
