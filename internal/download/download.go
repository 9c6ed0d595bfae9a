// Package download implements PatchDownloader: streaming a patch file to
// disk with a (bytesDownloaded, totalBytes) progress callback, then
// verifying it against its declared length and optional per-block hashes.
package download

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/nanolyn/gaveloc/internal/coreerr"
	"github.com/nanolyn/gaveloc/internal/entities"
)

// UserAgent is the fixed vendor-mandated agent for all patch traffic.
const UserAgent = "FFXIV PATCH CLIENT"

const chunkSize = 64 * 1024

// ProgressFunc is invoked after each chunk is written to disk with the
// cumulative bytes downloaded and the entry's total size.
type ProgressFunc func(bytesDownloaded, bytesTotal int64)

// ErrDownloadFailed wraps any network or IO failure encountered while
// streaming a patch file; the caller owns cleanup of the partial file.
var ErrDownloadFailed = coreerr.New(coreerr.KindPatchDownloadFailed, "patch download failed")

// Client streams patch files from the vendor's patch CDN.
type Client struct {
	HTTP *http.Client
}

// NewClient returns a Client with the vendor's fixed patch user agent
// applied to every request.
func NewClient() *Client {
	return &Client{HTTP: &http.Client{Timeout: 0}}
}

// Download streams entry's URL to destPath in fixed-size chunks, invoking
// progress after each chunk. uniqueID, if non-empty, is sent as
// X-Patch-Unique-Id (required on every download following a game-version
// registration). Parent directories of destPath are created
// as needed. Cancelling ctx aborts the stream between chunks; the caller
// owns cleanup of the partial file.
func (c *Client) Download(ctx context.Context, entry entities.PatchEntry, destPath string, uniqueID string, progress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: building request: %v", ErrDownloadFailed, err)
	}
	req.Header.Set("User-Agent", UserAgent)
	if uniqueID != "" {
		req.Header.Set("X-Patch-Unique-Id", uniqueID)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: unexpected status %d", ErrDownloadFailed, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("%w: creating destination directory: %v", ErrDownloadFailed, err)
	}
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("%w: creating destination file: %v", ErrDownloadFailed, err)
	}
	defer out.Close()

	total := int64(entry.Length)
	var done int64
	buf := make([]byte, chunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return fmt.Errorf("%w: writing chunk: %v", ErrDownloadFailed, werr)
			}
			done += int64(n)
			if progress != nil {
				progress(done, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("%w: reading response body: %v", ErrDownloadFailed, readErr)
		}
	}
	return nil
}

// Verify reports whether the file at path matches entry: its size must
// equal entry.Length exactly, and if entry carries block hashes, every
// fully-covered hash_block_size window must match its corresponding SHA-1
// hex digest. A trailing tail shorter than one block, left
// unhashed because the hash list was exhausted first, is acceptable; any
// explicit mismatch is not.
func (c *Client) Verify(entry entities.PatchEntry, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if uint64(info.Size()) != entry.Length {
		return false, nil
	}
	if len(entry.Hashes) == 0 {
		return true, nil
	}
	if entry.HashBlockSize == 0 {
		return false, fmt.Errorf("patch entry has hashes but zero hash_block_size")
	}

	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("opening %s for verification: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, entry.HashBlockSize)
	for _, expected := range entry.Hashes {
		n, readErr := io.ReadFull(f, buf)
		if n == 0 && (readErr == io.EOF || readErr == io.ErrUnexpectedEOF) {
			// Hash list outlived the file content: nothing more to check.
			break
		}
		if readErr != nil && readErr != io.ErrUnexpectedEOF {
			return false, fmt.Errorf("reading block for verification: %w", readErr)
		}
		h := sha1.Sum(buf[:n])
		if !strings.EqualFold(hex.EncodeToString(h[:]), expected) {
			return false, nil
		}
		if readErr == io.ErrUnexpectedEOF {
			break
		}
	}
	return true, nil
}
