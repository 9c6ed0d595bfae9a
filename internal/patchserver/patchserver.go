// Package patchserver implements PatchServerClient: querying the vendor's
// boot and game patch endpoints, parsing the tab-separated patch-list wire
// format, and registering a patch session. 5xx responses are retried with
// github.com/cenkalti/backoff/v4, capped at three attempts.
package patchserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"github.com/nanolyn/gaveloc/internal/coreerr"
	"github.com/nanolyn/gaveloc/internal/entities"
)

const (
	// UserAgent is sent on all patch traffic, boot and game alike.
	UserAgent = "FFXIV PATCH CLIENT"

	bootEndpoint = "http://patch-bootver.ffxiv.com/http/win32/ffxivneo_release_boot"
	gameEndpoint = "https://patch-gamever.ffxiv.com/http/win32/ffxivneo_release_game"

	// maxRetries counts retries after the first try: three attempts in all.
	maxRetries = 2
)

// ErrMaintenanceOrConflict is returned when the game-registration endpoint
// responds 409.
var ErrMaintenanceOrConflict = coreerr.New(coreerr.KindUnknown, "patch server reports maintenance or conflict")

// errServer5xx is the internal sentinel fed to backoff.Retry to distinguish
// a retryable 5xx from a terminal error.
var errServer5xx = coreerr.New(coreerr.KindServerError5xx, "patch server returned 5xx")

// Client queries the vendor's boot and game patch endpoints.
type Client struct {
	HTTP *http.Client
}

// NewClient returns a Client using http.DefaultClient's transport with no
// additional timeout beyond what the caller's context supplies.
func NewClient() *Client {
	return &Client{HTTP: http.DefaultClient}
}

func (c *Client) newRequest(ctx context.Context, method, url, body string) (*http.Request, error) {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	return req, nil
}

// CheckBoot queries the boot endpoint for the current boot version. A 204 response means no patches are available; on 5xx the request
// is tried at most three times in all, with exponential backoff.
func (c *Client) CheckBoot(ctx context.Context, currentVersion string, bootIntegrityDigest string) ([]entities.PatchEntry, error) {
	return c.checkBootAt(ctx, bootEndpoint, currentVersion, bootIntegrityDigest)
}

// checkBootAt is CheckBoot parameterized over the endpoint base, so tests
// can exercise the exact request/response handling against a local server
// without touching the bit-exact production URL in bootEndpoint.
func (c *Client) checkBootAt(ctx context.Context, base, currentVersion, bootIntegrityDigest string) ([]entities.PatchEntry, error) {
	url := fmt.Sprintf("%s/%s", base, currentVersion)

	var entries []entities.PatchEntry
	op := func() error {
		req, err := c.newRequest(ctx, http.MethodGet, url, "")
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("X-Hash-Check", bootIntegrityDigest)

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return errServer5xx
		}
		if resp.StatusCode == http.StatusNoContent {
			entries = nil
			return nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("boot check: unexpected status %d", resp.StatusCode))
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(err)
		}
		if len(body) == 0 {
			entries = nil
			return nil
		}
		entries = parsePatchList(string(body), entities.RepoBoot)
		return nil
	}

	if err := runWithRetry(ctx, op); err != nil {
		return nil, err
	}
	return entries, nil
}

// RegisterGame registers the patch session with the game-version endpoint
// and enumerates game patches. versionReport is the
// VersionStore.version_report body. Returns the enumerated patches and the
// server-issued unique id to attach to every subsequent download.
func (c *Client) RegisterGame(ctx context.Context, baseVersion, sessionID, versionReport string) ([]entities.PatchEntry, string, error) {
	return c.registerGameAt(ctx, gameEndpoint, baseVersion, sessionID, versionReport)
}

// registerGameAt is RegisterGame parameterized over the endpoint base; see
// checkBootAt.
func (c *Client) registerGameAt(ctx context.Context, base, baseVersion, sessionID, versionReport string) ([]entities.PatchEntry, string, error) {
	url := fmt.Sprintf("%s/%s/%s", base, baseVersion, sessionID)

	var entries []entities.PatchEntry
	var uniqueID string
	op := func() error {
		req, err := c.newRequest(ctx, http.MethodPost, url, versionReport)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("X-Hash-Check", "enabled")

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return errServer5xx
		}
		if resp.StatusCode == http.StatusConflict {
			return backoff.Permanent(ErrMaintenanceOrConflict)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("game registration: unexpected status %d", resp.StatusCode))
		}

		uniqueID = resp.Header.Get("X-Patch-Unique-Id")

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(err)
		}
		if resp.ContentLength == 0 || len(body) == 0 {
			entries = nil
			return nil
		}
		entries = parsePatchList(string(body), entities.RepoBase)
		return nil
	}

	if err := runWithRetry(ctx, op); err != nil {
		return nil, "", err
	}
	return entries, uniqueID, nil
}

func runWithRetry(ctx context.Context, op backoff.Operation) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries)
	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}

// parsePatchList parses the tab-separated patch-list wire format: "version_id \t url \t length_bytes [\t hash_type \t
// hash_block_size \t hash_1 \t hash_2 ...]". Malformed lines (fewer than
// three fields) are dropped. When defaultRepo is RepoBoot every entry is
// tagged RepoBoot; for game lists the repository is inferred per line
// from the URL path segment.
func parsePatchList(body string, defaultRepo entities.Repository) []entities.PatchEntry {
	var out []entities.PatchEntry
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			continue
		}
		length, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			continue
		}

		entry := entities.PatchEntry{
			VersionID: fields[0],
			URL:       fields[1],
			Length:    length,
		}
		if defaultRepo == entities.RepoBoot {
			entry.Repository = entities.RepoBoot
		} else {
			entry.Repository = entities.RepositoryFromURLSegment(fields[1])
		}

		if len(fields) >= 5 {
			entry.HashType = fields[3]
			if blockSize, err := strconv.ParseUint(fields[4], 10, 64); err == nil {
				entry.HashBlockSize = blockSize
			}
			if len(fields) > 5 {
				entry.Hashes = append([]string{}, fields[5:]...)
			}
		}
		out = append(out, entry)
	}
	return out
}
