// Package auth implements Authenticator: the vendor's multi-step
// HTML-scrape OAuth-like login dance against its login host.
package auth

import (
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/nanolyn/gaveloc/internal/coreerr"
	"github.com/nanolyn/gaveloc/internal/entities"
)

const (
	oauthLoginURL = "https://ffxiv-login.square-enix.com/oauth/ffxivarr/login/top"
	oauthSendURL  = "https://ffxiv-login.square-enix.com/oauth/ffxivarr/login/login.send"
)

var (
	storedTokenRe = regexp.MustCompile(`<\s*input .* name="_STORED_" value="([^"]*)"`)
	successRe     = regexp.MustCompile(`window\.external\.user\("login=auth,ok,([^"]*)"\);`)
	failureRe     = regexp.MustCompile(`window\.external\.user\("login=auth,ng,err,([^"]*)"\);`)
)

// FieldIndices is the position, within the comma-split success params, of
// each field the client cares about. The mapping has been observed to
// differ across client versions, so it is configuration rather than a set
// of constants; DefaultFieldIndices reflects the currently-known positions.
type FieldIndices struct {
	SessionID     int
	TermsAccepted int
	Region        int
	Playable      int
	MaxExpansion  int
	MinFields     int
}

// DefaultFieldIndices is {1,3,5,9,13}, requiring at least 14 fields.
var DefaultFieldIndices = FieldIndices{
	SessionID:     1,
	TermsAccepted: 3,
	Region:        5,
	Playable:      9,
	MaxExpansion:  13,
	MinFields:     14,
}

// ErrInvalidServerResponse is returned whenever the OAuth host's HTML does
// not match the expected shape (missing _STORED_, restart notice, malformed
// success/error line).
var ErrInvalidServerResponse = coreerr.New(coreerr.KindUnknown, "invalid OAuth server response")

// Client performs the three-step login dance against the vendor's OAuth
// host.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Fields    FieldIndices
}

// NewClient builds a Client with a freshly derived machine-id user agent.
func NewClient() *Client {
	return &Client{
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		UserAgent: generateUserAgent(),
		Fields:    DefaultFieldIndices,
	}
}

// Login runs the full three-step dance and classifies the outcome.
// AccountNotPlayable and TermsNotAccepted are checked before returning
// success.
func (c *Client) Login(creds entities.Credentials, region int, isFreeTrial bool) (entities.OauthLoginResult, error) {
	stored, err := c.getOauthTop(region, isFreeTrial)
	if err != nil {
		return entities.OauthLoginResult{}, err
	}

	result, err := c.sendLogin(creds, stored, region, isFreeTrial)
	if err != nil {
		return entities.OauthLoginResult{}, err
	}

	if !result.Playable {
		return entities.OauthLoginResult{}, coreerr.New(coreerr.KindAccountNotPlayable, "account not playable")
	}
	if !result.TermsAccepted {
		return entities.OauthLoginResult{}, coreerr.New(coreerr.KindTermsNotAccepted, "terms of service not accepted")
	}
	return result, nil
}

func (c *Client) topURL(region int, isFreeTrial bool) string {
	ft := "0"
	if isFreeTrial {
		ft = "1"
	}
	return fmt.Sprintf("%s?lng=en&rgn=%d&isft=%s&cssmode=1&isnew=1&launchver=3", oauthLoginURL, region, ft)
}

func (c *Client) getOauthTop(region int, isFreeTrial bool) (string, error) {
	req, err := http.NewRequest(http.MethodGet, c.topURL(region, isFreeTrial), nil)
	if err != nil {
		return "", fmt.Errorf("building OAuth top request: %w", err)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "image/gif, image/jpeg, image/pjpeg, application/x-ms-application, application/xaml+xml, application/x-ms-xbap, */*")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	req.Header.Set("Accept-Language", "en-us")
	req.Header.Set("Connection", "Keep-Alive")
	req.Header.Set("Cookie", `_rsid=""`)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("OAuth top request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading OAuth response: %w", err)
	}
	text := string(body)

	if strings.Contains(text, `window.external.user("restartup");`) {
		return "", fmt.Errorf("%w: server requested restart", ErrInvalidServerResponse)
	}

	m := storedTokenRe.FindStringSubmatch(text)
	if m == nil {
		return "", fmt.Errorf("%w: could not find _STORED_ token", ErrInvalidServerResponse)
	}
	return m[1], nil
}

func (c *Client) sendLogin(creds entities.Credentials, stored string, region int, isFreeTrial bool) (entities.OauthLoginResult, error) {
	form := url.Values{
		"_STORED_": {stored},
		"sqexid":   {creds.Username},
		"password": {creds.Password},
		"otppw":    {creds.OTP},
	}

	req, err := http.NewRequest(http.MethodPost, oauthSendURL, strings.NewReader(form.Encode()))
	if err != nil {
		return entities.OauthLoginResult{}, fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "image/gif, image/jpeg, image/pjpeg, application/x-ms-application, application/xaml+xml, application/x-ms-xbap, */*")
	req.Header.Set("Referer", c.topURL(region, isFreeTrial))
	req.Header.Set("Accept-Language", "en-us")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	req.Header.Set("Host", "ffxiv-login.square-enix.com")
	req.Header.Set("Connection", "Keep-Alive")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Cookie", `_rsid=""`)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return entities.OauthLoginResult{}, fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return entities.OauthLoginResult{}, fmt.Errorf("reading login response: %w", err)
	}
	text := string(body)

	return c.parseLoginResponse(text)
}

// parseLoginResponse is split out from sendLogin so it can be unit tested
// against fixture bodies without a network round trip.
func (c *Client) parseLoginResponse(text string) (entities.OauthLoginResult, error) {
	if m := successRe.FindStringSubmatch(text); m != nil {
		params := strings.Split(m[1], ",")
		f := c.Fields
		if len(params) < f.MinFields {
			return entities.OauthLoginResult{}, fmt.Errorf("%w: unexpected launch params count: %d", ErrInvalidServerResponse, len(params))
		}

		region, err := strconv.Atoi(params[f.Region])
		if err != nil {
			return entities.OauthLoginResult{}, fmt.Errorf("%w: invalid region", ErrInvalidServerResponse)
		}
		maxExpansion, err := strconv.ParseUint(params[f.MaxExpansion], 10, 32)
		if err != nil {
			return entities.OauthLoginResult{}, fmt.Errorf("%w: invalid max expansion", ErrInvalidServerResponse)
		}

		return entities.OauthLoginResult{
			SessionID:     params[f.SessionID],
			RegionCode:    int32(region),
			TermsAccepted: params[f.TermsAccepted] != "0",
			Playable:      params[f.Playable] != "0",
			MaxExpansion:  uint32(maxExpansion),
		}, nil
	}

	if m := failureRe.FindStringSubmatch(text); m != nil {
		return entities.OauthLoginResult{}, newOauthError(m[1])
	}

	return entities.OauthLoginResult{}, fmt.Errorf("%w: unexpected login response format", ErrInvalidServerResponse)
}

// generateUserAgent builds the fixed vendor user-agent string embedding a
// machine-derived identifier.
func generateUserAgent() string {
	return fmt.Sprintf("SQEXAuthor/2.0.0(Windows 6.2; ja-jp; %s)", makeComputerID())
}

// makeComputerID derives a ten-hex-character machine identifier: SHA-1 of
// (hostname||username||os), take the first four hash bytes, prepend a
// checksum byte equal to the wrapping negation of their sum, hex-encode the
// resulting five bytes.
func makeComputerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	username := currentUsername()
	osTag := runtime.GOOS

	h := sha1.Sum([]byte(hostname + username + osTag))

	var bytes [5]byte
	copy(bytes[1:5], h[0:4])

	var sum byte
	for _, b := range bytes[1:5] {
		sum += b
	}
	bytes[0] = -sum

	return fmt.Sprintf("%x", bytes[:])
}

func currentUsername() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u := os.Getenv("USERNAME"); u != "" {
		return u
	}
	return "unknown"
}

