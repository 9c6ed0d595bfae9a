package entities

import (
	"strings"
	"time"
)

// AccountId is the vendor account name case-folded to lowercase, the primary
// key of AccountStore and the composite key in CredentialStore. Whitespace
// is trimmed before folding, defensive against copy-pasted account names.
type AccountId string

// NewAccountId normalizes raw into its canonical form.
func NewAccountId(raw string) AccountId {
	return AccountId(strings.ToLower(strings.TrimSpace(raw)))
}

func (a AccountId) String() string { return string(a) }

// Account is the non-secret record persisted by AccountStore.
type Account struct {
	ID            AccountId
	DisplayName   string
	IsSteam       bool
	IsFreeTrial   bool
	RequiresOTP   bool
	LastLoginUnix int64 // 0 means "never"
}

// Credentials is a transient login bundle; never persisted.
type Credentials struct {
	Username string
	Password string
	OTP      string // empty if not supplied
}

// WithOTP returns a copy of c carrying the given one-time password.
func (c Credentials) WithOTP(otp string) Credentials {
	c.OTP = otp
	return c
}

// cacheDurationSecs is the validity window of a CachedSession.
const cacheDurationSecs = 24 * 60 * 60

// CachedSession is the server-issued session handle cached across launches.
type CachedSession struct {
	UniqueID      string
	RegionCode    int32
	MaxExpansion  uint32
	CreatedAtUnix int64
}

// NewCachedSession stamps CreatedAtUnix with the given instant (call with
// time.Now().Unix() at the call site so tests can supply a fixed clock).
func NewCachedSession(uniqueID string, region int32, maxExpansion uint32, createdAtUnix int64) CachedSession {
	return CachedSession{
		UniqueID:      uniqueID,
		RegionCode:    region,
		MaxExpansion:  maxExpansion,
		CreatedAtUnix: createdAtUnix,
	}
}

// IsValid reports whether now-CreatedAtUnix < 24h. Re-checked on every read,
// not just at creation.
func (s CachedSession) IsValid(now time.Time) bool {
	return now.Unix()-s.CreatedAtUnix < cacheDurationSecs
}

// RemainingSecs returns the seconds left before expiry, clamped to 0.
func (s CachedSession) RemainingSecs(now time.Time) int64 {
	remaining := cacheDurationSecs - (now.Unix() - s.CreatedAtUnix)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// OauthLoginResult is the parsed outcome of a successful Authenticator login.
type OauthLoginResult struct {
	SessionID     string
	RegionCode    int32
	TermsAccepted bool
	Playable      bool
	MaxExpansion  uint32
}
