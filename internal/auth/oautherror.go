package auth

import (
	"fmt"
	"strings"

	"github.com/nanolyn/gaveloc/internal/coreerr"
)

// OauthError carries the classified OAuth failure reason plus the vendor's
// raw message, and implements coreerr's classifier interface so callers can
// coreerr.Classify(err) without importing this package.
type OauthError struct {
	Kind    coreerr.Kind
	Message string
}

func (e *OauthError) Error() string {
	switch e.Kind {
	case coreerr.KindOauthInvalidCredentials:
		return "invalid username or password"
	case coreerr.KindOauthInvalidOtp:
		return "invalid one-time password"
	case coreerr.KindOauthAccountLocked:
		return "account is locked"
	case coreerr.KindOauthMaintenanceMode:
		return "servers under maintenance"
	case coreerr.KindOauthRateLimited:
		return "too many login attempts"
	default:
		return e.Message
	}
}

func (e *OauthError) CoreErrKind() coreerr.Kind { return e.Kind }

// newOauthError classifies the vendor's error message by case-insensitive
// substring match.
func newOauthError(message string) error {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "id or password"), strings.Contains(lower, "incorrect"):
		return &OauthError{Kind: coreerr.KindOauthInvalidCredentials, Message: message}
	case strings.Contains(lower, "one-time"), strings.Contains(lower, "otp"):
		return &OauthError{Kind: coreerr.KindOauthInvalidOtp, Message: message}
	case strings.Contains(lower, "locked"), strings.Contains(lower, "suspended"):
		return &OauthError{Kind: coreerr.KindOauthAccountLocked, Message: message}
	case strings.Contains(lower, "maintenance"):
		return &OauthError{Kind: coreerr.KindOauthMaintenanceMode, Message: message}
	case strings.Contains(lower, "rate"), strings.Contains(lower, "too many"):
		return &OauthError{Kind: coreerr.KindOauthRateLimited, Message: message}
	default:
		return &OauthError{Kind: coreerr.KindOauthUnknown, Message: fmt.Sprintf("unknown OAuth error: %s", message)}
	}
}
