// Package coreerr defines the external error taxonomy use-case callers
// (PatchOrchestrator, the launcher and patch-worker entry points) pattern
// match against. Each component package (version, zipatch, auth, ...)
// defines and returns its own sentinel errors; Classify maps them onto the
// taxonomy so a caller that only imports coreerr can still decide whether to
// retry, wipe a partial file, or surface UI text, without importing every
// leaf package.
package coreerr

import "errors"

// Kind is one row of the error taxonomy. Recovery behavior is documented
// per constant, not encoded in the type.
type Kind int

const (
	KindUnknown Kind = iota

	// KindVersionFileNotFound / KindInvalidVersionFormat: fatal for the
	// cycle, reported, no retry.
	KindVersionFileNotFound
	KindInvalidVersionFormat

	// KindNetwork / KindServerError5xx: retried with exponential backoff,
	// cap three attempts, by the caller (backoff.Retry at the client layer).
	KindNetwork
	KindServerError5xx

	// KindPatchDownloadFailed: partial file deleted by caller; cycle fails;
	// recoverable on next cycle.
	KindPatchDownloadFailed

	// KindPatchVerificationFailed: file deleted; cycle fails; recoverable.
	KindPatchVerificationFailed

	// KindZiPatchInvalidMagic / KindZiPatchChecksumMismatch: fatal for that
	// patch; cycle fails; non-recoverable without re-download.
	KindZiPatchInvalidMagic
	KindZiPatchChecksumMismatch

	// KindZiPatchApplyFailed: fatal; game tree may be partially patched;
	// same patch offered again next cycle.
	KindZiPatchApplyFailed

	// KindOauthInvalidCredentials..KindOauthRateLimited: surfaced for UI
	// classification; no retry.
	KindOauthInvalidCredentials
	KindOauthInvalidOtp
	KindOauthAccountLocked
	KindOauthMaintenanceMode
	KindOauthRateLimited
	KindOauthUnknown

	// KindAccountNotPlayable / KindTermsNotAccepted: surfaced to UI
	// verbatim.
	KindAccountNotPlayable
	KindTermsNotAccepted

	// KindCredentialStorage: surfaced; the store is treated as empty for
	// that call.
	KindCredentialStorage

	// KindCancelled: clean rollback of partial files; cycle ends idle.
	KindCancelled

	// KindIPC: cycle fails; worker is killed if still alive.
	KindIPC
)

// classifier is implemented by sentinel errors that know their own taxonomy
// row, so Classify doesn't need a giant errors.Is switch duplicated per
// component.
type classifier interface {
	CoreErrKind() Kind
}

// Classify walks the error chain looking for a component sentinel that
// implements classifier, returning KindUnknown if none is found (e.g. a bare
// os.PathError that never crossed a component boundary wrapped).
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var c classifier
	if errors.As(err, &c) {
		return c.CoreErrKind()
	}
	return KindUnknown
}

// Retryable reports whether the use-case layer should retry the operation
// that produced err (network blips and 5xx responses only; everything else
// requires caller intervention).
func Retryable(err error) bool {
	switch Classify(err) {
	case KindNetwork, KindServerError5xx:
		return true
	default:
		return false
	}
}

// sentinel is a minimal classifier-implementing error used by components
// that don't need a richer payload (e.g. ErrCancelled). Components with
// payload-carrying errors (offset, message) implement CoreErrKind directly on
// their own struct instead of wrapping this type.
type sentinel struct {
	msg  string
	kind Kind
}

func (s *sentinel) Error() string     { return s.msg }
func (s *sentinel) CoreErrKind() Kind { return s.kind }

// New constructs a sentinel error of the given kind and message; components
// use it for the taxonomy rows that carry no extra fields.
func New(kind Kind, msg string) error {
	return &sentinel{msg: msg, kind: kind}
}

// ErrCancelled is returned by any cooperative-cancellation checkpoint
// (update cycle, integrity scan) once the shared flag has been observed set.
var ErrCancelled = New(KindCancelled, "operation cancelled")
