// Package credentials implements CredentialStore: a mapping from
// (kind, AccountId) to a secret string, backed by the OS keychain via github.com/zalando/go-keyring, which targets the Linux
// Secret Service backend through godbus/dbus. Keys are "{kind}:{account_id}"
// under a single fixed service name; a missing entry is absent, not an
// error.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/nanolyn/gaveloc/internal/coreerr"
	"github.com/nanolyn/gaveloc/internal/entities"
)

// serviceName is the keychain service identifier.
const serviceName = "gaveloc"

// Kind distinguishes the two values CredentialStore holds per account.
type Kind string

const (
	KindPassword Kind = "password"
	KindSession  Kind = "session"
)

// ErrStorage wraps any underlying keychain failure that isn't "not found".
// The taxonomy treats it as "surfaced; store considered empty for
// the call", which Store's Get methods implement directly rather than
// requiring every caller to check.
var ErrStorage = coreerr.New(coreerr.KindCredentialStorage, "credential storage error")

func key(kind Kind, id entities.AccountId) string {
	return fmt.Sprintf("%s:%s", kind, id)
}

// Store wraps the OS keychain. Blocking keychain calls are dispatched to a
// worker goroutine per call so the caller's context cancellation/timeout is honored even
// though go-keyring itself has no context-aware API.
type Store struct{}

// New returns a keychain-backed Store.
func New() *Store {
	return &Store{}
}

func runOffloaded(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// GetPassword returns the stored password for id, or ("", false, nil) if
// none is stored.
func (s *Store) GetPassword(ctx context.Context, id entities.AccountId) (string, bool, error) {
	return s.get(ctx, KindPassword, id)
}

// SetPassword stores password for id.
func (s *Store) SetPassword(ctx context.Context, id entities.AccountId, password string) error {
	return s.set(ctx, KindPassword, id, password)
}

// DeletePassword removes the stored password for id, if any.
func (s *Store) DeletePassword(ctx context.Context, id entities.AccountId) error {
	return s.delete(ctx, KindPassword, id)
}

// GetSession returns the cached session for id, decoded from its JSON
// serialization.
func (s *Store) GetSession(ctx context.Context, id entities.AccountId) (entities.CachedSession, bool, error) {
	raw, ok, err := s.get(ctx, KindSession, id)
	if err != nil || !ok {
		return entities.CachedSession{}, ok, err
	}
	var session entities.CachedSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		// A corrupt cache entry is treated the same as "absent" rather than
		// propagated, matching the "store considered empty" recovery rule.
		return entities.CachedSession{}, false, nil
	}
	return session, true, nil
}

// SetSession stores session for id as JSON.
func (s *Store) SetSession(ctx context.Context, id entities.AccountId, session entities.CachedSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding cached session: %w", err)
	}
	return s.set(ctx, KindSession, id, string(data))
}

// DeleteSession removes the cached session for id (explicit logout, account
// deletion, or as a cleanup after expiry is observed).
func (s *Store) DeleteSession(ctx context.Context, id entities.AccountId) error {
	return s.delete(ctx, KindSession, id)
}

func (s *Store) get(ctx context.Context, kind Kind, id entities.AccountId) (string, bool, error) {
	var value string
	var found bool
	err := runOffloaded(ctx, func() error {
		v, err := keyring.Get(serviceName, key(kind, id))
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
		value, found = v, true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

func (s *Store) set(ctx context.Context, kind Kind, id entities.AccountId, value string) error {
	return runOffloaded(ctx, func() error {
		if err := keyring.Set(serviceName, key(kind, id), value); err != nil {
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
		return nil
	})
}

func (s *Store) delete(ctx context.Context, kind Kind, id entities.AccountId) error {
	return runOffloaded(ctx, func() error {
		if err := keyring.Delete(serviceName, key(kind, id)); err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
		return nil
	})
}
