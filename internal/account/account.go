// Package account implements AccountStore: a JSON file of non-secret
// account metadata plus a default-account pointer. Invariants: there is
// exactly one default pointer, and deleting the default account nulls it.
package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nanolyn/gaveloc/internal/entities"
)

// wireAccount is the on-disk shape of one account.
type wireAccount struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	IsSteam     bool   `json:"is_steam"`
	IsFreeTrial bool   `json:"is_free_trial"`
	UseOTP      bool   `json:"use_otp"`
	LastLogin   int64  `json:"last_login,omitempty"`
}

type wireFile struct {
	Accounts       []wireAccount `json:"accounts"`
	DefaultAccount *string       `json:"default_account,omitempty"`
}

// Store is the JSON-file-backed AccountStore. All operations are guarded by
// a single mutex: writes are read-modify-write of the entire file.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a Store persisting to path (typically paths.AccountStoreFile()).
func New(path string) *Store {
	return &Store{path: path}
}

func toWire(a entities.Account) wireAccount {
	return wireAccount{
		ID:          string(a.ID),
		Username:    a.DisplayName,
		IsSteam:     a.IsSteam,
		IsFreeTrial: a.IsFreeTrial,
		UseOTP:      a.RequiresOTP,
		LastLogin:   a.LastLoginUnix,
	}
}

func fromWire(w wireAccount) entities.Account {
	return entities.Account{
		ID:            entities.AccountId(w.ID),
		DisplayName:   w.Username,
		IsSteam:       w.IsSteam,
		IsFreeTrial:   w.IsFreeTrial,
		RequiresOTP:   w.UseOTP,
		LastLoginUnix: w.LastLogin,
	}
}

func (s *Store) load() (wireFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return wireFile{}, nil
		}
		return wireFile{}, fmt.Errorf("reading account store: %w", err)
	}
	if len(data) == 0 {
		return wireFile{}, nil
	}
	var wf wireFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return wireFile{}, fmt.Errorf("parsing account store: %w", err)
	}
	return wf, nil
}

func (s *Store) save(wf wireFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating account store directory: %w", err)
	}
	data, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding account store: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".accounts-*.tmp")
	if err != nil {
		return fmt.Errorf("creating account store temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing account store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path)
}

// List returns every persisted account.
func (s *Store) List() ([]entities.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, err := s.load()
	if err != nil {
		return nil, err
	}
	accounts := make([]entities.Account, 0, len(wf.Accounts))
	for _, w := range wf.Accounts {
		accounts = append(accounts, fromWire(w))
	}
	return accounts, nil
}

// Get returns the account with the given id, or false if none exists.
func (s *Store) Get(id entities.AccountId) (entities.Account, bool, error) {
	accounts, err := s.List()
	if err != nil {
		return entities.Account{}, false, err
	}
	for _, a := range accounts {
		if a.ID == id {
			return a, true, nil
		}
	}
	return entities.Account{}, false, nil
}

// Save persists a, updating it in place if an account with the same ID
// already exists.
func (s *Store) Save(a entities.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, err := s.load()
	if err != nil {
		return err
	}
	wire := toWire(a)
	for i, existing := range wf.Accounts {
		if existing.ID == wire.ID {
			wf.Accounts[i] = wire
			return s.save(wf)
		}
	}
	wf.Accounts = append(wf.Accounts, wire)
	return s.save(wf)
}

// Delete removes the account with the given id. If it was the default
// account, the default pointer is nulled.
func (s *Store) Delete(id entities.AccountId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, err := s.load()
	if err != nil {
		return err
	}
	idx := -1
	for i, a := range wf.Accounts {
		if a.ID == string(id) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil
	}
	wf.Accounts = append(wf.Accounts[:idx], wf.Accounts[idx+1:]...)
	if wf.DefaultAccount != nil && *wf.DefaultAccount == string(id) {
		wf.DefaultAccount = nil
	}
	return s.save(wf)
}

// SetDefault marks id as the default account. There is never more than one
// default pointer.
func (s *Store) SetDefault(id entities.AccountId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, err := s.load()
	if err != nil {
		return err
	}
	idStr := string(id)
	found := false
	for _, a := range wf.Accounts {
		if a.ID == idStr {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("account %q not found", id)
	}
	wf.DefaultAccount = &idStr
	return s.save(wf)
}

// GetDefault returns the account the default pointer names, falling back to
// the first account in the store, or (zero, false) if the store is empty.
func (s *Store) GetDefault() (entities.Account, bool, error) {
	s.mu.Lock()
	wf, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return entities.Account{}, false, err
	}
	if len(wf.Accounts) == 0 {
		return entities.Account{}, false, nil
	}
	if wf.DefaultAccount != nil {
		for _, a := range wf.Accounts {
			if a.ID == *wf.DefaultAccount {
				return fromWire(a), true, nil
			}
		}
	}
	return fromWire(wf.Accounts[0]), true, nil
}
