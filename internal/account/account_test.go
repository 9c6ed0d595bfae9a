package account

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanolyn/gaveloc/internal/entities"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "accounts.json"))
}

func TestStoreSaveGet(t *testing.T) {
	s := newTestStore(t)
	acct := entities.Account{ID: entities.NewAccountId("Player1"), DisplayName: "Player1"}
	require.NoError(t, s.Save(acct))

	got, ok, err := s.Get(entities.NewAccountId("Player1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, acct, got)
}

func TestStoreSaveUpdatesInPlace(t *testing.T) {
	s := newTestStore(t)
	id := entities.NewAccountId("Player1")
	require.NoError(t, s.Save(entities.Account{ID: id, DisplayName: "old"}))
	require.NoError(t, s.Save(entities.Account{ID: id, DisplayName: "new"}))

	accounts, err := s.List()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "new", accounts[0].DisplayName)
}

func TestDeleteDefaultNullsPointer(t *testing.T) {
	s := newTestStore(t)
	id := entities.NewAccountId("Player1")
	require.NoError(t, s.Save(entities.Account{ID: id}))
	require.NoError(t, s.SetDefault(id))

	require.NoError(t, s.Delete(id))

	_, ok, err := s.GetDefault()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetDefaultFallsBackToFirst(t *testing.T) {
	s := newTestStore(t)
	id := entities.NewAccountId("Player1")
	require.NoError(t, s.Save(entities.Account{ID: id}))

	got, ok, err := s.GetDefault()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, got.ID)
}

func TestGetDefaultEmptyStore(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.GetDefault()
	require.NoError(t, err)
	assert.False(t, ok)
}
