package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGameVersionRoundTrip(t *testing.T) {
	v, err := ParseGameVersion("2024.07.23.0000.0001")
	require.NoError(t, err)
	assert.Equal(t, "2024.07.23.0000.0001", v.AsString())

	v2, err := ParseGameVersion(v.AsString())
	require.NoError(t, err)
	assert.Equal(t, v, v2)
}

func TestParseGameVersionInvalid(t *testing.T) {
	_, err := ParseGameVersion("2024.07.23.0001")
	assert.ErrorIs(t, err, ErrInvalidVersionFormat)

	_, err = ParseGameVersion("not.a.valid.version.x")
	assert.ErrorIs(t, err, ErrInvalidVersionFormat)
}

func TestGameVersionOrdering(t *testing.T) {
	older, _ := ParseGameVersion("2024.07.23.0000.0001")
	newer, _ := ParseGameVersion("2024.07.24.0000.0000")
	assert.True(t, older.Less(newer))
	assert.False(t, newer.Less(older))
}

func TestRepositoryFromURLSegment(t *testing.T) {
	assert.Equal(t, RepoEx1, RepositoryFromURLSegment("http://x/ex1/patch.patch"))
	assert.Equal(t, RepoBase, RepositoryFromURLSegment("http://x/patch.patch"))
}
