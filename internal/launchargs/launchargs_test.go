package launchargs

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptSessionIDIsDeterministic(t *testing.T) {
	a, err := EncryptSessionID("test_session_id")
	require.NoError(t, err)
	b, err := EncryptSessionID("test_session_id")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncryptSessionIDBlockSizes(t *testing.T) {
	cases := []struct {
		in  string
		out int
	}{
		{"", 8},
		{"a", 8},
		{"test", 8},
		{"12345678", 16},
	}
	for _, c := range cases {
		encrypted, err := EncryptSessionID(c.in)
		require.NoError(t, err)
		decoded, err := base64.StdEncoding.DecodeString(encrypted)
		require.NoError(t, err)
		assert.Len(t, decoded, c.out)
	}
}

func TestBuildLaunchArgsVariants(t *testing.T) {
	cases := []struct {
		region   Region
		language Language
		isSteam  bool
		wantRgn  string
		wantLang string
		wantSID  string
	}{
		{RegionJapan, LanguageJapanese, true, "SYS.Region=1", "language=0", "IsSteam=1"},
		{RegionEurope, LanguageEnglish, true, "SYS.Region=3", "language=1", "IsSteam=1"},
		{RegionNorthAmerica, LanguageFrench, false, "SYS.Region=2", "language=3", "IsSteam=0"},
	}
	for _, c := range cases {
		args := BuildLaunchArgs(Params{
			EncryptedSessionID: "abc",
			MaxExpansion:       5,
			GameVersion:        "ver",
			IsSteam:            c.isSteam,
			Region:             c.region,
			Language:           c.language,
		})
		assert.Contains(t, args, c.wantRgn)
		assert.Contains(t, args, c.wantLang)
		assert.Contains(t, args, c.wantSID)
	}
}

func TestBuildLaunchArgsContainsRequiredFields(t *testing.T) {
	sid, err := EncryptSessionID("abc")
	require.NoError(t, err)

	args := BuildLaunchArgs(Params{
		EncryptedSessionID: sid,
		MaxExpansion:       5,
		GameVersion:        "2023.01.01.0000.0000",
		IsSteam:            true,
		Region:             RegionEurope,
		Language:           LanguageEnglish,
	})

	assert.Contains(t, args, "DEV.DataPathType=1")
	assert.Contains(t, args, "DEV.MaxEntitledExpansionID=5")
	assert.Contains(t, args, "DEV.TestSID="+sid)
	assert.Contains(t, args, "DEV.UseSqPack=1")
	assert.Contains(t, args, "ver=2023.01.01.0000.0000")
}
