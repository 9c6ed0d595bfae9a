// Package launchargs implements LaunchArgCodec: Blowfish-ECB encryption of
// the session id and assembly of the launch argument string handed to the
// external runner.
package launchargs

import (
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/blowfish"
)

// encryptionKey is FFXIV's known Blowfish key for argument encryption,
// public knowledge from reverse engineering the official launcher.
var encryptionKey = []byte("#:G$.,:5")

const blockSize = 8

// EncryptSessionID encrypts raw with Blowfish-ECB/PKCS7 using little-endian
// byte order inside each 8-byte block, then base64-standard-encodes the
// result. The function is deterministic: equal inputs always produce
// byte-identical output.
//
// golang.org/x/crypto/blowfish implements the classic big-endian block
// convention only, while the game expects the little-endian variant —
// the detail most reimplementations get wrong. Byte-swapping each 4-byte
// half of the block before and after the cipher call reinterprets the block
// under little-endian word order.
func EncryptSessionID(raw string) (string, error) {
	cipher, err := blowfish.NewCipher(encryptionKey)
	if err != nil {
		return "", fmt.Errorf("invalid blowfish key: %w", err)
	}

	buf := []byte(raw)
	padLen := blockSize - (len(buf) % blockSize)
	for i := 0; i < padLen; i++ {
		buf = append(buf, byte(padLen))
	}

	out := make([]byte, len(buf))
	block := make([]byte, blockSize)
	for off := 0; off < len(buf); off += blockSize {
		swapHalves(block, buf[off:off+blockSize])
		cipher.Encrypt(block, block)
		swapHalves(out[off:off+blockSize], block)
	}

	return base64.StdEncoding.EncodeToString(out), nil
}

// swapHalves reverses the byte order of each 4-byte half of an 8-byte block,
// writing into dst (which may alias src).
func swapHalves(dst, src []byte) {
	var tmp [8]byte
	copy(tmp[:], src)
	dst[0], dst[1], dst[2], dst[3] = tmp[3], tmp[2], tmp[1], tmp[0]
	dst[4], dst[5], dst[6], dst[7] = tmp[7], tmp[6], tmp[5], tmp[4]
}

// Region is the SYS.Region launch-arg value.
type Region int

const (
	RegionJapan        Region = 1
	RegionNorthAmerica Region = 2
	RegionEurope       Region = 3
)

// Language is the language launch-arg value.
type Language int

const (
	LanguageJapanese Language = 0
	LanguageEnglish  Language = 1
	LanguageGerman   Language = 2
	LanguageFrench   Language = 3
)

// Params bundles the inputs to BuildLaunchArgs.
type Params struct {
	EncryptedSessionID string
	MaxExpansion       uint32
	GameVersion        string
	IsSteam            bool
	Region             Region
	Language           Language
}

// BuildLaunchArgs formats the single space-joined launch argument string
// ffxiv_dx11.exe expects, with the fixed token order the game parses.
func BuildLaunchArgs(p Params) string {
	steam := 0
	if p.IsSteam {
		steam = 1
	}
	return fmt.Sprintf(
		"DEV.DataPathType=1 DEV.MaxEntitledExpansionID=%d DEV.TestSID=%s DEV.UseSqPack=1 SYS.Region=%d language=%d ver=%s IsSteam=%d",
		p.MaxExpansion, p.EncryptedSessionID, p.Region, p.Language, p.GameVersion, steam,
	)
}
