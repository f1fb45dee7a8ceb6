package registry

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// deriveSecret derives a reader's secret for a given key_version from the
// server's master key using HKDF-SHA256. Because the derivation is
// deterministic in (masterKey, readerID, keyVersion), the server never needs
// to retain every historical secret to answer "what was reader R's secret
// at version 3" during an audit — it recomputes it, and only the current
// master key is a long-term secret worth protecting.
func deriveSecret(masterKey []byte, readerID string, keyVersion int, length int) ([]byte, error) {
	info := make([]byte, 0, len(readerID)+8)
	info = append(info, []byte(readerID)...)
	var versionBuf [4]byte
	binary.BigEndian.PutUint32(versionBuf[:], uint32(keyVersion))
	info = append(info, versionBuf[:]...)

	kdf := hkdf.New(sha256.New, masterKey, nil, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(kdf, out); err != nil {
		return nil, fmt.Errorf("registry.deriveSecret: %w", err)
	}
	return out, nil
}
