package store

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/avoronin/potledger/internal/cryptox"
	"github.com/avoronin/potledger/internal/filex"
)

// storeParams is the sidecar file persisted next to the ciphertext. It
// carries everything needed to re-derive the key except the secret itself.
// Keeping it outside the encrypted blob is deliberate: the KDF salt must be
// readable before any key exists.
type storeParams struct {
	Version int               `json:"version"`
	Salt    string            `json:"salt"`
	KDF     cryptox.KDFParams `json:"kdf"`
}

const paramsVersion = 1

func (s *Store) writeParams(salt []byte) error {
	p := storeParams{
		Version: paramsVersion,
		Salt:    hex.EncodeToString(salt),
		KDF:     s.kdf,
	}
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	if err := filex.WriteFileAtomic(s.paramsPath, b, 0o600); err != nil {
		return fmt.Errorf("write params: %w", err)
	}
	return nil
}

// readParams loads the sidecar file. os.ErrNotExist is passed through so
// the caller can distinguish "never initialized" from a broken file.
func (s *Store) readParams() (salt []byte, kdf cryptox.KDFParams, err error) {
	b, err := os.ReadFile(s.paramsPath)
	if err != nil {
		return nil, kdf, err
	}
	var p storeParams
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, kdf, fmt.Errorf("unmarshal params: %w", err)
	}
	salt, err = hex.DecodeString(p.Salt)
	if err != nil {
		return nil, kdf, fmt.Errorf("decode salt: %w", err)
	}
	return salt, p.KDF, nil
}
