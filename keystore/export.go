package keystore

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	"github.com/caremesh/synccore/errs"
)

// exportPayload is the plaintext form of an exported key set.
type exportPayload struct {
	DataKeys    map[string][]byte `json:"dataKeys"`
	Generations map[string]int    `json:"generations"`
	ExportedAt  time.Time         `json:"exportedAt"`
}

// Export serializes all data keys into a single blob wrapped with
// XChaCha20-Poly1305 under a password-derived KEK, for off-device
// backup. Layout: salt || nonce || ciphertext.
func (s *KeyStore) Export(password []byte) ([]byte, error) {
	if len(password) == 0 {
		return nil, fmt.Errorf("empty password")
	}

	s.mu.RLock()
	if s.masterKey == nil {
		s.mu.RUnlock()
		return nil, errs.ErrNotInitialized
	}
	payload := exportPayload{
		DataKeys:    make(map[string][]byte, len(s.dataKeys)),
		Generations: make(map[string]int, len(s.dataKeys)),
		ExportedAt:  s.now(),
	}
	for t, dk := range s.dataKeys {
		dk.mu.RLock()
		payload.DataKeys[t] = append([]byte(nil), dk.key...)
		payload.Generations[t] = dk.generation
		dk.mu.RUnlock()
	}
	iterations := s.iterations
	s.mu.RUnlock()

	plain, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode key set: %w", err)
	}

	salt, err := RandBytes(SaltLen)
	if err != nil {
		return nil, fmt.Errorf("generate export salt: %w", err)
	}
	kek := pbkdf2.Key(password, salt, iterations, KeyLen, sha256.New)
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, fmt.Errorf("export cipher: %w", err)
	}
	nonce, err := RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, fmt.Errorf("generate export nonce: %w", err)
	}

	out := make([]byte, 0, SaltLen+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plain, nil)...)
	return out, nil
}

// Import reverses Export, verifying authenticity through the AEAD open.
// Imported keys replace the current data-key table; the rotation
// schedule is untouched. Any decode or authentication failure surfaces
// as errs.ErrCorrupted.
func (s *KeyStore) Import(blob, password []byte) error {
	if len(password) == 0 {
		return fmt.Errorf("empty password")
	}
	if len(blob) < SaltLen+chacha20poly1305.NonceSizeX {
		return errs.ErrCorrupted
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.masterKey == nil {
		return errs.ErrNotInitialized
	}

	salt := blob[:SaltLen]
	nonce := blob[SaltLen : SaltLen+chacha20poly1305.NonceSizeX]
	ct := blob[SaltLen+chacha20poly1305.NonceSizeX:]

	kek := pbkdf2.Key(password, salt, s.iterations, KeyLen, sha256.New)
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return fmt.Errorf("import cipher: %w", err)
	}
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return errs.ErrCorrupted
	}

	var payload exportPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		return errs.ErrCorrupted
	}
	keys := make(map[string]*dataKey, len(payload.DataKeys))
	for t, key := range payload.DataKeys {
		if len(key) != KeyLen {
			return errs.ErrCorrupted
		}
		gen := payload.Generations[t]
		if gen <= 0 {
			gen = 1
		}
		keys[t] = &dataKey{key: key, generation: gen}
	}
	s.dataKeys = keys
	return nil
}
