// Package keystore manages the master key, per-resource-type data keys
// and the key rotation schedule.
//
// Every resource type that has ever been encrypted has an entry in the
// data-key table; a missing key is generated lazily on first use, never
// assumed. Per-type key slots are guarded by a RWMutex: ordinary key
// reads take the shared lock, rotation takes the exclusive lock, so an
// encrypt/decrypt in flight completes against the key copy it started
// with.
package keystore

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/caremesh/synccore/errs"
)

// Key material parameters.
const (
	KeyLen  = 32 // AES-256 / XChaCha20 key size
	SaltLen = 32

	// MinKDFIterations is the floor for password-derived keys.
	MinKDFIterations = 100_000
	// DefaultKDFIterations follows the OWASP PBKDF2-SHA256 recommendation.
	DefaultKDFIterations = 210_000

	// DefaultRotationInterval is the scheduled key rotation period.
	DefaultRotationInterval = 90 * 24 * time.Hour
)

const searchKeyInfo = "synccore searchable fields v1"

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// RotationSchedule tracks when data keys were last rotated and when the
// next rotation is due.
type RotationSchedule struct {
	LastRotation time.Time
	NextRotation time.Time
	Interval     time.Duration
}

type dataKey struct {
	mu         sync.RWMutex
	key        []byte
	generation int
}

// Options tune a KeyStore. Zero values select defaults.
type Options struct {
	RotationInterval time.Duration    // default DefaultRotationInterval
	KDFIterations    int              // default DefaultKDFIterations
	Clock            func() time.Time // default time.Now, injectable for tests
}

// KeyStore owns one master key and a lazily grown table of per-type
// symmetric data keys. It is safe for concurrent use.
type KeyStore struct {
	mu        sync.RWMutex
	masterKey []byte
	salt      []byte // set only when the master key is password-derived
	dataKeys  map[string]*dataKey
	schedule  RotationSchedule

	// Set by Rotate, cleared by CompleteRotation. While a rotation is
	// pending the retired keys stay here and the schedule stands still.
	rotationPending bool
	pendingRetired  map[string][]byte

	interval   time.Duration
	iterations int
	now        func() time.Time
}

// New constructs an uninitialized KeyStore. Initialize or
// InitializeWithPassword must be called before any key access.
func New(opts Options) *KeyStore {
	if opts.RotationInterval <= 0 {
		opts.RotationInterval = DefaultRotationInterval
	}
	if opts.KDFIterations < MinKDFIterations {
		opts.KDFIterations = DefaultKDFIterations
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &KeyStore{
		dataKeys:   make(map[string]*dataKey),
		interval:   opts.RotationInterval,
		iterations: opts.KDFIterations,
		now:        opts.Clock,
	}
}

// Initialize generates a random master key and starts the rotation
// schedule.
func (s *KeyStore) Initialize() error {
	key, err := RandBytes(KeyLen)
	if err != nil {
		return fmt.Errorf("generate master key: %w", err)
	}
	return s.install(key, nil)
}

// InitializeWithPassword derives the master key from a password via
// PBKDF2-SHA256. A nil salt generates a fresh one; pass the salt
// returned by Salt to re-open an existing store.
func (s *KeyStore) InitializeWithPassword(password, salt []byte) error {
	if len(password) == 0 {
		return fmt.Errorf("empty password")
	}
	if salt == nil {
		var err error
		salt, err = RandBytes(SaltLen)
		if err != nil {
			return fmt.Errorf("generate salt: %w", err)
		}
	}
	key := pbkdf2.Key(password, salt, s.iterations, KeyLen, sha256.New)
	return s.install(key, salt)
}

// InitializeWithKey installs an externally stored master key, e.g. one
// loaded from the OS keyring.
func (s *KeyStore) InitializeWithKey(key []byte) error {
	if len(key) != KeyLen {
		return fmt.Errorf("master key must be %d bytes, got %d", KeyLen, len(key))
	}
	return s.install(append([]byte(nil), key...), nil)
}

func (s *KeyStore) install(key, salt []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.masterKey != nil {
		return fmt.Errorf("key store already initialized")
	}
	now := s.now()
	s.masterKey = key
	s.salt = salt
	s.schedule = RotationSchedule{
		LastRotation: now,
		NextRotation: now.Add(s.interval),
		Interval:     s.interval,
	}
	return nil
}

// Initialized reports whether a master key is present.
func (s *KeyStore) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.masterKey != nil
}

// Salt returns the PBKDF2 salt, or nil for a random master key.
func (s *KeyStore) Salt() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.salt...)
}

// MasterKey returns a copy of the master key for external persistence.
func (s *KeyStore) MasterKey() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.masterKey == nil {
		return nil, errs.ErrNotInitialized
	}
	return append([]byte(nil), s.masterKey...), nil
}

// DataKey returns a copy of the data key for resourceType plus its
// rotation generation, generating the key on first use. Callers keep
// using the returned copy even if rotation swaps the slot mid-flight.
func (s *KeyStore) DataKey(resourceType string) ([]byte, int, error) {
	if resourceType == "" {
		return nil, 0, fmt.Errorf("empty resource type")
	}
	dk, err := s.slot(resourceType)
	if err != nil {
		return nil, 0, err
	}
	dk.mu.RLock()
	defer dk.mu.RUnlock()
	return append([]byte(nil), dk.key...), dk.generation, nil
}

// slot returns the key slot for resourceType, creating it lazily.
func (s *KeyStore) slot(resourceType string) (*dataKey, error) {
	s.mu.RLock()
	if s.masterKey == nil {
		s.mu.RUnlock()
		return nil, errs.ErrNotInitialized
	}
	dk, ok := s.dataKeys[resourceType]
	s.mu.RUnlock()
	if ok {
		return dk, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.masterKey == nil {
		return nil, errs.ErrNotInitialized
	}
	if dk, ok = s.dataKeys[resourceType]; ok {
		return dk, nil
	}
	key, err := RandBytes(KeyLen)
	if err != nil {
		return nil, fmt.Errorf("generate data key for %s: %w", resourceType, err)
	}
	dk = &dataKey{key: key, generation: 1}
	s.dataKeys[resourceType] = dk
	return dk, nil
}

// SearchKey derives the dedicated HMAC key for deterministic search
// tokens from the master key. It is stable across data-key rotations.
func (s *KeyStore) SearchKey() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.masterKey == nil {
		return nil, errs.ErrNotInitialized
	}
	r := hkdf.New(sha256.New, s.masterKey, nil, []byte(searchKeyInfo))
	key := make([]byte, KeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive search key: %w", err)
	}
	return key, nil
}

// ResourceTypes returns the sorted list of types that currently hold a
// data key.
func (s *KeyStore) ResourceTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	types := make([]string, 0, len(s.dataKeys))
	for t := range s.dataKeys {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Schedule returns the current rotation schedule.
func (s *KeyStore) Schedule() RotationSchedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedule
}

// IsRotationNeeded is a pure check against the stored schedule. It never
// mutates state.
func (s *KeyStore) IsRotationNeeded(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.masterKey == nil || s.schedule.NextRotation.IsZero() {
		return false
	}
	return !now.Before(s.schedule.NextRotation)
}

// Rotate generates a fresh key for every resource type and returns the
// retired keys by type so the caller can re-encrypt existing ciphertexts
// before discarding them. Each slot is swapped under its exclusive lock.
//
// The retired keys also stay held in the store, and the schedule does
// not advance, until CompleteRotation confirms that re-encryption
// finished: IsRotationNeeded keeps reporting true and RetiredKeys hands
// the keys back for a retry. A second Rotate before CompleteRotation is
// refused so no retired key is ever dropped.
func (s *KeyStore) Rotate(now time.Time) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.masterKey == nil {
		return nil, errs.ErrNotInitialized
	}
	if s.rotationPending {
		return nil, fmt.Errorf("previous rotation incomplete: retired keys pending re-encryption")
	}
	retired := make(map[string][]byte, len(s.dataKeys))
	for t, dk := range s.dataKeys {
		fresh, err := RandBytes(KeyLen)
		if err != nil {
			return nil, fmt.Errorf("rotate %s: %w", t, err)
		}
		dk.mu.Lock()
		retired[t] = dk.key
		dk.key = fresh
		dk.generation++
		dk.mu.Unlock()
	}
	s.rotationPending = true
	s.pendingRetired = retired
	return copyKeyMap(retired), nil
}

// RotationPending reports whether a Rotate is awaiting CompleteRotation.
func (s *KeyStore) RotationPending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rotationPending
}

// RetiredKeys returns the keys retired by a pending rotation so a failed
// re-encryption run can be resumed. Empty when no rotation is pending.
func (s *KeyStore) RetiredKeys() map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyKeyMap(s.pendingRetired)
}

// CompleteRotation discards the retired keys and advances the schedule.
// Callers invoke it only after every ciphertext written under the
// retired keys has been re-encrypted.
func (s *KeyStore) CompleteRotation(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.rotationPending {
		return fmt.Errorf("no rotation pending")
	}
	s.rotationPending = false
	s.pendingRetired = nil
	s.schedule = RotationSchedule{
		LastRotation: now,
		NextRotation: now.Add(s.interval),
		Interval:     s.interval,
	}
	return nil
}

func copyKeyMap(m map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(m))
	for t, k := range m {
		out[t] = append([]byte(nil), k...)
	}
	return out
}
