// Package resourcecrypto implements authenticated encryption of clinical
// resources with per-resource-type data keys, independent plaintext
// checksums and deterministic searchable field tokens.
package resourcecrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/caremesh/synccore/audit"
	"github.com/caremesh/synccore/errs"
	"github.com/caremesh/synccore/keystore"
	"github.com/caremesh/synccore/model"
)

// Cipher parameters. IVLen is the GCM standard 96-bit nonce; the tag is
// GCM's full 128 bits.
const (
	Algorithm = "AES-256-GCM"
	IVLen     = 12
)

// Encryptor turns Resources into EncryptedResources and back. It is
// safe for concurrent use across resources; rotation serializes against
// in-flight calls through the key store's per-slot locks.
type Encryptor struct {
	keys *keystore.KeyStore
	sink audit.Sink
	log  *zap.Logger
	now  func() time.Time
}

// New constructs an Encryptor over an initialized (or to-be-initialized)
// key store. A nil sink or logger selects no-op implementations.
func New(keys *keystore.KeyStore, sink audit.Sink, log *zap.Logger) *Encryptor {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Encryptor{keys: keys, sink: sink, log: log, now: time.Now}
}

// aadFor binds ciphertexts to their identity and stored metadata:
// callers' additional data plus resource type, id, checksum, sync
// status, version, key generation and timestamp. A record cannot be
// replayed for another resource or context, and editing any metadata
// field at rest fails authentication. Sync status transitions therefore
// require re-sealing the record.
func aadFor(extra []byte, resourceType, id string, md model.EncryptionMetadata) []byte {
	aad := make([]byte, 0, len(extra)+len(resourceType)+len(id)+len(md.Checksum)+len(md.SyncStatus)+29)
	aad = append(aad, extra...)
	aad = append(aad, 0)
	aad = append(aad, resourceType...)
	aad = append(aad, 0)
	aad = append(aad, id...)
	aad = append(aad, 0)
	aad = append(aad, md.Checksum...)
	aad = append(aad, 0)
	aad = append(aad, md.SyncStatus...)
	aad = append(aad, 0)
	var nums [24]byte
	binary.BigEndian.PutUint64(nums[0:8], uint64(md.VersionID))
	binary.BigEndian.PutUint64(nums[8:16], uint64(md.KeyGeneration))
	binary.BigEndian.PutUint64(nums[16:24], uint64(md.Timestamp.UnixNano()))
	return append(aad, nums[:]...)
}

// EncryptResource encrypts r under its resource type's data key with a
// fresh random 96-bit IV. The optional additionalAuthenticatedData is
// bound into the AEAD so the ciphertext cannot be decrypted in another
// context. A plaintext SHA-256 checksum is stored independently of the
// authentication tag.
func (e *Encryptor) EncryptResource(r *model.Resource, additionalAuthenticatedData []byte) (*model.EncryptedResource, error) {
	if r == nil {
		return nil, fmt.Errorf("nil resource")
	}
	key, generation, err := e.keys.DataKey(r.Type)
	if err != nil {
		return nil, err
	}

	plaintext, err := r.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(plaintext)

	iv, err := keystore.RandBytes(IVLen)
	if err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	md := model.EncryptionMetadata{
		IV:            iv,
		Algorithm:     Algorithm,
		Checksum:      hex.EncodeToString(sum[:]),
		VersionID:     r.Meta.VersionID,
		KeyGeneration: generation,
		SyncStatus:    model.SyncPending,
		Timestamp:     e.now(),
	}
	ciphertext := gcm.Seal(nil, iv, plaintext, aadFor(additionalAuthenticatedData, r.Type, r.ID, md))

	searchable, err := e.searchableFor(r)
	if err != nil {
		return nil, err
	}

	encryptOpsTotal.WithLabelValues(r.Type).Inc()
	return &model.EncryptedResource{
		ID:               r.ID,
		ResourceType:     r.Type,
		Ciphertext:       ciphertext,
		Metadata:         md,
		SearchableFields: searchable,
	}, nil
}

// DecryptResource authenticates and decrypts enc, then verifies the
// independent plaintext checksum. Every authentication or integrity
// failure surfaces as the single opaque errs.ErrCorrupted.
func (e *Encryptor) DecryptResource(enc *model.EncryptedResource, additionalAuthenticatedData []byte) (*model.Resource, error) {
	if enc == nil {
		return nil, fmt.Errorf("nil encrypted resource")
	}
	key, _, err := e.keys.DataKey(enc.ResourceType)
	if err != nil {
		return nil, err
	}
	if enc.Metadata.Algorithm != Algorithm || len(enc.Metadata.IV) != IVLen {
		return nil, e.corrupted(enc)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	aad := aadFor(additionalAuthenticatedData, enc.ResourceType, enc.ID, enc.Metadata)
	plaintext, err := gcm.Open(nil, enc.Metadata.IV, enc.Ciphertext, aad)
	if err != nil {
		return nil, e.corrupted(enc)
	}

	sum := sha256.Sum256(plaintext)
	want, err := hex.DecodeString(enc.Metadata.Checksum)
	if err != nil || !bytes.Equal(sum[:], want) {
		return nil, e.corrupted(enc)
	}

	var r model.Resource
	if err := json.Unmarshal(plaintext, &r); err != nil {
		return nil, e.corrupted(enc)
	}
	decryptOpsTotal.WithLabelValues(enc.ResourceType).Inc()
	return &r, nil
}

// corrupted logs identity metadata only, never payload bytes, and
// returns the undifferentiated error.
func (e *Encryptor) corrupted(enc *model.EncryptedResource) error {
	decryptFailuresTotal.WithLabelValues(enc.ResourceType).Inc()
	e.log.Warn("decrypt failed",
		zap.String("resourceType", enc.ResourceType),
		zap.String("resourceId", enc.ID),
		zap.Int64("versionId", enc.Metadata.VersionID),
	)
	return errs.ErrCorrupted
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return gcm, nil
}
