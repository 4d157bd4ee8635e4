// Package model defines domain entities shared by the conflict resolver,
// the encryption layer and their collaborators.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Resource types with engine-level domain rules. Any other type is
// handled by the generic strategy path.
const (
	TypePatient           = "Patient"
	TypeObservation       = "Observation"
	TypeMedicationRequest = "MedicationRequest"
	TypeEncounter         = "Encounter"
)

// Meta carries versioning metadata maintained per server acceptance.
type Meta struct {
	VersionID   int64 // monotonically increasing per server acceptance
	LastUpdated time.Time
	Source      string   // originating device or client, optional
	Tags        []string // processing markers, e.g. "auto-merged"
}

// Resource is a single clinical record identified by (Type, ID).
// The engine never mutates a Resource in place; every operation
// produces a new value.
type Resource struct {
	Type string
	ID   string
	Meta Meta
	Body map[string]any // resource fields excluding id and meta
}

// Clone returns a deep copy. Body values are copied through their JSON
// encoding, which also normalizes numeric types.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	out := *r
	out.Meta.Tags = append([]string(nil), r.Meta.Tags...)
	if r.Body != nil {
		raw, err := json.Marshal(r.Body)
		if err == nil {
			var body map[string]any
			if json.Unmarshal(raw, &body) == nil {
				out.Body = body
				return &out
			}
		}
		// Body holds something JSON cannot carry; fall back to a shallow copy.
		body := make(map[string]any, len(r.Body))
		for k, v := range r.Body {
			body[k] = v
		}
		out.Body = body
	}
	return &out
}

// CanonicalBytes returns a deterministic JSON encoding of the whole
// resource. Map keys are sorted by encoding/json, so equal resources
// always produce equal bytes.
func (r *Resource) CanonicalBytes() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("canonical encode %s/%s: %w", r.Type, r.ID, err)
	}
	return b, nil
}

// BodyHash returns the hex SHA-256 of the canonical encoding of Body.
// It identifies resource content independent of versioning metadata.
func (r *Resource) BodyHash() string {
	b, err := json.Marshal(r.Body)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ResourceVersion is an immutable snapshot in a resource's append-only
// history, used to locate a common ancestor for three-way merges.
type ResourceVersion struct {
	VersionID  int64
	Hash       string // BodyHash of the snapshot
	Resource   *Resource
	RecordedAt time.Time
}

// ConflictStatus is the lifecycle state of a Conflict.
type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
)

// Conflict records a divergence between the local and remote versions
// of the same resource. It leaves pending status only when a resolution
// has been applied.
type Conflict struct {
	ID           uuid.UUID
	ResourceType string
	ResourceID   string
	Local        *Resource
	Remote       *Resource
	DetectedAt   time.Time
	Status       ConflictStatus
	Resolution   *Resolution
}

// Action says what a Resolution did with the diverging pair.
type Action string

const (
	ActionKeepLocal  Action = "keep_local"
	ActionKeepRemote Action = "keep_remote"
	ActionKeepBoth   Action = "keep_both"
	ActionMerge      Action = "merge"
)

// ResolvedBySystem marks resolutions produced by automatic rules or
// strategies rather than a clinician.
const ResolvedBySystem = "system"

// Resolution is the immutable outcome of resolving one conflict.
// Result holds exactly two resources for ActionKeepBoth and exactly
// one for every other action.
type Resolution struct {
	Action     Action
	Result     []*Resource
	ResolvedBy string // ResolvedBySystem or a user id
	ResolvedAt time.Time
	Notes      string
}

// Validate enforces the action/result arity invariant.
func (r *Resolution) Validate() error {
	switch r.Action {
	case ActionKeepBoth:
		if len(r.Result) != 2 {
			return fmt.Errorf("resolution %s: want 2 results, got %d", r.Action, len(r.Result))
		}
	case ActionKeepLocal, ActionKeepRemote, ActionMerge:
		if len(r.Result) != 1 {
			return fmt.Errorf("resolution %s: want 1 result, got %d", r.Action, len(r.Result))
		}
	default:
		return fmt.Errorf("resolution: unknown action %q", r.Action)
	}
	for i, res := range r.Result {
		if res == nil {
			return fmt.Errorf("resolution %s: result[%d] is nil", r.Action, i)
		}
	}
	if r.ResolvedBy == "" {
		return fmt.Errorf("resolution %s: empty resolvedBy", r.Action)
	}
	return nil
}

// SyncStatus values carried on encrypted records.
const (
	SyncPending  = "pending"
	SyncSynced   = "synced"
	SyncConflict = "conflict"
)

// EncryptionMetadata describes how one ciphertext was produced. Every
// field is bound into the AEAD together with the resource identity, so
// metadata edited at rest fails decryption; Checksum is additionally an
// independent plaintext digest kept redundantly with the tag.
type EncryptionMetadata struct {
	IV            []byte
	Algorithm     string
	Checksum      string // hex SHA-256 of the plaintext
	VersionID     int64  // resource version at encryption time
	KeyGeneration int    // data-key rotation generation
	SyncStatus    string
	Timestamp     time.Time
}

// EncryptedResource is the at-rest form of a Resource. It is superseded,
// never mutated: every encryption produces a fresh IV and a new value.
type EncryptedResource struct {
	ID               string
	ResourceType     string
	Ciphertext       []byte
	Metadata         EncryptionMetadata
	SearchableFields map[string]string // field -> deterministic HMAC token
}
