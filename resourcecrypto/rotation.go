package resourcecrypto

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/caremesh/synccore/audit"
)

// ReencryptFunc re-encrypts every stored ciphertext of one resource
// type. It receives the retired key so records written under it can
// still be opened. Bulk orchestration across the data set belongs to
// the caller.
type ReencryptFunc func(ctx context.Context, resourceType string, retiredKey []byte) error

// IsKeyRotationNeeded is a pure check against the rotation schedule.
func (e *Encryptor) IsKeyRotationNeeded(now time.Time) bool {
	return e.keys.IsRotationNeeded(now)
}

// RotateKeys swaps every data key, runs the re-encryption hook per
// resource type, and records an audit event. The rotation commits only
// once every hook succeeds: on a hook error the retired keys remain
// held by the key store and the rotation stays due, so the next call
// resumes re-encryption with the same retired keys instead of rotating
// again.
func (e *Encryptor) RotateKeys(ctx context.Context, now time.Time, reencrypt ReencryptFunc) error {
	retired := e.keys.RetiredKeys()
	if !e.keys.RotationPending() {
		var err error
		retired, err = e.keys.Rotate(now)
		if err != nil {
			return err
		}
	}

	types := make([]string, 0, len(retired))
	for t := range retired {
		types = append(types, t)
	}
	sort.Strings(types)

	if reencrypt != nil {
		for _, t := range types {
			if err := reencrypt(ctx, t, retired[t]); err != nil {
				return fmt.Errorf("re-encrypt %s after rotation: %w", t, err)
			}
		}
	}
	if err := e.keys.CompleteRotation(now); err != nil {
		return err
	}

	rotationsTotal.Inc()
	e.log.Info("data keys rotated",
		zap.Strings("resourceTypes", types),
		zap.Time("nextRotation", e.keys.Schedule().NextRotation),
	)
	return e.sink.Record(ctx, audit.Event{
		Type:        audit.EventKeyRotation,
		Actor:       "system",
		Severity:    audit.SeverityInfo,
		Description: "data encryption keys rotated",
		Metadata: map[string]string{
			"resourceTypes": strings.Join(types, ","),
			"keyCount":      strconv.Itoa(len(types)),
		},
		At: now,
	})
}

// ExportKeys backs up all data keys as one password-wrapped blob and
// records the export in the audit trail.
func (e *Encryptor) ExportKeys(ctx context.Context, password []byte) ([]byte, error) {
	blob, err := e.keys.Export(password)
	if err != nil {
		return nil, err
	}
	if err := e.sink.Record(ctx, audit.Event{
		Type:        audit.EventKeyExport,
		Actor:       "system",
		Severity:    audit.SeverityWarning,
		Description: "data encryption keys exported",
		At:          e.now(),
	}); err != nil {
		return nil, err
	}
	return blob, nil
}

// ImportKeys restores a key set exported by ExportKeys.
func (e *Encryptor) ImportKeys(ctx context.Context, blob, password []byte) error {
	if err := e.keys.Import(blob, password); err != nil {
		return err
	}
	return e.sink.Record(ctx, audit.Event{
		Type:        audit.EventKeyImport,
		Actor:       "system",
		Severity:    audit.SeverityWarning,
		Description: "data encryption keys imported",
		At:          e.now(),
	})
}
