package resourcecrypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/caremesh/synccore/model"
)

// searchableWhitelist is the per-type set of fields that get a
// deterministic token. Deterministic hashing leaks equality between
// records, which is the price of searching without decryption. It is
// never applied outside this whitelist, and never to full payloads.
var searchableWhitelist = map[string][]string{
	model.TypePatient:           {"identifier"},
	model.TypeObservation:       {"subject", "status", "code"},
	model.TypeMedicationRequest: {"subject", "status"},
	model.TypeEncounter:         {"subject", "status"},
}

// searchableFor derives tokens for the whitelisted fields present in r.
func (e *Encryptor) searchableFor(r *model.Resource) (map[string]string, error) {
	fields := searchableWhitelist[r.Type]
	if len(fields) == 0 {
		return nil, nil
	}
	var out map[string]string
	for _, field := range fields {
		value, ok := fieldValue(r.Body, field)
		if !ok {
			continue
		}
		token, err := e.SearchToken(r.Type, field, value)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = make(map[string]string, len(fields))
		}
		out[field] = token
	}
	return out, nil
}

// SearchToken computes the deterministic HMAC-SHA256 token for one
// whitelisted field value. Query code calls this to build equality
// probes against stored SearchableFields.
func (e *Encryptor) SearchToken(resourceType, field, value string) (string, error) {
	allowed := false
	for _, f := range searchableWhitelist[resourceType] {
		if f == field {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", fmt.Errorf("field %s.%s is not searchable", resourceType, field)
	}
	key, err := e.keys.SearchKey()
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(resourceType))
	mac.Write([]byte{0})
	mac.Write([]byte(field))
	mac.Write([]byte{0})
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// fieldValue extracts a comparable string from a body field. FHIR-style
// reference objects contribute their "reference"; codeable concepts
// contribute the first coding's code.
func fieldValue(body map[string]any, field string) (string, bool) {
	v, ok := body[field]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, t != ""
	case map[string]any:
		if ref, ok := t["reference"].(string); ok && ref != "" {
			return ref, true
		}
		if codings, ok := t["coding"].([]any); ok && len(codings) > 0 {
			if c, ok := codings[0].(map[string]any); ok {
				if code, ok := c["code"].(string); ok && code != "" {
					return code, true
				}
			}
		}
	}
	return "", false
}
