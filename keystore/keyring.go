package keystore

import (
	"encoding/base64"
	"fmt"

	"github.com/zalando/go-keyring"
)

// Optional on-device persistence of the master key through the OS
// keyring. Whether to keep the master key on the device at all is the
// application's call; these helpers only do the plumbing.

// SaveMasterKey stores the master key in the OS keyring under
// (service, account).
func SaveMasterKey(service, account string, key []byte) error {
	if len(key) != KeyLen {
		return fmt.Errorf("master key must be %d bytes, got %d", KeyLen, len(key))
	}
	return keyring.Set(service, account, base64.StdEncoding.EncodeToString(key))
}

// LoadMasterKey retrieves a master key previously stored with
// SaveMasterKey.
func LoadMasterKey(service, account string) ([]byte, error) {
	enc, err := keyring.Get(service, account)
	if err != nil {
		return nil, fmt.Errorf("keyring get: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("keyring entry not a valid key: %w", err)
	}
	if len(key) != KeyLen {
		return nil, fmt.Errorf("keyring entry has wrong key length %d", len(key))
	}
	return key, nil
}

// DeleteMasterKey removes the stored master key from the OS keyring.
func DeleteMasterKey(service, account string) error {
	return keyring.Delete(service, account)
}
