package entitlement

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

const MinKeySize = 32

// Keyring holds the HMAC signing keys by id and names the one used for new
// tokens. Retired keys stay verifiable for as long as they are configured.
type Keyring struct {
	keys        map[string][]byte
	activeKeyID string
	// verification order: active key first, then the rest by id
	order []string
}

func NewKeyring(keys map[string][]byte, activeKeyID string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("signing keys are required")
	}
	activeKeyID = strings.TrimSpace(activeKeyID)
	if activeKeyID == "" {
		return nil, fmt.Errorf("active key id is required")
	}
	if _, ok := keys[activeKeyID]; !ok {
		return nil, fmt.Errorf("active key id %q is not configured", activeKeyID)
	}

	k := &Keyring{
		keys:        make(map[string][]byte, len(keys)),
		activeKeyID: activeKeyID,
	}

	rest := make([]string, 0, len(keys)-1)
	for id, key := range keys {
		if strings.TrimSpace(id) == "" || strings.ContainsAny(id, ",:") {
			return nil, fmt.Errorf("invalid key id %q", id)
		}
		if len(key) < MinKeySize {
			return nil, fmt.Errorf("key %q: must be at least %d bytes, got %d", id, MinKeySize, len(key))
		}

		k.keys[id] = append([]byte(nil), key...)
		if id != activeKeyID {
			rest = append(rest, id)
		}
	}

	sort.Strings(rest)
	k.order = append([]string{activeKeyID}, rest...)

	return k, nil
}

// KeyringFromHex builds a keyring from hex-encoded secrets, the format used
// by the TOKEN_KEYS setting.
func KeyringFromHex(encoded map[string]string, activeKeyID string) (*Keyring, error) {
	keys := make(map[string][]byte, len(encoded))
	for id, value := range encoded {
		key, err := hex.DecodeString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("key %q: invalid hex: %w", id, err)
		}
		keys[id] = key
	}

	return NewKeyring(keys, activeKeyID)
}

func (k *Keyring) ActiveKeyID() string {
	return k.activeKeyID
}

func (k *Keyring) activeKey() []byte {
	return k.keys[k.activeKeyID]
}
