package internal

import (
	"crypto/rand"
	"encoding/base64"
)

// secretBytes is the entropy of every opaque secret the engine mints.
// 32 bytes comfortably clears the 128-bit floor required for token secrets.
const secretBytes = 32

// NewSecret returns a fresh opaque secret encoded as unpadded base64url.
func NewSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
