package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID = "argon2id"

	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	minPassBytes          = 10
)

// Params are the argon2id cost parameters baked into every hash this
// Hasher produces.
type Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher produces and verifies PHC-formatted argon2id digests. Verification
// reads the parameters out of the stored hash, so old hashes stay checkable
// after a cost upgrade.
type Hasher struct {
	params Params
}

func NewHasher(p Params) (*Hasher, error) {
	switch {
	case p.Memory < minMemoryKB:
		return nil, errors.New("password memory must be >= 8192 KiB")
	case p.Time < minTimeCost:
		return nil, errors.New("password time must be >= 1")
	case p.Parallelism < minParallelism:
		return nil, errors.New("password parallelism must be >= 1")
	case p.SaltLength < minSaltLength:
		return nil, errors.New("password salt length must be >= 16")
	case p.KeyLength < minKeyLength:
		return nil, errors.New("password key length must be >= 16")
	}
	return &Hasher{params: p}, nil
}

// Hash digests the password with a fresh random salt. Raw password bytes are
// used exactly as provided; no Unicode normalization.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < minPassBytes {
		return "", errors.New("password must be at least 10 bytes")
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		h.params.Time,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the digest with the stored parameters and compares in
// constant time.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	memory, timeCost, parallelism, salt, want, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	got := argon2.IDKey([]byte(password), salt, timeCost, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// NeedsUpgrade reports whether the stored hash was produced with weaker
// parameters than the Hasher currently enforces.
func (h *Hasher) NeedsUpgrade(encodedHash string) (bool, error) {
	memory, timeCost, parallelism, _, key, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	return h.params.Memory > memory ||
		h.params.Time > timeCost ||
		h.params.Parallelism > parallelism ||
		h.params.KeyLength != uint32(len(key)), nil
}

func parsePHC(encoded string) (memory, timeCost uint32, parallelism uint8, salt, key []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return 0, 0, 0, nil, nil, errors.New("invalid PHC format")
	}

	var version int
	if _, err = fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return 0, 0, 0, nil, nil, errors.New("unsupported argon2 version")
	}

	var para uint32
	if _, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &para); err != nil {
		return 0, 0, 0, nil, nil, errors.New("invalid parameter block")
	}
	if memory < minMemoryKB || timeCost < minTimeCost || para < uint32(minParallelism) || para > 255 {
		return 0, 0, 0, nil, nil, errors.New("parameters below policy floor")
	}
	parallelism = uint8(para)

	salt, err = base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return 0, 0, 0, nil, nil, errors.New("invalid salt")
	}

	key, err = base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(key) < int(minKeyLength) {
		return 0, 0, 0, nil, nil, errors.New("invalid hash")
	}

	return memory, timeCost, parallelism, salt, key, nil
}
