package state

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/mrecords121/ephyr/internal/errors"
)

// KDFCost tunes the Argon2id memory/time cost. §4.1 requires the KDF be
// tuned for roughly 100ms on modern hardware; Moderate is that default.
type KDFCost struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// Moderate is the default KDF cost, picked to land near 100ms on a modern
// server core (~64 MiB, 3 passes).
var Moderate = KDFCost{Time: 3, Memory: 64 * 1024, Threads: 2}

const (
	argon2SaltLen = 16
	argon2KeyLen  = 32
)

// HashPassword derives an Argon2id hash of password encoded as
// "$argon2id$v=19$m=<mem>,t=<time>,p=<threads>$<salt>$<hash>", the standard
// argon2 reference encoding.
func HashPassword(password string, cost KDFCost) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.New(err).Category(errors.CategoryInternal).Component("state").Build()
	}
	hash := argon2.IDKey([]byte(password), salt, cost.Time, cost.Memory, cost.Threads, argon2KeyLen)
	encoded := fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		cost.Memory, cost.Time, cost.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))
	return encoded, nil
}

// VerifyPassword checks password against an encoded hash produced by
// HashPassword, using a constant-time comparison of the derived key.
func VerifyPassword(password, encoded string) (bool, error) {
	var mem, time uint32
	var threads uint8
	var saltB64, hashB64 string

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errors.Wrap(errors.CategoryInternal, "state", "malformed password hash")
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &time, &threads); err != nil {
		return false, errors.New(err).Category(errors.CategoryInternal).Component("state").Build()
	}
	saltB64, hashB64 = parts[4], parts[5]

	salt, err := base64.RawStdEncoding.DecodeString(saltB64)
	if err != nil {
		return false, errors.New(err).Category(errors.CategoryInternal).Component("state").Build()
	}
	want, err := base64.RawStdEncoding.DecodeString(hashB64)
	if err != nil {
		return false, errors.New(err).Category(errors.CategoryInternal).Component("state").Build()
	}

	got := argon2.IDKey([]byte(password), salt, time, mem, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
