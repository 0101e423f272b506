// Package auth verifies credentials for the login endpoint. The
// abuse-prevention layers wrap whatever implements Verifier; the
// production backend plugs its user repository in here.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var ErrInvalidHash = errors.New("invalid hash format")

// Argon2Params are the argon2id cost parameters encoded into each
// hash.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Verifier checks a username/password pair. A failed match is not an
// error; errors mean verification could not run at all.
type Verifier interface {
	Verify(ctx context.Context, username, password string) (bool, error)
}

// StaticVerifier verifies against a fixed map of usernames to argon2id
// hashes loaded from configuration.
type StaticVerifier struct {
	users map[string]string
	// dummyHash absorbs the verification cost for unknown usernames so
	// response timing does not reveal which usernames exist.
	dummyHash string
}

func NewStaticVerifier(users map[string]string) (*StaticVerifier, error) {
	dummy, err := HashPassword(base64.RawURLEncoding.EncodeToString([]byte("visitgate-dummy")), DefaultArgon2Params())
	if err != nil {
		return nil, fmt.Errorf("failed to create dummy hash: %w", err)
	}
	return &StaticVerifier{users: users, dummyHash: dummy}, nil
}

func (v *StaticVerifier) Verify(_ context.Context, username, password string) (bool, error) {
	encoded, ok := v.users[username]
	if !ok {
		_, _ = VerifyPassword(password, v.dummyHash)
		return false, nil
	}
	return VerifyPassword(password, encoded)
}

// HashPassword produces a PHC-style argon2id string:
// $argon2id$v=19$m=...,t=...,p=...$salt$hash
func HashPassword(password string, params Argon2Params) (string, error) {
	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		params.Memory,
		params.Iterations,
		params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks a password against a PHC-style argon2id hash
// using a constant time comparison.
func VerifyPassword(password, encoded string) (bool, error) {
	params, salt, expected, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

func decodeHash(encoded string) (Argon2Params, []byte, []byte, error) {
	var params Argon2Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return params, nil, nil, fmt.Errorf("incompatible argon2 version %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return params, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, ErrInvalidHash
	}

	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return params, nil, nil, ErrInvalidHash
	}

	return params, salt, hash, nil
}
