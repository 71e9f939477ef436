// AngelaMos | 2026
// password.go

package core

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

var errMalformedHash = errors.New("malformed password hash")

// argonParams is the cost recorded in a PHC string. Changing
// currentArgon upgrades users on their next successful login.
type argonParams struct {
	memory  uint32
	time    uint32
	threads uint8
	keyLen  uint32
}

var currentArgon = argonParams{memory: 64 * 1024, time: 1, threads: 4, keyLen: 32}

const passwordSaltBytes = 16

func (p argonParams) derive(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLen)
}

// encode renders $argon2id$v=19$m=..,t=..,p=..$salt$key.
func (p argonParams) encode(salt, key []byte) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.time, p.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

func parseArgonHash(encoded string) (argonParams, []byte, []byte, error) {
	var p argonParams

	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return p, nil, nil, errMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: version %q", errMalformedHash, fields[2])
	}

	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return p, nil, nil, fmt.Errorf("%w: params: %w", errMalformedHash, err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(fields[4])
	if err != nil {
		return p, nil, nil, fmt.Errorf("%w: salt: %w", errMalformedHash, err)
	}

	key, err := base64.RawStdEncoding.DecodeString(fields[5])
	if err != nil {
		return p, nil, nil, fmt.Errorf("%w: key: %w", errMalformedHash, err)
	}

	//nolint:gosec // G115: argon2 keys are tens of bytes
	p.keyLen = uint32(len(key))
	return p, salt, key, nil
}

func HashPassword(password string) (string, error) {
	salt := make([]byte, passwordSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return currentArgon.encode(salt, currentArgon.derive(password, salt)), nil
}

// PasswordCheck is the outcome of CheckPassword. Upgraded holds a fresh hash
// when the stored one used outdated parameters and should be replaced.
type PasswordCheck struct {
	Match    bool
	Upgraded string
}

// decoyHash stands in for unknown users so a miss costs one derivation too.
var decoyHash = sync.OnceValue(func() string {
	hash, err := HashPassword("decoy")
	if err != nil {
		panic(fmt.Sprintf("derive decoy password hash: %v", err))
	}
	return hash
})

// CheckPassword compares password against stored. An empty stored hash
// means the account does not exist; it never matches but costs the same.
func CheckPassword(password, stored string) (PasswordCheck, error) {
	known := stored != ""
	if !known {
		stored = decoyHash()
	}

	params, salt, key, err := parseArgonHash(stored)
	if err != nil {
		return PasswordCheck{}, err
	}

	match := subtle.ConstantTimeCompare(key, params.derive(password, salt)) == 1
	if !known || !match {
		return PasswordCheck{}, nil
	}

	check := PasswordCheck{Match: true}
	if params != currentArgon {
		// A failed upgrade must not fail the login.
		if upgraded, hashErr := HashPassword(password); hashErr == nil {
			check.Upgraded = upgraded
		}
	}
	return check, nil
}
