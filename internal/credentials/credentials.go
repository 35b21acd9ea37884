// Package credentials holds the password and grace-period policy: hashing,
// verification, generation, and strength rules. Everything here is a pure
// function over record fields; no I/O, no store access.
package credentials

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	passwordvalidator "github.com/wagslane/go-password-validator"
	"golang.org/x/crypto/argon2"

	"github.com/avandyk/submitstore/internal/store"
)

const (
	// SaltLength is the number of random bytes in a per-account salt.
	SaltLength = 32

	// MinPasswordLength and MaxPasswordLength bound user-chosen passwords.
	MinPasswordLength = 15
	MaxPasswordLength = 40

	// minPasswordEntropy is the strength floor for user-chosen passwords,
	// in bits as estimated by go-password-validator.
	minPasswordEntropy = 60

	// generatedWordCount is the number of word-list words joined into a
	// generated password.
	generatedWordCount = 3
)

// HashPassword derives the stored hash from a plaintext password and a
// per-account salt using argon2id.
func HashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// NewSalt returns SaltLength cryptographically random bytes.
func NewSalt() ([]byte, error) {
	b := make([]byte, SaltLength)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}
	return b, nil
}

// Verify reports whether password matches the stored salt+hash pair. The
// comparison is constant-time.
func Verify(password, salt, hash []byte) bool {
	candidate := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(candidate, hash) == 1
}

// CheckGrace reports whether a forced password change is still inside its
// grace window. A nil deadline means no grace period applies.
func CheckGrace(now time.Time, deadline *time.Time) error {
	if deadline == nil {
		return nil
	}
	if now.After(*deadline) {
		return store.ErrGraceExpired
	}
	return nil
}

// ValidatePassword applies the policy for user-chosen passwords: length
// bounds and a minimum estimated entropy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password shorter than %d characters", store.ErrValidation, MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("%w: password longer than %d characters", store.ErrValidation, MaxPasswordLength)
	}
	if err := passwordvalidator.Validate(password, minPasswordEntropy); err != nil {
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	return nil
}

// GeneratePassword produces a memorable-but-random password: words drawn
// from the word list with a CSPRNG, joined with '-', plus a two-digit
// suffix. The word list defaults to the embedded one.
func GeneratePassword(words []string) (string, error) {
	if len(words) == 0 {
		words = DefaultWords()
	}
	if len(words) < generatedWordCount {
		return "", errors.New("word list too short")
	}

	parts := make([]string, 0, generatedWordCount+1)
	for i := 0; i < generatedWordCount; i++ {
		n, err := randInt(len(words))
		if err != nil {
			return "", err
		}
		parts = append(parts, words[n])
	}

	suffix, err := randInt(100)
	if err != nil {
		return "", err
	}
	parts = append(parts, fmt.Sprintf("%02d", suffix))

	return strings.Join(parts, "-"), nil
}

func randInt(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("rand: %w", err)
	}
	return int(n.Int64()), nil
}
