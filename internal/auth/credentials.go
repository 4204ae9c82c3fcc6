package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

const (
	passwordHashSaltLength = 16
	passwordHashKeyLength  = 32
	passwordHashIterations = 120000
)

// ErrInvalidCredentials is returned when a login does not match the configured admin.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Credentials holds the single configured admin principal. The password is
// kept either in plain form or as a pbkdf2/bcrypt hash.
type Credentials struct {
	username     string
	password     string
	passwordHash string
}

// NewCredentials validates and stores the admin credentials. When both a
// password and a hash are supplied the hash wins.
func NewCredentials(username, password, passwordHash string) (*Credentials, error) {
	username = strings.TrimSpace(username)
	passwordHash = strings.TrimSpace(passwordHash)
	if username == "" {
		return nil, fmt.Errorf("admin username is required")
	}
	if password == "" && passwordHash == "" {
		return nil, fmt.Errorf("admin password or password hash is required")
	}
	if passwordHash != "" {
		if _, err := parseHashKind(passwordHash); err != nil {
			return nil, err
		}
		password = ""
	}
	return &Credentials{username: username, password: password, passwordHash: passwordHash}, nil
}

// Username returns the admin identity.
func (c *Credentials) Username() string {
	return c.username
}

// Verify compares the supplied login against the admin credentials in
// constant time and returns ErrInvalidCredentials on mismatch.
func (c *Credentials) Verify(username, password string) error {
	userOK := constantTimeEqual(username, c.username)
	var passErr error
	if c.passwordHash != "" {
		passErr = verifyPasswordHash(c.passwordHash, password)
	} else if !constantTimeEqual(password, c.password) {
		passErr = ErrInvalidCredentials
	}
	if passErr != nil && !errors.Is(passErr, ErrInvalidCredentials) {
		return passErr
	}
	if !userOK || passErr != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func constantTimeEqual(a, b string) bool {
	left := sha256.Sum256([]byte(a))
	right := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(left[:], right[:]) == 1
}

// HashPassword derives a pbkdf2 hash in the pbkdf2$sha256$iter$salt$key format.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	salt := make([]byte, passwordHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(password), salt, passwordHashIterations, passwordHashKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", passwordHashIterations, encodedSalt, encodedKey), nil
}

type hashKind int

const (
	hashPBKDF2 hashKind = iota
	hashBcrypt
)

func parseHashKind(encoded string) (hashKind, error) {
	switch {
	case strings.HasPrefix(encoded, "pbkdf2$"):
		return hashPBKDF2, nil
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		if _, err := bcrypt.Cost([]byte(encoded)); err != nil {
			return 0, fmt.Errorf("parse bcrypt hash: %w", err)
		}
		return hashBcrypt, nil
	default:
		return 0, fmt.Errorf("unsupported password hash format")
	}
}

func verifyPasswordHash(encoded, candidate string) error {
	kind, err := parseHashKind(encoded)
	if err != nil {
		return err
	}
	if kind == hashBcrypt {
		if err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(candidate)); err != nil {
			if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				return ErrInvalidCredentials
			}
			return fmt.Errorf("verify password: %w", err)
		}
		return nil
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify password: invalid hash format")
	}
	if parts[1] != "sha256" {
		return fmt.Errorf("verify password: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify password: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify password: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify password: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
