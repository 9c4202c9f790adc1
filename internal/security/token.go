package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	hashScheme     = "pbkdf2-sha256"
	hashIterations = 210000
	minIterations  = 100000
	saltSize       = 16
	MinTokenLength = 12
)

var (
	ErrTokenTooShort  = fmt.Errorf("token must be at least %d characters", MinTokenLength)
	errMalformedHash  = errors.New("malformed token hash")
	errWeakTokenHash  = errors.New("token hash iteration count too low")
	tokenHashEncoding = base64.RawStdEncoding
)

// tokenHash is the parsed form of pbkdf2-sha256$iterations$salt$digest.
type tokenHash struct {
	iterations int
	salt       []byte
	digest     []byte
}

func (h tokenHash) String() string {
	return strings.Join([]string{
		hashScheme,
		strconv.Itoa(h.iterations),
		tokenHashEncoding.EncodeToString(h.salt),
		tokenHashEncoding.EncodeToString(h.digest),
	}, "$")
}

func parseTokenHash(encoded string) (tokenHash, error) {
	scheme, rest, _ := strings.Cut(strings.TrimSpace(encoded), "$")
	if scheme != hashScheme {
		return tokenHash{}, errMalformedHash
	}
	fields := strings.Split(rest, "$")
	if len(fields) != 3 {
		return tokenHash{}, errMalformedHash
	}
	iters, err := strconv.Atoi(fields[0])
	if err != nil {
		return tokenHash{}, errMalformedHash
	}
	if iters < minIterations {
		return tokenHash{}, errWeakTokenHash
	}
	salt, err := tokenHashEncoding.DecodeString(fields[1])
	if err != nil || len(salt) == 0 {
		return tokenHash{}, errMalformedHash
	}
	digest, err := tokenHashEncoding.DecodeString(fields[2])
	if err != nil || len(digest) != sha256.Size {
		return tokenHash{}, errMalformedHash
	}
	return tokenHash{iterations: iters, salt: salt, digest: digest}, nil
}

func derive(token string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(token), salt, iterations, sha256.Size, sha256.New)
}

// HashToken returns a salted PBKDF2-SHA256 hash of token suitable for
// storing in configuration.
func HashToken(token string) (string, error) {
	if len(token) < MinTokenLength {
		return "", ErrTokenTooShort
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	h := tokenHash{iterations: hashIterations, salt: salt, digest: derive(token, salt, hashIterations)}
	return h.String(), nil
}

func VerifyToken(token, encoded string) bool {
	h, err := parseTokenHash(encoded)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(derive(token, h.salt, h.iterations), h.digest) == 1
}

// NewToken returns a random URL-safe token of n random bytes.
func NewToken(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("token size must be positive")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// BearerToken extracts the credential from an Authorization header.
func BearerToken(r *http.Request) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
