// Package authtoken defines the TokenAuthenticator and HashService
// collaborators spec §6 names: decoding a bearer token into a caller
// identity, and hashing passwords. Both are pure with respect to the
// rest of the system — no store access, no side effects beyond the
// cryptographic computation itself — the same narrow posture lnd's
// macaroon validation in cert/ takes toward authenticating an RPC
// caller: decode and validate the credential, hand back an identity,
// and leave authorization decisions to the caller.
package authtoken

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

var (
	// ErrInvalidToken is returned for a token that fails signature
	// verification or carries a malformed claim set.
	ErrInvalidToken = errors.New("authtoken: invalid token")
	// ErrExpiredToken is returned for a token whose exp claim has
	// already passed, distinguished from ErrInvalidToken per spec §6's
	// "Invalid/Expired" decode outcomes.
	ErrExpiredToken = errors.New("authtoken: expired token")
)

// Claims is the JWT claim set this system issues and decodes, modeled
// after the {user_id, role} shape spec §6 names for TokenAuthenticator,
// held alongside the registered claims (exp, iat, ...) jwt.RegisteredClaims
// provides.
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
	jwt.RegisteredClaims
}

// Identity is what a successful decode hands back to the caller.
type Identity struct {
	UserID uuid.UUID
	Role   string
}

// TokenAuthenticator is the collaborator interface spec §6 names:
// decode(token) → {user_id, role} or Invalid/Expired.
type TokenAuthenticator interface {
	Decode(ctx context.Context, token string) (Identity, error)
}

// JWTAuthenticator implements TokenAuthenticator with HMAC-signed JWTs,
// the same golang-jwt/jwt/v4 dependency the teacher's go.mod already
// carries indirectly.
type JWTAuthenticator struct {
	secret []byte
	maxAge time.Duration
}

func NewJWTAuthenticator(secret string, maxAge time.Duration) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), maxAge: maxAge}
}

// Issue mints a token for userID/role, expiring maxAge from now. It is
// not part of the TokenAuthenticator interface spec §6 names but is
// the necessary counterpart to Decode for whichever handler performs
// login.
func (a *JWTAuthenticator) Issue(userID uuid.UUID, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.maxAge)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *JWTAuthenticator) Decode(ctx context.Context, tokenString string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.UserID, Role: claims.Role}, nil
}

var _ TokenAuthenticator = (*JWTAuthenticator)(nil)

// HashService is the collaborator interface spec §6 names: SHA-256 +
// Argon2 password hashing, pure.
type HashService interface {
	HashPassword(password string) (string, error)
	VerifyPassword(password, encoded string) (bool, error)
	SHA256Hex(data string) string
}

// argon2Params are fixed at values the Argon2 RFC draft recommends for
// interactive login use: 64 MiB memory, 1 pass, 4-way parallelism.
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16
)

// argon2HashService implements HashService with golang.org/x/crypto's
// argon2.IDKey, encoding salt and hash together in a single string so
// VerifyPassword needs no side channel to recover the parameters used.
type argon2HashService struct{}

func NewHashService() HashService {
	return argon2HashService{}
}

func (argon2HashService) HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return fmt.Sprintf("%s$%s",
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func (argon2HashService) VerifyPassword(password, encoded string) (bool, error) {
	parts := splitOnce(encoded, '$')
	if parts == nil {
		return false, ErrMalformedHash
	}
	saltB64, hashB64 := parts[0], parts[1]

	salt, err := base64.RawStdEncoding.DecodeString(saltB64)
	if err != nil {
		return false, ErrMalformedHash
	}
	want, err := base64.RawStdEncoding.DecodeString(hashB64)
	if err != nil {
		return false, ErrMalformedHash
	}

	got := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func (argon2HashService) SHA256Hex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// ErrMalformedHash is returned when VerifyPassword is given a string
// that isn't of this package's own HashPassword format.
var ErrMalformedHash = errors.New("authtoken: malformed password hash")

func splitOnce(s string, sep byte) []string {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return []string{s[:i], s[i+1:]}
		}
	}
	return nil
}

var _ HashService = argon2HashService{}
