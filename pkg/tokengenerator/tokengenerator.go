package tokengenerator

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// TokenByteLength is the number of random bytes in a token body.
	// 32 bytes encodes to 43 base64url characters.
	TokenByteLength = 32

	// ImpersonationTokenPrefix marks overlay tokens so the resolver can
	// distinguish them from regular session tokens.
	ImpersonationTokenPrefix = "imp_"

	// CorrelationIDLength is the length of generated correlation ids.
	CorrelationIDLength = 12
)

// TokenGenerator produces opaque session tokens and correlation ids.
// Tokens are random values with no embedded claims; all session state
// lives in the stores.
type TokenGenerator interface {
	// GenerateSessionToken generates an opaque token for a regular session
	GenerateSessionToken() (string, error)

	// GenerateImpersonationToken generates a prefixed token for an
	// impersonation overlay session
	GenerateImpersonationToken() (string, error)

	// GenerateCorrelationID generates a short identifier for audit-log
	// cross-referencing. Safe to log in plaintext, unlike tokens.
	GenerateCorrelationID() string
}

// RandomTokenGenerator implements TokenGenerator using crypto/rand
type RandomTokenGenerator struct{}

// NewRandomTokenGenerator creates a new RandomTokenGenerator
func NewRandomTokenGenerator() *RandomTokenGenerator {
	return &RandomTokenGenerator{}
}

// GenerateSessionToken creates a new opaque session token
func (g *RandomTokenGenerator) GenerateSessionToken() (string, error) {
	return randomTokenBody()
}

// GenerateImpersonationToken creates a new impersonation token carrying the
// reserved prefix
func (g *RandomTokenGenerator) GenerateImpersonationToken() (string, error) {
	body, err := randomTokenBody()
	if err != nil {
		return "", err
	}
	return ImpersonationTokenPrefix + body, nil
}

// GenerateCorrelationID creates a short random identifier
func (g *RandomTokenGenerator) GenerateCorrelationID() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return id[:CorrelationIDLength]
}

// IsImpersonationToken reports whether token carries the impersonation prefix
func IsImpersonationToken(token string) bool {
	return strings.HasPrefix(token, ImpersonationTokenPrefix)
}

func randomTokenBody() (string, error) {
	buf := make([]byte, TokenByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
