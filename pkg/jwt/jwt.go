package jwt

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gojwt "github.com/golang-jwt/jwt/v4"
)

// SecretLength is the byte length of an Engine API shared secret.
const SecretLength = 32

// MaxClockDrift is how far the iat claim may be from the verifier's clock.
const MaxClockDrift = 60 * time.Second

// Secret is the HS256 key shared with the execution client.
type Secret [SecretLength]byte

// ParseHexKey parses secret file content: 32 hex-encoded bytes with an
// optional 0x prefix and surrounding whitespace.
func ParseHexKey(content string) (Secret, error) {
	raw := common.FromHex(strings.TrimSpace(content))
	if len(raw) != SecretLength {
		return Secret{}, fmt.Errorf("jwt secret is not %d hex-formatted bytes", SecretLength)
	}
	return Secret(raw), nil
}

// LoadSecret reads and parses a secret file.
func LoadSecret(path string) (Secret, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Secret{}, fmt.Errorf("file-name of jwt secret is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Secret{}, fmt.Errorf("failed to read jwt secret from %q: %w", path, err)
	}
	secret, err := ParseHexKey(string(data))
	if err != nil {
		return Secret{}, fmt.Errorf("invalid jwt secret in %q: %w", path, err)
	}
	return secret, nil
}

// GenerateToken signs an HS256 token whose only claim is the issue time.
func GenerateToken(secret Secret, now time.Time) (string, error) {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.RegisteredClaims{
		IssuedAt: gojwt.NewNumericDate(now),
	})
	signed, err := token.SignedString(secret[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign jwt: %w", err)
	}
	return signed, nil
}

// VerifyToken checks the signature and that iat is within MaxClockDrift of now.
func VerifyToken(secret Secret, token string, now time.Time) error {
	claims := &gojwt.RegisteredClaims{}
	parsed, err := gojwt.ParseWithClaims(token, claims, func(t *gojwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*gojwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret[:], nil
	}, gojwt.WithoutClaimsValidation())
	if err != nil {
		return fmt.Errorf("invalid jwt: %w", err)
	}
	if !parsed.Valid {
		return fmt.Errorf("invalid jwt")
	}
	if claims.IssuedAt == nil {
		return fmt.Errorf("jwt has no iat claim")
	}
	drift := now.Sub(claims.IssuedAt.Time)
	if drift > MaxClockDrift || drift < -MaxClockDrift {
		return fmt.Errorf("jwt iat %v is %v away from now", claims.IssuedAt.Time, drift)
	}
	return nil
}
