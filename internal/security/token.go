package security

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"telecare/internal/domain"
)

// TokenService verifies the tokens issued by the external authentication
// service. Issue exists for tooling and tests.
type TokenService struct {
	secret    []byte
	expiresIn time.Duration
}

func NewTokenService(secret string, expiresIn time.Duration) *TokenService {
	return &TokenService{
		secret:    []byte(secret),
		expiresIn: expiresIn,
	}
}

// Issue creates a token for the participant using the default TTL.
func (t *TokenService) Issue(p domain.Peer) (string, error) {
	return t.IssueWithTTL(p, t.expiresIn)
}

// IssueWithTTL creates a token for the participant with an explicit TTL.
func (t *TokenService) IssueWithTTL(p domain.Peer, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  p.ID,
		"role": string(p.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse validates a token and returns its claims.
func (t *TokenService) Parse(tokenStr string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok {
		return claims, nil
	}
	return nil, jwt.ErrTokenMalformed
}

// Authenticate turns a bearer token into the trusted participant identity.
func (t *TokenService) Authenticate(tokenStr string) (domain.Peer, error) {
	claims, err := t.Parse(tokenStr)
	if err != nil {
		return domain.Peer{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return domain.Peer{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}
	rawRole, _ := claims["role"].(string)
	role, err := domain.ParseRole(rawRole)
	if err != nil {
		return domain.Peer{}, fmt.Errorf("%w: token role %q", domain.ErrUnauthorized, rawRole)
	}
	return domain.Peer{ID: sub, Role: role}, nil
}
