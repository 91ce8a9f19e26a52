package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"flavorfind/internal/data"
)

// sessions issues and verifies HS256 session tokens. Logout revokes a token
// by its jti until the token would have expired anyway.
type sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

func newSessions(secret []byte, ttl time.Duration, now func() time.Time) *sessions {
	return &sessions{secret: secret, ttl: ttl, now: now, revoked: make(map[string]time.Time)}
}

func (s *sessions) issue(userID, jti string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        jti,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return token, nil
}

func (s *sessions) parse(token string) (*jwt.RegisteredClaims, error) {
	if token == "" {
		return nil, data.ErrUnauthorized
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", data.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", data.ErrUnauthorized)
	}
	return claims, nil
}

// verify returns the user id of a live token.
func (s *sessions) verify(token string) (string, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	_, gone := s.revoked[claims.ID]
	s.mu.Unlock()
	if gone {
		return "", fmt.Errorf("%w: session revoked", data.ErrUnauthorized)
	}
	return claims.Subject, nil
}

func (s *sessions) revoke(token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return err
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for jti, exp := range s.revoked {
		if now.After(exp) {
			delete(s.revoked, jti)
		}
	}
	exp := now.Add(s.ttl)
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	s.revoked[claims.ID] = exp
	return nil
}

func hashPassword(pw string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

func checkPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}
