// Package auth maps credentials to user identities: password
// registration/login over HTTP and time-bound bearer tokens for the
// game session handshake.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"aiventure/internal/model"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrEmailTaken         = errors.New("email already registered")
)

// UserStore is the slice of persistence the service needs.
type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) (model.User, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
}

type Service struct {
	store    UserStore
	secret   []byte
	tokenTTL time.Duration
}

func NewService(store UserStore, secret string, tokenTTL time.Duration) *Service {
	return &Service{store: store, secret: []byte(secret), tokenTTL: tokenTTL}
}

func (s *Service) Register(ctx context.Context, email, password string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return model.User{}, fmt.Errorf("a valid email is required")
	}
	if len(password) < 8 {
		return model.User{}, fmt.Errorf("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.store.CreateUser(ctx, email, string(hash))
	if errors.Is(err, model.ErrConflict) {
		return model.User{}, ErrEmailTaken
	}
	if err != nil {
		return model.User{}, err
	}
	return user, nil
}

// Login verifies the password and mints a bearer token with the
// configured expiry. The failure reason is deliberately uniform.
func (s *Service) Login(ctx context.Context, email, password string) (string, time.Time, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, model.ErrNotFound) {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if err != nil {
		return "", time.Time{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return s.mintToken(user.Email)
}

func (s *Service) mintToken(email string) (string, time.Time, error) {
	expires := time.Now().Add(s.tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   email,
		ExpiresAt: jwt.NewNumericDate(expires),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// ResolveIdentity validates a bearer token and resolves it to the user
// it was issued for. Any parse, signature, or expiry failure collapses
// into ErrInvalidToken.
func (s *Service) ResolveIdentity(ctx context.Context, token string) (model.User, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return model.User{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return model.User{}, ErrInvalidToken
	}
	user, err := s.store.GetUserByEmail(ctx, claims.Subject)
	if errors.Is(err, model.ErrNotFound) {
		return model.User{}, ErrInvalidToken
	}
	if err != nil {
		return model.User{}, err
	}
	return user, nil
}
