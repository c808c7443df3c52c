// Package auth secures the control surface. API clients hold a long-lived
// key stored bcrypt-hashed; they exchange it for a short-lived JWT that the
// HTTP middleware validates on every request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/dougwmorrow/open-sc/internal/core/apperror"
)

// Role grades what a client may do.
type Role string

const (
	// RoleAdmin may apply batches, repair, erase and manage clients.
	RoleAdmin Role = "admin"

	// RoleWriter may apply batches and run validation.
	RoleWriter Role = "writer"

	// RoleReader may only query versions and reports.
	RoleReader Role = "reader"
)

// Client is one registered API client.
type Client struct {
	ClientID  string    `db:"client_id"`
	KeyHash   string    `db:"key_hash"`
	Role      Role      `db:"role"`
	CreatedAt time.Time `db:"created_at"`
	Disabled  bool      `db:"disabled"`
}

// ClientStore is the persistence interface for API clients.
type ClientStore interface {
	GetClient(ctx context.Context, clientID string) (*Client, error)
	CreateClient(ctx context.Context, client Client) error
}

// Config holds token issuing configuration.
type Config struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

// DefaultConfig returns default token settings.
func DefaultConfig(secret string) Config {
	return Config{
		Secret:   secret,
		Issuer:   "open-sc",
		TokenTTL: time.Hour,
	}
}

// Claims are the JWT claims carried by an issued token.
type Claims struct {
	jwt.RegisteredClaims
	ClientID string `json:"cid"`
	Role     string `json:"role"`
}

// Identity is the validated caller attached to a request.
type Identity struct {
	ClientID string
	Role     Role
}

// CanWrite reports whether the identity may mutate version data.
func (i Identity) CanWrite() bool {
	return i.Role == RoleAdmin || i.Role == RoleWriter
}

// CanAdminister reports whether the identity may repair, erase or manage
// clients.
func (i Identity) CanAdminister() bool {
	return i.Role == RoleAdmin
}

// Service issues and validates tokens.
type Service struct {
	cfg     Config
	clients ClientStore
}

// NewService creates the auth service.
func NewService(cfg Config, clients ClientStore) *Service {
	if cfg.Issuer == "" {
		cfg.Issuer = "open-sc"
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	return &Service{cfg: cfg, clients: clients}
}

// Exchange verifies an API key and issues a JWT for the client.
func (s *Service) Exchange(ctx context.Context, clientID, apiKey string) (string, time.Time, error) {
	if s.cfg.Secret == "" {
		return "", time.Time{}, apperror.NewInternal(errors.New("jwt signing secret is not configured"))
	}

	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		return "", time.Time{}, apperror.NewStore(err)
	}
	if client == nil || client.Disabled {
		return "", time.Time{}, apperror.NewUnauthorized("unknown or disabled client")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(client.KeyHash), []byte(apiKey)); err != nil {
		return "", time.Time{}, apperror.NewUnauthorized("invalid api key")
	}

	now := time.Now()
	expiresAt := now.Add(s.cfg.TokenTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   client.ClientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		ClientID: client.ClientID,
		Role:     string(client.Role),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken parses and verifies a JWT, returning the caller identity.
func (s *Service) ValidateToken(tokenString string) (*Identity, error) {
	if s.cfg.Secret == "" {
		return nil, apperror.NewInternal(errors.New("jwt signing secret is not configured"))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.Secret), nil
	})
	if err != nil {
		return nil, apperror.NewUnauthorized("invalid token").WithCause(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperror.NewUnauthorized("invalid token claims")
	}

	return &Identity{
		ClientID: claims.ClientID,
		Role:     Role(claims.Role),
	}, nil
}

// Register creates a new client with a bcrypt-hashed key.
func (s *Service) Register(ctx context.Context, clientID, apiKey string, role Role) error {
	switch role {
	case RoleAdmin, RoleWriter, RoleReader:
	default:
		return apperror.NewValidation("unknown role").WithDetail("role", string(role))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash api key: %w", err)
	}

	client := Client{
		ClientID:  clientID,
		KeyHash:   string(hash),
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.clients.CreateClient(ctx, client); err != nil {
		return apperror.NewStore(err)
	}
	return nil
}
