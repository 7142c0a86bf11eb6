// Package auth implements the Auth Gate: login issues an HS256 bearer
// token, every other protected route validates one. Grounded on the
// teacher repository's backend/auth/token.go and service.go, trimmed
// to this module's two roles (user, admin) and backed by
// repository.UserStore instead of the teacher's in-memory account
// engine.
package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/quantrail/twapbook/internal/apperr"
	"github.com/quantrail/twapbook/internal/model"
	"github.com/quantrail/twapbook/internal/repository"
)

// Gate is the external interface the HTTP layer's login, registration
// and bearer-token middleware depend on.
type Gate interface {
	Register(ctx context.Context, username, password, role string) (model.User, error)
	Login(ctx context.Context, username, password string) (token string, user model.User, err error)
	Authenticate(ctx context.Context, token string) (model.User, error)
	Unregister(ctx context.Context, username string) error
	ListUsers(ctx context.Context) ([]model.User, error)
}

// Claims is the JWT payload minted on login.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Service is the reference Gate implementation: bcrypt password
// hashing and an HS256 bearer token, per spec §4.6.
type Service struct {
	users  repository.UserStore
	secret []byte
	expiry time.Duration
}

func New(users repository.UserStore, secret string, expiry time.Duration) *Service {
	return &Service{users: users, secret: []byte(secret), expiry: expiry}
}

func (s *Service) Register(ctx context.Context, username, password, role string) (model.User, error) {
	if username == "" || password == "" {
		return model.User{}, apperr.New(apperr.BadRequest, "username and password are required")
	}
	if role != model.RoleUser && role != model.RoleAdmin {
		role = model.RoleUser
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, apperr.Wrap(apperr.Internal, "failed to hash password", err)
	}

	user := model.User{ID: uuid.NewString(), Username: username, Role: role}
	if err := s.users.CreateUser(ctx, user, string(hash)); err != nil {
		return model.User{}, err
	}
	return user, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (string, model.User, error) {
	user, hash, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return "", model.User{}, apperr.New(apperr.Unauthenticated, "invalid credentials")
		}
		return "", model.User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", model.User{}, apperr.New(apperr.Unauthenticated, "invalid credentials")
	}

	token, err := s.issueToken(user)
	if err != nil {
		return "", model.User{}, apperr.Wrap(apperr.Internal, "failed to issue token", err)
	}
	return token, user, nil
}

func (s *Service) issueToken(user model.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			Issuer:    "twapbook",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Service) Authenticate(ctx context.Context, tokenString string) (model.User, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return model.User{}, apperr.New(apperr.Unauthenticated, "invalid or expired token")
	}
	return model.User{ID: claims.UserID, Username: claims.Username, Role: claims.Role}, nil
}

func (s *Service) Unregister(ctx context.Context, username string) error {
	return s.users.DeleteUser(ctx, username)
}

func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.users.ListUsers(ctx)
}
