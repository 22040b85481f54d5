package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"taskify/backend/internal/auth"
	"taskify/backend/internal/config"
	"taskify/backend/internal/models"
	"taskify/backend/internal/repositories"
	"taskify/backend/internal/validation"
)

const sessionAudience = "taskify-users"

type AuthService interface {
	SignIn(ctx context.Context, input validation.CredentialsInput) (string, *auth.Session, error)
	IssueSession(ctx context.Context, user models.User) (string, *auth.Session, error)
	ValidateSession(ctx context.Context, token string) (*auth.Session, error)
	SignOut(ctx context.Context, token string) error
}

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type AuthServiceImpl struct {
	users    *repositories.UserRepository
	sessions *repositories.SessionRepository
	config   config.AuthConfig
	now      func() time.Time
	log      logrus.FieldLogger
}

func NewAuthService(users *repositories.UserRepository, sessions *repositories.SessionRepository, cfg config.AuthConfig, log logrus.FieldLogger) *AuthServiceImpl {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AuthServiceImpl{
		users:    users,
		sessions: sessions,
		config:   cfg,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.WithField("component", "auth"),
	}
}

func VerifyPassword(hashedPassword, plainPassword string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(plainPassword))
	return err == nil
}

func (s *AuthServiceImpl) SignIn(ctx context.Context, input validation.CredentialsInput) (string, *auth.Session, error) {
	creds, err := validation.ValidateCredentials(input)
	if err != nil {
		return "", nil, err
	}

	user, err := s.users.FindByEmail(ctx, creds.Email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if !VerifyPassword(user.HashedPassword, creds.Password) {
		s.log.WithField("user_id", user.ID).Warn("failed sign-in attempt")
		return "", nil, ErrInvalidCredentials
	}

	return s.IssueSession(ctx, user)
}

// IssueSession signs a token for user and records its session row.
func (s *AuthServiceImpl) IssueSession(ctx context.Context, user models.User) (string, *auth.Session, error) {
	jti, err := uuid.NewV4()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate jti: %w", err)
	}

	now := s.now()
	expires := now.Add(s.config.SessionTTL)
	claims := sessionClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Subject:   user.ID.String(),
			Issuer:    s.config.Issuer,
			Audience:  jwt.ClaimStrings{sessionAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	row := models.Session{UserID: user.ID, JTI: jti, ExpiresAt: expires}
	if err := s.sessions.Create(ctx, &row); err != nil {
		return "", nil, err
	}

	s.log.WithField("user_id", user.ID).Info("session issued")
	return token, &auth.Session{
		ID:        jti,
		User:      auth.User{ID: user.ID, Name: user.Name, Email: user.Email},
		ExpiresAt: expires,
	}, nil
}

func (s *AuthServiceImpl) parse(token string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.config.JWTSecret), nil
	},
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithAudience(sessionAudience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	return claims, nil
}

// ValidateSession checks the token signature and that its session row is
// still live. The user is reloaded so profile edits show up immediately.
func (s *AuthServiceImpl) ValidateSession(ctx context.Context, token string) (*auth.Session, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	jti, err := uuid.FromString(claims.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad jti", ErrInvalidSession)
	}

	row, err := s.sessions.FindActive(ctx, jti, s.now())
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	user, err := s.users.FindByID(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}

	return &auth.Session{
		ID:        jti,
		User:      auth.User{ID: user.ID, Name: user.Name, Email: user.Email},
		ExpiresAt: row.ExpiresAt,
	}, nil
}

func (s *AuthServiceImpl) SignOut(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return err
	}
	jti, err := uuid.FromString(claims.ID)
	if err != nil {
		return fmt.Errorf("%w: bad jti", ErrInvalidSession)
	}
	return s.sessions.DeleteByJTI(ctx, jti)
}

// PurgeExpired removes dead session rows.
func (s *AuthServiceImpl) PurgeExpired(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpired(ctx, s.now())
}
