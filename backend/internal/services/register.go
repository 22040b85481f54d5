package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"taskify/backend/internal/models"
	"taskify/backend/internal/repositories"
	"taskify/backend/internal/validation"
)

type RegisterService interface {
	RegisterUser(ctx context.Context, input validation.CredentialsInput) (models.User, error)
}

type RegisterServiceImpl struct {
	users *repositories.UserRepository
	cost  int
	log   logrus.FieldLogger
}

func NewRegisterService(users *repositories.UserRepository, log logrus.FieldLogger) *RegisterServiceImpl {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RegisterServiceImpl{users: users, cost: bcrypt.DefaultCost, log: log.WithField("component", "register")}
}

// WithCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func (s *RegisterServiceImpl) WithCost(cost int) *RegisterServiceImpl {
	s.cost = cost
	return s
}

func (s *RegisterServiceImpl) RegisterUser(ctx context.Context, input validation.CredentialsInput) (models.User, error) {
	creds, err := validation.ValidateCredentials(input)
	if err != nil {
		return models.User{}, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(creds.Password), s.cost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user := models.User{Email: creds.Email, HashedPassword: string(hashedPassword)}
	err = s.users.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.users.WithTx(tx).Create(ctx, &user)
	})
	if err != nil {
		if errors.Is(err, repositories.ErrEmailTaken) {
			return models.User{}, ErrEmailTaken
		}
		return models.User{}, err
	}

	s.log.WithField("user_id", user.ID).Info("user registered")
	return user, nil
}
