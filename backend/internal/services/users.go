package services

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"taskify/backend/internal/auth"
	"taskify/backend/internal/models"
	"taskify/backend/internal/repositories"
	"taskify/backend/internal/validation"
)

type AccountService interface {
	GetAccount(ctx context.Context, session *auth.Session) (models.User, error)
	UpdateAccount(ctx context.Context, session *auth.Session, input validation.AccountInput) (models.User, error)
}

type AccountServiceImpl struct {
	users *repositories.UserRepository
	log   logrus.FieldLogger
}

func NewAccountService(users *repositories.UserRepository, log logrus.FieldLogger) *AccountServiceImpl {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AccountServiceImpl{users: users, log: log.WithField("component", "account")}
}

func (s *AccountServiceImpl) GetAccount(ctx context.Context, session *auth.Session) (models.User, error) {
	userID, err := owner(session)
	if err != nil {
		return models.User{}, err
	}
	return s.users.FindByID(ctx, userID)
}

func (s *AccountServiceImpl) UpdateAccount(ctx context.Context, session *auth.Session, input validation.AccountInput) (models.User, error) {
	userID, err := owner(session)
	if err != nil {
		return models.User{}, err
	}
	in, err := validation.ValidateAccount(input)
	if err != nil {
		return models.User{}, err
	}

	user, err := s.users.UpdateProfile(ctx, userID, in.Name, in.Email)
	if err != nil {
		if errors.Is(err, repositories.ErrEmailTaken) {
			return models.User{}, ErrEmailTaken
		}
		return models.User{}, err
	}
	s.log.WithField("user_id", userID).Info("account updated")
	return user, nil
}
