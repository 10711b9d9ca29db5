// Package credentials decides which stored login, if any, is injected into a page.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"naviguard/backend/internal/models"
	"naviguard/backend/internal/repository"
)

const maxUsernameLength = 100

var (
	ErrInvalidUser     = errors.New("invalid user id")
	ErrInvalidPage     = errors.New("invalid page id")
	ErrUsernameMissing = errors.New("username is required")
	ErrUsernameTooLong = fmt.Errorf("username exceeds %d characters", maxUsernameLength)
)

// Sealer encrypts secrets at rest.
type Sealer interface {
	Seal(plain string) (string, error)
	Open(stored string) (string, error)
}

type Service struct {
	repo   repository.CredentialRepository
	sealer Sealer
	logger *zap.Logger
}

func NewService(repo repository.CredentialRepository, sealer Sealer, logger *zap.Logger) *Service {
	return &Service{repo: repo, sealer: sealer, logger: logger.Named("credentials")}
}

// Resolve returns the credential to inject for page on behalf of user.
//
// A custom per-user credential is consulted first when the page requires one;
// the shared page credential is consulted when the page requires login.
// Lookup failures are logged and treated as "nothing found".
func (s *Service) Resolve(ctx context.Context, page *models.Page, user *models.UserSession) (models.Credential, bool) {
	if page == nil || !user.IsLoggedIn() {
		return models.Credential{}, false
	}
	log := s.logger.With(zap.Int64("page_id", page.ID), zap.Int64("user_id", user.UserID))

	if page.RequiresCustomLogin {
		cred, err := s.repo.GetUserPageCredential(ctx, user.UserID, page.ID)
		switch {
		case err == nil && cred != nil:
			if c, ok := s.open(cred.Username, cred.Password, log); ok {
				log.Debug("Resolved user page credential", zap.String("username", c.Username))
				return c, true
			}
		case errors.Is(err, repository.ErrNotFound):
			log.Debug("No user page credential")
		case err != nil:
			log.Warn("User page credential lookup failed", zap.Error(err))
		}
	}

	if page.RequiresLogin {
		cred, err := s.repo.GetPageCredential(ctx, page.ID)
		switch {
		case err == nil && cred != nil:
			if c, ok := s.open(cred.Username, cred.Password, log); ok {
				log.Debug("Resolved page credential", zap.String("username", c.Username))
				return c, true
			}
		case errors.Is(err, repository.ErrNotFound):
			log.Debug("No page credential")
		case err != nil:
			log.Warn("Page credential lookup failed", zap.Error(err))
		}
	}

	return models.Credential{}, false
}

func (s *Service) open(username, stored string, log *zap.Logger) (models.Credential, bool) {
	password, err := s.sealer.Open(stored)
	if err != nil {
		log.Warn("Stored credential could not be opened", zap.Error(err))
		return models.Credential{}, false
	}
	return models.Credential{Username: username, Password: password}, true
}

// Upsert stores the custom credential of user on page.
func (s *Service) Upsert(ctx context.Context, userID, pageID int64, username, password string) error {
	if userID <= 0 {
		return ErrInvalidUser
	}
	if pageID <= 0 {
		return ErrInvalidPage
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrUsernameMissing
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return ErrUsernameTooLong
	}

	sealed, err := s.sealer.Seal(password)
	if err != nil {
		return fmt.Errorf("failed to seal credential: %w", err)
	}
	if err := s.repo.UpsertCredential(ctx, userID, pageID, username, sealed); err != nil {
		return err
	}
	s.logger.Info("Credential saved", zap.Int64("user_id", userID), zap.Int64("page_id", pageID))
	return nil
}

func (s *Service) Delete(ctx context.Context, userID, pageID int64) error {
	if userID <= 0 {
		return ErrInvalidUser
	}
	if pageID <= 0 {
		return ErrInvalidPage
	}
	return s.repo.DeleteCredential(ctx, userID, pageID)
}

// IsValidationError reports whether err came from input validation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidUser) || errors.Is(err, ErrInvalidPage) ||
		errors.Is(err, ErrUsernameMissing) || errors.Is(err, ErrUsernameTooLong)
}
