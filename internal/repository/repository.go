// Package repository is the data-access boundary for page metadata, stored
// credentials, proxies, operators and macro schedules.
package repository

import (
	"context"
	"errors"
	"time"

	"naviguard/backend/internal/models"
)

var ErrNotFound = errors.New("record not found")

type PageRepository interface {
	ListPages(ctx context.Context) ([]models.Page, error)
	GetPage(ctx context.Context, pageID int64) (*models.Page, error)
}

type CredentialRepository interface {
	GetUserPageCredential(ctx context.Context, userID, pageID int64) (*models.UserPageCredential, error)
	GetPageCredential(ctx context.Context, pageID int64) (*models.PageCredential, error)
	UpsertCredential(ctx context.Context, userID, pageID int64, username, password string) error
	DeleteCredential(ctx context.Context, userID, pageID int64) error
}

type ProxyRepository interface {
	GetProxy(ctx context.Context) (*models.Proxy, error)
}

type UserRepository interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

type ScheduleRepository interface {
	ListEnabledSchedules(ctx context.Context) ([]models.MacroSchedule, error)
	MarkScheduleRun(ctx context.Context, scheduleID int64, at time.Time) error
}

// Repository is implemented by both the gorm and the pgx backends.
type Repository interface {
	PageRepository
	CredentialRepository
	ProxyRepository
	UserRepository
	ScheduleRepository
}
