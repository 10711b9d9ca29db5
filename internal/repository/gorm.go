package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"naviguard/backend/internal/models"
)

// GormRepository backs the repository interfaces with gorm (MySQL).
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *GormRepository) ListPages(ctx context.Context) ([]models.Page, error) {
	var pages []models.Page
	if err := r.db.WithContext(ctx).Where("status = ?", 1).Order("name").Find(&pages).Error; err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	return pages, nil
}

func (r *GormRepository) GetPage(ctx context.Context, pageID int64) (*models.Page, error) {
	var page models.Page
	if err := r.db.WithContext(ctx).Where("id = ? AND status = ?", pageID, 1).First(&page).Error; err != nil {
		return nil, notFound(err)
	}
	return &page, nil
}

func (r *GormRepository) GetUserPageCredential(ctx context.Context, userID, pageID int64) (*models.UserPageCredential, error) {
	var cred models.UserPageCredential
	err := r.db.WithContext(ctx).
		Where("external_user_id = ? AND page_id = ? AND status = ?", userID, pageID, 1).
		First(&cred).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &cred, nil
}

func (r *GormRepository) GetPageCredential(ctx context.Context, pageID int64) (*models.PageCredential, error) {
	var cred models.PageCredential
	if err := r.db.WithContext(ctx).Where("page_id = ? AND status = ?", pageID, 1).First(&cred).Error; err != nil {
		return nil, notFound(err)
	}
	return &cred, nil
}

func (r *GormRepository) UpsertCredential(ctx context.Context, userID, pageID int64, username, password string) error {
	cred := models.UserPageCredential{
		ExternalUserID: userID,
		PageID:         pageID,
		Username:       username,
		Password:       password,
		Status:         1,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_user_id"}, {Name: "page_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "password", "status", "updated_at", "deleted_at"}),
	}).Create(&cred).Error
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (r *GormRepository) DeleteCredential(ctx context.Context, userID, pageID int64) error {
	err := r.db.WithContext(ctx).Model(&models.UserPageCredential{}).
		Where("external_user_id = ? AND page_id = ?", userID, pageID).
		Update("status", 0).Error
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

func (r *GormRepository) GetProxy(ctx context.Context) (*models.Proxy, error) {
	var proxy models.Proxy
	if err := r.db.WithContext(ctx).Order("id").First(&proxy).Error; err != nil {
		return nil, notFound(err)
	}
	return &proxy, nil
}

func (r *GormRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("username = ? AND status = ?", username, 1).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *GormRepository) ListEnabledSchedules(ctx context.Context) ([]models.MacroSchedule, error) {
	var schedules []models.MacroSchedule
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedules, nil
}

func (r *GormRepository) MarkScheduleRun(ctx context.Context, scheduleID int64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.MacroSchedule{}).
		Where("id = ?", scheduleID).
		Update("last_run_at", at).Error
}
