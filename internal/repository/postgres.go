package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"naviguard/backend/internal/models"
)

// DBPool is the subset of pgxpool.Pool used here, so tests can substitute pgxmock.
type DBPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRepository reads the browser_app schema.
type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const (
	sqlListPages = `
		SELECT page_id, page_name, COALESCE(description, ''), url,
		       requires_proxy, requires_login, requires_custom_login,
		       requires_redirects, created_at
		FROM browser_app.pages
		WHERE state = 1
		ORDER BY page_name;`

	sqlGetPage = `
		SELECT page_id, page_name, COALESCE(description, ''), url,
		       requires_proxy, requires_login, requires_custom_login,
		       requires_redirects, created_at
		FROM browser_app.pages
		WHERE page_id = $1 AND state = 1;`

	sqlGetUserPageCredential = `
		SELECT pagreqlg_id, external_user_id, page_id, COALESCE(username, ''), COALESCE(password, '')
		FROM browser_app.pages_requires_login
		WHERE external_user_id = $1 AND page_id = $2 AND state = 1;`

	sqlGetPageCredential = `
		SELECT page_credential_id, page_id, username, password
		FROM browser_app.page_credentials
		WHERE page_id = $1 AND state = 1
		LIMIT 1;`

	sqlUpsertCredential = `
		INSERT INTO browser_app.pages_requires_login (external_user_id, page_id, username, password, state)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (external_user_id, page_id) DO UPDATE SET
		    username = EXCLUDED.username,
		    password = EXCLUDED.password,
		    state = 1;`

	sqlDeleteCredential = `
		UPDATE browser_app.pages_requires_login
		SET state = 0
		WHERE external_user_id = $1 AND page_id = $2;`

	sqlGetProxy = `
		SELECT proxy_id, host, port, COALESCE(username, ''), COALESCE(password, '')
		FROM browser_app.proxies
		WHERE proxy_id IS NOT NULL
		LIMIT 1;`

	sqlGetUserByUsername = `
		SELECT user_id, username, COALESCE(full_name, ''), password_hash
		FROM browser_app.users
		WHERE username = $1 AND state = 1;`

	sqlListSchedules = `
		SELECT schedule_id, name, macro_name, cron_expr, external_user_id
		FROM browser_app.macro_schedules
		WHERE enabled = TRUE;`

	sqlMarkScheduleRun = `
		UPDATE browser_app.macro_schedules
		SET last_run_at = $2
		WHERE schedule_id = $1;`
)

func noRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func scanPage(row pgx.Row) (*models.Page, error) {
	var p models.Page
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.URL,
		&p.RequiresProxy, &p.RequiresLogin, &p.RequiresCustomLogin,
		&p.RequiresRedirects, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = 1
	return &p, nil
}

func (r *PostgresRepository) ListPages(ctx context.Context) ([]models.Page, error) {
	rows, err := r.pool.Query(ctx, sqlListPages)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	pages := []models.Page{}
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		pages = append(pages, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	return pages, nil
}

func (r *PostgresRepository) GetPage(ctx context.Context, pageID int64) (*models.Page, error) {
	p, err := scanPage(r.pool.QueryRow(ctx, sqlGetPage, pageID))
	if err != nil {
		return nil, noRows(err)
	}
	return p, nil
}

func (r *PostgresRepository) GetUserPageCredential(ctx context.Context, userID, pageID int64) (*models.UserPageCredential, error) {
	var c models.UserPageCredential
	err := r.pool.QueryRow(ctx, sqlGetUserPageCredential, userID, pageID).
		Scan(&c.ID, &c.ExternalUserID, &c.PageID, &c.Username, &c.Password)
	if err != nil {
		return nil, noRows(err)
	}
	c.Status = 1
	return &c, nil
}

func (r *PostgresRepository) GetPageCredential(ctx context.Context, pageID int64) (*models.PageCredential, error) {
	var c models.PageCredential
	err := r.pool.QueryRow(ctx, sqlGetPageCredential, pageID).
		Scan(&c.ID, &c.PageID, &c.Username, &c.Password)
	if err != nil {
		return nil, noRows(err)
	}
	c.Status = 1
	return &c, nil
}

func (r *PostgresRepository) UpsertCredential(ctx context.Context, userID, pageID int64, username, password string) error {
	if _, err := r.pool.Exec(ctx, sqlUpsertCredential, userID, pageID, nullable(username), nullable(password)); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteCredential(ctx context.Context, userID, pageID int64) error {
	if _, err := r.pool.Exec(ctx, sqlDeleteCredential, userID, pageID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetProxy(ctx context.Context) (*models.Proxy, error) {
	var p models.Proxy
	err := r.pool.QueryRow(ctx, sqlGetProxy).Scan(&p.ID, &p.Host, &p.Port, &p.Username, &p.Password)
	if err != nil {
		return nil, noRows(err)
	}
	return &p, nil
}

func (r *PostgresRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, sqlGetUserByUsername, username).Scan(&u.ID, &u.Username, &u.FullName, &u.Password)
	if err != nil {
		return nil, noRows(err)
	}
	u.Status = 1
	return &u, nil
}

func (r *PostgresRepository) ListEnabledSchedules(ctx context.Context) ([]models.MacroSchedule, error) {
	rows, err := r.pool.Query(ctx, sqlListSchedules)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	schedules := []models.MacroSchedule{}
	for rows.Next() {
		s := models.MacroSchedule{Enabled: true}
		if err := rows.Scan(&s.ID, &s.Name, &s.MacroName, &s.CronExpr, &s.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (r *PostgresRepository) MarkScheduleRun(ctx context.Context, scheduleID int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, sqlMarkScheduleRun, scheduleID, at)
	return err
}

// nullable stores empty strings as NULL, matching rows written by the desktop client.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
