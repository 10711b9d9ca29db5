package models

import (
	"net"
	"strconv"
	"time"

	"gorm.io/gorm"
)

type BaseModel struct {
	ID        int64          `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// User is an operator of the host application.
type User struct {
	BaseModel
	Username string `json:"username" gorm:"uniqueIndex;size:100;not null"`
	FullName string `json:"full_name" gorm:"size:200"`
	Password string `json:"-" gorm:"size:255;not null"`
	Status   int    `json:"status" gorm:"default:1"` // 1:active, 0:inactive
}

// Page is a curated internal web page opened inside a browser session.
type Page struct {
	BaseModel
	Name                string `json:"name" gorm:"size:200;not null"`
	Description         string `json:"description" gorm:"size:500"`
	URL                 string `json:"url" gorm:"size:1000;not null"`
	RequiresProxy       bool   `json:"requires_proxy" gorm:"default:false"`
	RequiresLogin       bool   `json:"requires_login" gorm:"default:false"`
	RequiresCustomLogin bool   `json:"requires_custom_login" gorm:"default:false"`
	RequiresRedirects   bool   `json:"requires_redirects" gorm:"default:false"`
	Status              int    `json:"status" gorm:"default:1"`
}

// UserPageCredential is a custom login for one user on one page.
type UserPageCredential struct {
	BaseModel
	ExternalUserID int64  `json:"external_user_id" gorm:"uniqueIndex:idx_user_page;not null"`
	PageID         int64  `json:"page_id" gorm:"uniqueIndex:idx_user_page;not null"`
	Username       string `json:"username" gorm:"size:100"`
	Password       string `json:"-" gorm:"size:512"`
	Status         int    `json:"status" gorm:"default:1"`
}

// PageCredential is a login shared by every user of a page.
type PageCredential struct {
	BaseModel
	PageID   int64  `json:"page_id" gorm:"uniqueIndex;not null"`
	Username string `json:"username" gorm:"size:100;not null"`
	Password string `json:"-" gorm:"size:512;not null"`
	Status   int    `json:"status" gorm:"default:1"`
}

type Proxy struct {
	BaseModel
	Host     string `json:"host" gorm:"size:255;not null"`
	Port     int    `json:"port" gorm:"not null"`
	Username string `json:"username" gorm:"size:100"`
	Password string `json:"-" gorm:"size:255"`
}

// Address returns host:port, or "" when the row is unusable.
func (p *Proxy) Address() string {
	if p == nil || p.Host == "" || p.Port <= 0 || p.Port > 65535 {
		return ""
	}
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// MacroSchedule replays a stored macro on a cron expression.
type MacroSchedule struct {
	BaseModel
	Name      string     `json:"name" gorm:"size:100;not null"`
	MacroName string     `json:"macro_name" gorm:"size:255;not null"`
	CronExpr  string     `json:"cron_expr" gorm:"size:100;not null"`
	UserID    int64      `json:"user_id" gorm:"not null"`
	Enabled   bool       `json:"enabled" gorm:"default:true"`
	LastRunAt *time.Time `json:"last_run_at"`
}

// Credential is a resolved username/password pair ready for injection.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"-"`
}

// UserSession identifies the operator a browser session acts for.
type UserSession struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// IsLoggedIn is false for a nil session.
func (s *UserSession) IsLoggedIn() bool {
	return s != nil && s.UserID > 0
}
