package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User 应用侧档案，和身份源的账号（identity.Account）一一对应，主键共用。
// 封禁走软删除：档案打上 DeletedAt 后会话解析即拒绝
type User struct {
	ID        string         `gorm:"primaryKey;size:32" json:"id"`
	Email     string         `gorm:"size:120;index" json:"email"`
	Name      string         `gorm:"size:60" json:"name"`
	Phone     string         `gorm:"size:20" json:"phone"`
	Role      string         `gorm:"size:16;default:user" json:"role"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string { return "profiles" }

func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

type ProfileRepository interface {
	Create(ctx context.Context, u *User) error
	// FindByID 只看未封禁档案，未命中返回 ErrNotFound
	FindByID(ctx context.Context, id string) (*User, error)
	// FindByIDAny 连封禁的一起查，给会话层区分「不存在」和「被禁用」
	FindByIDAny(ctx context.Context, id string) (*User, error)
	UpdateProfile(ctx context.Context, id, name, phone string) error
	// List 管理端分页，q 模糊匹配 name / email
	List(ctx context.Context, q string, offset, limit int) ([]User, int64, error)
	Ban(ctx context.Context, id string) error
	Unban(ctx context.Context, id string) error
}
