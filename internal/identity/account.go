package identity

import "time"

const (
	providerPassword = "password"
	providerGoogle   = "google"
)

// Account 凭证记录，和 domain.User 档案共用主键。
// ConfirmedAt 为空表示邮箱还没确认（仅在开启确认开关时拦登录）
type Account struct {
	ID           string `gorm:"primaryKey;size:32"`
	Email        string `gorm:"size:120;uniqueIndex"`
	PasswordHash string `gorm:"size:100"`
	Provider     string `gorm:"size:20"`
	ConfirmedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Account) TableName() string { return "accounts" }
