package domain

import (
	"context"
	"time"
)

const (
	TypeNormal    = "normal"
	TypeEmergency = "emergency"

	StatusLost  = "lost"
	StatusFound = "found"
)

// Item 失物 / 拾物记录。userName / userPhone 是发布时的联系方式快照，
// 不跟档案联动。date 是丢失 / 拾获的事件日期，区别于 createdAt
type Item struct {
	ID          string    `gorm:"primaryKey;size:32" json:"id"`
	UserID      string    `gorm:"size:32;index" json:"userId"`
	UserName    string    `gorm:"size:60" json:"userName"`
	UserPhone   string    `gorm:"size:20" json:"userPhone"`
	ProductName string    `gorm:"size:120" json:"productName"`
	Photo       *string   `gorm:"size:500" json:"photo"`
	Location    string    `gorm:"size:200" json:"location"`
	Description string    `gorm:"size:500" json:"description,omitempty"`
	Date        time.Time `gorm:"index" json:"date"`
	Type        string    `gorm:"size:16;index" json:"type"`
	Status      string    `gorm:"size:16" json:"status"`
	CreatedAt   time.Time `gorm:"index" json:"createdAt"`
}

func (Item) TableName() string { return "items" }

func (i *Item) IsEmergency() bool { return i.Type == TypeEmergency }

// ItemFilter 批量删除条件。日期区间两端都含当天；Type 为空或 "all" 表示不限
type ItemFilter struct {
	DateFrom *time.Time
	DateTo   *time.Time
	Type     string
}

func (f ItemFilter) Unconstrained() bool {
	return f.DateFrom == nil && f.DateTo == nil && (f.Type == "" || f.Type == "all")
}

// Matches 内存快照上的等价判断，语义与 ItemRepository.DeleteWhere 的 SQL 一致
func (f ItemFilter) Matches(it *Item) bool {
	if f.DateFrom != nil && it.Date.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && it.Date.After(*f.DateTo) {
		return false
	}
	if t := f.Type; t != "" && t != "all" && it.Type != t {
		return false
	}
	return true
}

type ItemRepository interface {
	// List 全量拉取，createdAt 倒序
	List(ctx context.Context) ([]Item, error)
	Create(ctx context.Context, it *Item) error
	// UpdateStatus 只改 status 一个字段，按 id 定位；0 行命中不算错
	UpdateStatus(ctx context.Context, id, status string) error
	Delete(ctx context.Context, id string) error
	// DeleteWhere 按过滤条件批量删，返回删除行数
	DeleteWhere(ctx context.Context, f ItemFilter) (int64, error)
	// DeleteOlderThan 清理 createdAt 早于 cutoff 的记录（保留期清扫用）
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
