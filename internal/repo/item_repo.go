package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"lostfound/internal/domain"
	"lostfound/internal/realtime"
	"lostfound/pkg/utils"
)

// ItemRepo gorm 实现。每次写成功后向变更通道广播一条无负载通知，
// 其他实例（和本实例）的缓存收到后全量重载
type ItemRepo struct {
	db   *gorm.DB
	feed *realtime.Feed
}

func NewItemRepo(db *gorm.DB, feed *realtime.Feed) *ItemRepo {
	return &ItemRepo{db: db, feed: feed}
}

func (r *ItemRepo) List(ctx context.Context) ([]domain.Item, error) {
	var items []domain.Item
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&items).Error
	return items, err
}

func (r *ItemRepo) Create(ctx context.Context, it *domain.Item) error {
	if it.ID == "" {
		it.ID = utils.NewID()
	}
	if err := r.db.WithContext(ctx).Create(it).Error; err != nil {
		return err
	}
	r.feed.Publish(ctx)
	return nil
}

func (r *ItemRepo) UpdateStatus(ctx context.Context, id, status string) error {
	res := r.db.WithContext(ctx).Model(&domain.Item{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	// 0 行命中不算错：记录可能刚被并发删除，调用方按成功处理
	if res.RowsAffected > 0 {
		r.feed.Publish(ctx)
	}
	return nil
}

func (r *ItemRepo) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Item{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		r.feed.Publish(ctx)
	}
	return nil
}

func (r *ItemRepo) DeleteWhere(ctx context.Context, f domain.ItemFilter) (int64, error) {
	tx := r.db.WithContext(ctx)
	if f.DateFrom != nil {
		tx = tx.Where("date >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		tx = tx.Where("date <= ?", *f.DateTo)
	}
	if t := f.Type; t != "" && t != "all" {
		tx = tx.Where("type = ?", t)
	}
	if f.Unconstrained() {
		// 无条件即全删。gorm 拒绝裸删全表，这里显式放行
		tx = tx.Where("1 = 1")
	}
	res := tx.Delete(&domain.Item{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		r.feed.Publish(ctx)
	}
	return res.RowsAffected, nil
}

func (r *ItemRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&domain.Item{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		r.feed.Publish(ctx)
	}
	return res.RowsAffected, nil
}
