package items

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"lostfound/internal/domain"
	"lostfound/internal/realtime"
)

// Cache 物品集合的本地镜像。读走快照，写先落远端、成功才改本地；
// 变更通知不带负载，收到就整表重载（多实例下这是最简单的正确做法）
type Cache struct {
	repo domain.ItemRepository
	feed *realtime.Feed
	log  *zap.Logger

	mu       sync.RWMutex
	items    []domain.Item
	loaded   bool
	degraded bool
	sf       singleflight.Group
}

func NewCache(r domain.ItemRepository, feed *realtime.Feed, log *zap.Logger) *Cache {
	return &Cache{repo: r, feed: feed, log: log}
}

// Reload 整表拉取并替换快照。拉取失败不把页面留空：装兜底样例，
// 等下一次通知或清扫再试
func (c *Cache) Reload(ctx context.Context) error {
	_, err, _ := c.sf.Do("reload", func() (any, error) {
		list, err := c.repo.List(ctx)
		if err != nil {
			c.log.Error("load items, falling back to samples", zap.Error(err))
			c.install(fallbackItems(), true)
			return nil, domain.Remote("loadItems", err)
		}
		c.install(list, false)
		return nil, nil
	})
	return err
}

func (c *Cache) EnsureLoaded(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}
	return c.Reload(ctx)
}

// Degraded 当前快照是否为兜底样例
func (c *Cache) Degraded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.degraded
}

// Items 全量快照，createdAt 倒序
func (c *Cache) Items(ctx context.Context) []domain.Item {
	_ = c.EnsureLoaded(ctx)
	return c.snapshot()
}

// UserItems 某用户发布的物品
func (c *Cache) UserItems(ctx context.Context, userID string) []domain.Item {
	return c.filter(ctx, func(it *domain.Item) bool { return it.UserID == userID })
}

// EmergencyItems 紧急物品。和 NormalItems 互斥，两者并起来就是全量
func (c *Cache) EmergencyItems(ctx context.Context) []domain.Item {
	return c.filter(ctx, func(it *domain.Item) bool { return it.IsEmergency() })
}

func (c *Cache) NormalItems(ctx context.Context) []domain.Item {
	return c.filter(ctx, func(it *domain.Item) bool { return !it.IsEmergency() })
}

func (c *Cache) ItemByID(ctx context.Context, id string) (*domain.Item, error) {
	_ = c.EnsureLoaded(ctx)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.items {
		if c.items[i].ID == id {
			it := c.items[i]
			return &it, nil
		}
	}
	return nil, domain.ErrNotFound
}

type AddInput struct {
	ProductName string
	Phone       string
	Location    string
	Description string
	Date        time.Time
	Type        string
	Status      string
	Photo       *string
}

// AddItem 写远端成功后把回来的规范记录插到快照头部，免掉一次整表重载。
// 联系人信息取发布时刻的快照，之后改档案不回填
func (c *Cache) AddItem(ctx context.Context, user *domain.User, in AddInput) (*domain.Item, error) {
	if user == nil {
		return nil, domain.ErrLoginRequired
	}
	if err := validateInput(&in); err != nil {
		return nil, err
	}
	// 先把快照落好，省得头插的记录被首次惰性加载整表覆盖
	_ = c.EnsureLoaded(ctx)

	it := &domain.Item{
		UserID:      user.ID,
		UserName:    user.Name,
		UserPhone:   in.Phone,
		ProductName: in.ProductName,
		Photo:       in.Photo,
		Location:    in.Location,
		Description: in.Description,
		Date:        in.Date,
		Type:        in.Type,
		Status:      in.Status,
	}
	if it.UserPhone == "" {
		it.UserPhone = user.Phone
	}
	if err := c.repo.Create(ctx, it); err != nil {
		return nil, domain.Remote("addItem", err)
	}
	c.prepend(*it)
	return it, nil
}

func validateInput(in *AddInput) error {
	if in.Type == "" {
		in.Type = domain.TypeNormal
	}
	if in.Status == "" {
		in.Status = domain.StatusLost
	}
	if in.Type != domain.TypeNormal && in.Type != domain.TypeEmergency {
		return domain.Invalid("type", "must be normal or emergency")
	}
	if in.Status != domain.StatusLost && in.Status != domain.StatusFound {
		return domain.Invalid("status", "must be lost or found")
	}
	if in.Date.IsZero() {
		return domain.Invalid("date", "required")
	}
	return nil
}

// UpdateStatus 远端改成功后按 id 补本地那一条
func (c *Cache) UpdateStatus(ctx context.Context, id, status string) error {
	if status != domain.StatusLost && status != domain.StatusFound {
		return domain.Invalid("status", "must be lost or found")
	}
	if err := c.repo.UpdateStatus(ctx, id, status); err != nil {
		return domain.Remote("updateItemStatus", err)
	}
	c.patchStatus(id, status)
	return nil
}

// Delete 本人或管理员可删。先查快照确认归属，远端删成功再摘本地
func (c *Cache) Delete(ctx context.Context, user *domain.User, id string) error {
	if user == nil {
		return domain.ErrLoginRequired
	}
	_ = c.EnsureLoaded(ctx)
	it, err := c.ItemByID(ctx, id)
	if err != nil {
		return err
	}
	if it.UserID != user.ID && !user.IsAdmin() {
		return domain.ErrNotOwner
	}
	if err := c.repo.Delete(ctx, id); err != nil {
		return domain.Remote("deleteItem", err)
	}
	c.removeLocal(id)
	return nil
}

// DeleteByFilter 管理员批量删除。非管理员在发起远端调用之前就被拒绝；
// 删多少行调用方不知道，做完整表重载而不是本地补
func (c *Cache) DeleteByFilter(ctx context.Context, user *domain.User, f domain.ItemFilter) (int64, error) {
	if user == nil {
		return 0, domain.ErrLoginRequired
	}
	if !user.IsAdmin() {
		return 0, domain.ErrAdminRequired
	}
	n, err := c.repo.DeleteWhere(ctx, f)
	if err != nil {
		return 0, domain.Remote("deleteItemsByFilter", err)
	}
	if err := c.Reload(ctx); err != nil {
		c.log.Warn("reload after bulk delete", zap.Error(err))
	}
	return n, nil
}

// Run 消费变更通知直到 ctx 结束，每条通知触发一次整表重载
func (c *Cache) Run(ctx context.Context) error {
	ch, stop, err := c.feed.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer stop()
	c.log.Info("item cache subscribed to change feed")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ch:
			if !ok {
				return errors.New("change feed closed")
			}
			if err := c.Reload(ctx); err != nil {
				c.log.Warn("reload after change notification", zap.Error(err))
			}
		}
	}
}

func (c *Cache) filter(ctx context.Context, keep func(*domain.Item) bool) []domain.Item {
	_ = c.EnsureLoaded(ctx)
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Item, 0, len(c.items))
	for i := range c.items {
		if keep(&c.items[i]) {
			out = append(out, c.items[i])
		}
	}
	return out
}

func (c *Cache) snapshot() []domain.Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Item, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Cache) install(items []domain.Item, degraded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = items
	c.loaded = true
	c.degraded = degraded
}

func (c *Cache) prepend(it domain.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append([]domain.Item{it}, c.items...)
}

func (c *Cache) patchStatus(id, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ID == id {
			c.items[i].Status = status
			return
		}
	}
}

func (c *Cache) removeLocal(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return
		}
	}
}
