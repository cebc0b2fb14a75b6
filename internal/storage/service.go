package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"lostfound/internal/core/cache"
	"lostfound/internal/core/config"
	"lostfound/internal/domain"
	"lostfound/pkg/utils"
)

// 对象存储落在主库里：桶 + 对象两张表，读路径挂 Redis 读穿缓存。
// 物品照片体量小（归一化后 ≤1024 边长的 JPEG），不值得再引一套外部存储

type Bucket struct {
	ID        string `gorm:"primaryKey;size:32"`
	Name      string `gorm:"size:60;uniqueIndex"`
	Public    bool
	CreatedAt time.Time
}

func (Bucket) TableName() string { return "buckets" }

type Object struct {
	ID       string `gorm:"primaryKey;size:32"`
	BucketID string `gorm:"size:32;uniqueIndex:uk_bucket_key"`
	// key 在 MySQL 是保留字，列名避开
	Key         string `gorm:"column:object_key;size:200;uniqueIndex:uk_bucket_key"`
	ContentType string `gorm:"size:60"`
	Size        int64
	Data        []byte
	CreatedAt   time.Time
}

func (Object) TableName() string { return "objects" }

// Models 交给启动时 AutoMigrate
func Models() []any {
	return []any{&Bucket{}, &Object{}}
}

type Service struct {
	db  *gorm.DB
	c   *cache.Cache
	cfg config.Storage
	log *zap.Logger
}

func NewService(db *gorm.DB, c *cache.Cache, cfg config.Storage, log *zap.Logger) *Service {
	return &Service{db: db, c: c, cfg: cfg, log: log}
}

// UploadPhoto 归一化后写库，返回公开访问 URL
func (s *Service) UploadPhoto(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", domain.Invalid("photo", "empty file")
	}
	if maxBytes := s.cfg.MaxPhotoMB << 20; maxBytes > 0 && len(data) > maxBytes {
		return "", domain.Invalid("photo", "file too large")
	}
	norm, ct, err := normalizePhoto(data)
	if err != nil {
		return "", err
	}

	b, err := s.ensureBucket(ctx, s.cfg.Bucket)
	if err != nil {
		return "", domain.WrapRemote("ensureBucket", err)
	}
	key := utils.NewID() + ".jpg"
	obj := Object{
		ID:          utils.NewID(),
		BucketID:    b.ID,
		Key:         key,
		ContentType: ct,
		Size:        int64(len(norm)),
		Data:        norm,
	}
	if err := s.db.WithContext(ctx).Create(&obj).Error; err != nil {
		return "", domain.WrapRemote("storeObject", err)
	}
	s.log.Info("photo stored",
		zap.String("bucket", s.cfg.Bucket), zap.String("key", key), zap.Int64("size", obj.Size))
	return s.PublicURL(s.cfg.Bucket, key), nil
}

// ensureBucket 桶不存在就建一个公开桶，并发建撞了读现成的
func (s *Service) ensureBucket(ctx context.Context, name string) (*Bucket, error) {
	var b Bucket
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&b).Error
	if err == nil {
		return &b, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	b = Bucket{ID: utils.NewID(), Name: name, Public: true}
	if err := s.db.WithContext(ctx).Create(&b).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if err := s.db.WithContext(ctx).Where("name = ?", name).First(&b).Error; err != nil {
				return nil, err
			}
			return &b, nil
		}
		return nil, err
	}
	return &b, nil
}

func (s *Service) PublicURL(bucket, key string) string {
	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/storage/" + bucket + "/" + key
}

type storedObject struct {
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

// Fetch 读对象，热对象从 Redis 回，miss 才落库
func (s *Service) Fetch(ctx context.Context, bucket, key string) (string, []byte, error) {
	so, err := cache.GetOrLoadJSON(ctx, s.c, s.c.Key("obj", bucket, key), 10*time.Minute,
		func(ctx context.Context) (storedObject, error) {
			var obj Object
			err := s.db.WithContext(ctx).
				Joins("JOIN buckets ON buckets.id = objects.bucket_id").
				Where("buckets.name = ? AND objects.object_key = ?", bucket, key).
				First(&obj).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storedObject{}, domain.ErrNotFound
			}
			if err != nil {
				return storedObject{}, err
			}
			return storedObject{ContentType: obj.ContentType, Data: obj.Data}, nil
		})
	if err != nil {
		return "", nil, domain.WrapRemote("fetchObject", err)
	}
	return so.ContentType, so.Data, nil
}
