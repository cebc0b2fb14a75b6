package repo

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"lostfound/internal/domain"
)

// NewTestDB 进程内 sqlite，建好全部领域表，各包测试共用。
// 内存库一条连接一个库，必须限制连接池为 1
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&domain.User{}, &domain.Item{}); err != nil {
		t.Fatalf("migrating test schema: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}
