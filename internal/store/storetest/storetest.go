// Package storetest 为各服务的集成测试提供隔离的内存 sqlite 与种子数据。
package storetest

import (
	"fmt"
	"testing"
	"time"

	"tailor_hub/internal/model"
	"tailor_hub/internal/store"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// New 每个测试一个独立的共享缓存内存库，测试结束自动关闭。
func New(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := store.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Customer 插入一个客户。
func Customer(t testing.TB, db *gorm.DB) model.Customer {
	t.Helper()
	c := model.Customer{Name: "customer", Email: "c@example.com", Address: "12 Lake Road"}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return c
}

// Vendor 插入一个已认证、可接单、带结算账户的供应商。
func Vendor(t testing.TB, db *gorm.DB, mutate ...func(*model.Vendor)) model.Vendor {
	t.Helper()
	fund := "fa_" + uuid.NewString()[:8]
	v := model.Vendor{
		Name:          "vendor",
		Address:       "7 Mill Street",
		IsVerified:    true,
		Status:        model.VendorActive,
		FundAccountID: &fund,
	}
	for _, m := range mutate {
		m(&v)
	}
	if err := db.Create(&v).Error; err != nil {
		t.Fatalf("seed vendor: %v", err)
	}
	return v
}

// Vendors 批量插入 n 个可接单供应商。
func Vendors(t testing.TB, db *gorm.DB, n int) []model.Vendor {
	t.Helper()
	out := make([]model.Vendor, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Vendor(t, db))
	}
	return out
}

// VendorIDs 取 id 列表。
func VendorIDs(vs []model.Vendor) []string {
	ids := make([]string, 0, len(vs))
	for _, v := range vs {
		ids = append(ids, v.ID)
	}
	return ids
}

// Order 插入一个 PENDING 订单及其初始时间线。
func Order(t testing.TB, db *gorm.DB, customerID string, clothProvided bool) model.Order {
	t.Helper()
	now := time.Now().UTC()
	o := model.Order{
		CustomerID:    customerID,
		ServiceType:   "alteration",
		RequiredBy:    now.Add(14 * 24 * time.Hour),
		ClothProvided: clothProvided,
		PickupAddress: "12 Lake Road",
		OrderStatus:   model.OrderPending,
		Stage:         model.OrderPending,
	}
	o.StatusTimestamps.MarkFirst(model.OrderPending, now)
	if err := db.Create(&o).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	entry := model.TimelineEntry{
		OrderID:   o.ID,
		NewStatus: model.OrderPending,
		ActorID:   customerID,
		ActorRole: model.RoleCustomer,
	}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("seed timeline: %v", err)
	}
	return o
}

// Backdate 把某表一行的 created_at 改到过去，用于窗口与过期测试。
func Backdate(t testing.TB, db *gorm.DB, value any, id string, age time.Duration) {
	t.Helper()
	at := time.Now().UTC().Add(-age)
	if err := db.Model(value).Where("id = ?", id).UpdateColumn("created_at", at).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}
}
