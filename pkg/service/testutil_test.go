package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/smartcart/pkg/models"
	"github.com/example/smartcart/pkg/repository"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	timeout = time.Second
	tick    = 10 * time.Millisecond
)

// newTestDB opens a private in-memory SQLite database with the full schema.
// A single connection serializes transactions the way row locks do on MySQL.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, repository.Migrate(db))
	return db
}

func seedProduct(t *testing.T, db *gorm.DB, name, price string, stock int, category string) *models.Product {
	t.Helper()
	p := &models.Product{
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Category: category,
		Stock:    stock,
		Location: "Aisle 1",
		MapX:     100,
		MapY:     150,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func seedUser(t *testing.T, db *gorm.DB, username string, role models.Role) *models.User {
	t.Helper()
	u := &models.User{
		Username:     username,
		Email:        username + "@example.com",
		Name:         strings.ToUpper(username[:1]) + username[1:],
		PasswordHash: "unused",
		Role:         role,
		IsActive:     true,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func stockOf(t *testing.T, db *gorm.DB, id int64) int {
	t.Helper()
	var p models.Product
	require.NoError(t, db.First(&p, id).Error)
	return p.Stock
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

type published struct {
	key   string
	event interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{key: key, event: event})
	return p.err
}

func (p *recordingPublisher) published() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

type memoryAudit struct {
	mu   sync.Mutex
	logs []repository.AuditLog
}

func (a *memoryAudit) CreateAuditLog(_ context.Context, log *repository.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, *log)
	return nil
}

func (a *memoryAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.logs))
	for i, l := range a.logs {
		out[i] = l.Action
	}
	return out
}

type memoryCache struct {
	mu          sync.Mutex
	items       map[int64]models.Product
	invalidated []int64
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: make(map[int64]models.Product)}
}

func (c *memoryCache) CacheProduct(_ context.Context, p *models.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[p.ID] = *p
	return nil
}

func (c *memoryCache) GetProductCache(_ context.Context, id int64) (*models.Product, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.items[id]
	if !ok {
		return nil, false, nil
	}
	return &p, true, nil
}

func (c *memoryCache) InvalidateProducts(_ context.Context, ids ...int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.items, id)
	}
	c.invalidated = append(c.invalidated, ids...)
	return nil
}

func (c *memoryCache) has(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[id]
	return ok
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
