// Package service holds the business operations of the store: catalog, cart,
// order placement, authentication, reporting and store settings. Services
// talk to MySQL through gorm; Redis, MongoDB and RabbitMQ are optional
// collaborators passed in as interfaces and may be nil.
package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/example/smartcart/pkg/apperr"
	"github.com/example/smartcart/pkg/models"
	"github.com/example/smartcart/pkg/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProductCache is the read-through cache in front of product rows.
type ProductCache interface {
	CacheProduct(ctx context.Context, p *models.Product) error
	GetProductCache(ctx context.Context, id int64) (*models.Product, bool, error)
	InvalidateProducts(ctx context.Context, ids ...int64) error
}

type AuditRecorder interface {
	CreateAuditLog(ctx context.Context, log *repository.AuditLog) error
}

// LoginLimiter counts failed logins per client key inside a sliding window.
type LoginLimiter interface {
	LoginAttempts(ctx context.Context, key string) (int, time.Duration, error)
	RecordLoginFailure(ctx context.Context, key string, window time.Duration) error
	ResetLoginAttempts(ctx context.Context, key string) error
}

const serviceName = "smartcart"

// forUpdate adds FOR UPDATE to the next query. SQLite has no row locks and
// serializes writers per database, so the clause is skipped there.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// storageErr passes application errors through and wraps anything else as a
// transaction failure.
func storageErr(err error, message string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Internal(err, message)
}

// detach keeps request values but drops cancellation, for work that must
// finish after the transaction committed.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}

func invalidateProducts(ctx context.Context, cache ProductCache, logger *zap.Logger, ids []int64) {
	if cache == nil || len(ids) == 0 {
		return
	}
	if err := cache.InvalidateProducts(ctx, ids...); err != nil {
		logger.Warn("product cache invalidation failed", zap.Int64s("product_ids", ids), zap.Error(err))
	}
}

type auditor struct {
	rec    AuditRecorder
	logger *zap.Logger
}

// record writes the entry in the background; audit failures never fail the
// operation that produced them.
func (a auditor) record(ctx context.Context, entry *repository.AuditLog) {
	if a.rec == nil {
		return
	}
	entry.Service = serviceName
	go func() {
		ctx, cancel := detach(ctx)
		defer cancel()
		if err := a.rec.CreateAuditLog(ctx, entry); err != nil {
			a.logger.Warn("failed to write audit log",
				zap.String("action", entry.Action),
				zap.String("entity_id", entry.EntityID),
				zap.Error(err))
		}
	}()
}

type Pagination struct {
	CurrentPage  int   `json:"current_page"`
	TotalPages   int   `json:"total_pages"`
	TotalItems   int64 `json:"total_items"`
	ItemsPerPage int   `json:"items_per_page"`
	HasNextPage  bool  `json:"has_next_page"`
	HasPrevPage  bool  `json:"has_prev_page"`
}

// pageBounds clamps page to >= 1 and limit to [1, max], using def when limit
// is unset, and returns the row offset.
func pageBounds(page, limit, def, max int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return page, limit, (page - 1) * limit
}

func newPagination(page, limit int, total int64) Pagination {
	pages := int(math.Ceil(float64(total) / float64(limit)))
	return Pagination{
		CurrentPage:  page,
		TotalPages:   pages,
		TotalItems:   total,
		ItemsPerPage: limit,
		HasNextPage:  page < pages,
		HasPrevPage:  page > 1,
	}
}
