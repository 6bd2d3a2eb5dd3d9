package service

import (
	"context"
	"time"

	"github.com/example/smartcart/pkg/apperr"
	"github.com/example/smartcart/pkg/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Dashboard revenue figures count delivered orders only.
type Dashboard struct {
	TotalProducts     int64           `json:"total_products"`
	TotalOrders       int64           `json:"total_orders"`
	TotalCustomers    int64           `json:"total_customers"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	AverageOrderValue decimal.Decimal `json:"average_order_value"`
	PendingOrders     int64           `json:"pending_orders"`
}

type PopularProduct struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	TotalSold int64           `json:"total_sold"`
	Revenue   decimal.Decimal `json:"revenue"`
}

type Activity struct {
	OrderID   int64              `json:"order_id"`
	UserID    int64              `json:"user_id"`
	UserName  string             `json:"user_name"`
	Total     decimal.Decimal    `json:"total"`
	Status    models.OrderStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
}

type CustomerSummary struct {
	ID         int64           `json:"id"`
	Username   string          `json:"username"`
	Email      string          `json:"email"`
	Name       string          `json:"name"`
	CreatedAt  time.Time       `json:"created_at"`
	LastLogin  *time.Time      `json:"last_login"`
	OrderCount int64           `json:"order_count"`
	TotalSpent decimal.Decimal `json:"total_spent"`
}

type ReportService struct {
	db *gorm.DB
}

func NewReportService(db *gorm.DB) *ReportService {
	return &ReportService{db: db}
}

func (s *ReportService) Dashboard(ctx context.Context) (*Dashboard, error) {
	db := s.db.WithContext(ctx)
	d := &Dashboard{}

	if err := db.Model(&models.Product{}).Count(&d.TotalProducts).Error; err != nil {
		return nil, apperr.Internal(err, "failed to count products")
	}

	var row struct {
		TotalOrders    int64
		TotalCustomers int64
		PendingOrders  int64
	}
	err := db.Model(&models.Order{}).
		Select(`COUNT(*) AS total_orders, COUNT(DISTINCT user_id) AS total_customers,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending_orders`, models.OrderPending).
		Scan(&row).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to count orders")
	}
	d.TotalOrders, d.TotalCustomers, d.PendingOrders = row.TotalOrders, row.TotalCustomers, row.PendingOrders

	var delivered struct {
		Count   int64
		Revenue decimal.Decimal
	}
	err = db.Model(&models.Order{}).
		Select("COUNT(*) AS count, COALESCE(SUM(total), 0) AS revenue").
		Where("status = ?", models.OrderDelivered).
		Scan(&delivered).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to sum revenue")
	}
	d.TotalRevenue = delivered.Revenue.Round(2)
	d.AverageOrderValue = decimal.Zero
	if delivered.Count > 0 {
		d.AverageOrderValue = d.TotalRevenue.Div(decimal.NewFromInt(delivered.Count)).Round(2)
	}
	return d, nil
}

// PopularProducts ranks products by units sold in delivered orders.
func (s *ReportService) PopularProducts(ctx context.Context, limit int) ([]PopularProduct, error) {
	_, limit, _ = pageBounds(1, limit, 10, 100)
	var rows []PopularProduct
	err := s.db.WithContext(ctx).Table("order_items AS oi").
		Select(`p.id, p.name, p.category, p.price,
			SUM(oi.quantity) AS total_sold, SUM(oi.quantity * oi.price) AS revenue`).
		Joins("JOIN orders o ON o.id = oi.order_id").
		Joins("JOIN products p ON p.id = oi.product_id").
		Where("o.status = ?", models.OrderDelivered).
		Group("p.id, p.name, p.category, p.price").
		Order("total_sold DESC").Order("p.id").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to rank products")
	}
	for i := range rows {
		rows[i].Revenue = rows[i].Revenue.Round(2)
	}
	return rows, nil
}

func (s *ReportService) RecentActivity(ctx context.Context, limit int) ([]Activity, error) {
	_, limit, _ = pageBounds(1, limit, 10, 100)
	var rows []Activity
	err := s.db.WithContext(ctx).Table("orders AS o").
		Select("o.id AS order_id, o.user_id, COALESCE(u.name, '') AS user_name, o.total, o.status, o.created_at").
		Joins("LEFT JOIN users u ON u.id = o.user_id").
		Order("o.id DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to load recent activity")
	}
	return rows, nil
}

// Customers lists customer accounts with their delivered-order count and
// spend, biggest spenders first.
func (s *ReportService) Customers(ctx context.Context) ([]CustomerSummary, error) {
	var rows []CustomerSummary
	err := s.db.WithContext(ctx).Table("users AS u").
		Select(`u.id, u.username, u.email, u.name, u.created_at, u.last_login,
			COUNT(o.id) AS order_count, COALESCE(SUM(o.total), 0) AS total_spent`).
		Joins("LEFT JOIN orders o ON o.user_id = u.id AND o.status = ?", models.OrderDelivered).
		Where("u.role = ?", models.RoleCustomer).
		Group("u.id, u.username, u.email, u.name, u.created_at, u.last_login").
		Order("total_spent DESC").Order("u.id").
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to list customers")
	}
	for i := range rows {
		rows[i].TotalSpent = rows[i].TotalSpent.Round(2)
	}
	return rows, nil
}
