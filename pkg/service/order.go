package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/example/smartcart/pkg/apperr"
	"github.com/example/smartcart/pkg/events"
	"github.com/example/smartcart/pkg/models"
	"github.com/example/smartcart/pkg/repository"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultPaymentMethod = "cash"

// priceTolerance is how far a client's expected unit price may drift from
// the catalog price before the order is rejected.
var priceTolerance = decimal.New(1, -2)

// OrderLine is one requested line of an explicit order. ExpectedPrice is the
// unit price the client displayed.
type OrderLine struct {
	ProductID     int64           `json:"product_id"`
	Quantity      int             `json:"quantity"`
	ExpectedPrice decimal.Decimal `json:"price"`
}

// PlaceOrderRequest with nil Items orders the user's persisted cart.
type PlaceOrderRequest struct {
	UserID        int64
	PaymentMethod string
	Items         []OrderLine
}

type PlacedOrder struct {
	OrderID       int64              `json:"order_id"`
	Total         decimal.Decimal    `json:"total"`
	ItemCount     int                `json:"item_count"`
	Status        models.OrderStatus `json:"status"`
	PaymentMethod string             `json:"payment_method"`
}

type OrderSummary struct {
	ID            int64              `json:"id"`
	UserID        int64              `json:"user_id"`
	Total         decimal.Decimal    `json:"total"`
	Status        models.OrderStatus `json:"status"`
	PaymentMethod string             `json:"payment_method"`
	UserName      string             `json:"user_name,omitempty"`
	UserEmail     string             `json:"user_email,omitempty"`
	ItemCount     int64              `json:"item_count"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

type OrderItemView struct {
	OrderID   int64           `json:"-"`
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	ImageURL  string          `json:"image_url"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type OrderDetail struct {
	OrderSummary
	Items []OrderItemView `json:"items,omitempty"`
}

type OrderPage struct {
	Orders     []OrderDetail `json:"orders"`
	Pagination Pagination    `json:"pagination"`
}

type OrderFilter struct {
	Status string
	UserID int64
	From   *time.Time
	To     *time.Time
	Page   int
	Limit  int
}

type StatusChange struct {
	OrderID        int64              `json:"order_id"`
	PreviousStatus models.OrderStatus `json:"previous_status"`
	Status         models.OrderStatus `json:"status"`
}

type OrderStats struct {
	TotalOrders       int64           `json:"total_orders"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	AverageOrderValue decimal.Decimal `json:"average_order_value"`
	PendingOrders     int64           `json:"pending_orders"`
	DeliveredOrders   int64           `json:"delivered_orders"`
	CancelledOrders   int64           `json:"cancelled_orders"`
}

type OrderService struct {
	db        *gorm.DB
	cache     ProductCache
	publisher events.Publisher
	audit     auditor
	logger    *zap.Logger
}

func NewOrderService(db *gorm.DB, cache ProductCache, publisher events.Publisher, audit AuditRecorder, logger *zap.Logger) *OrderService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &OrderService{
		db:        db,
		cache:     cache,
		publisher: publisher,
		audit:     auditor{rec: audit, logger: logger},
		logger:    logger,
	}
}

func (s *OrderService) PlaceFromCart(ctx context.Context, userID int64, paymentMethod string) (*PlacedOrder, error) {
	return s.PlaceOrder(ctx, PlaceOrderRequest{UserID: userID, PaymentMethod: paymentMethod})
}

func (s *OrderService) PlaceItems(ctx context.Context, userID int64, items []OrderLine, paymentMethod string) (*PlacedOrder, error) {
	if items == nil {
		items = []OrderLine{}
	}
	return s.PlaceOrder(ctx, PlaceOrderRequest{UserID: userID, PaymentMethod: paymentMethod, Items: items})
}

func checkPlaceRequest(req *PlaceOrderRequest, fromCart bool) error {
	if req.UserID <= 0 {
		return apperr.Validation("invalid user id")
	}
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	if req.PaymentMethod == "" {
		req.PaymentMethod = defaultPaymentMethod
	}
	if len(req.PaymentMethod) > 50 {
		return apperr.Validation("payment_method must be at most 50 characters")
	}
	if fromCart {
		return nil
	}
	if len(req.Items) == 0 {
		return apperr.Validation("items must not be empty")
	}
	for i, l := range req.Items {
		switch {
		case l.ProductID <= 0:
			return apperr.Validation("item %d: invalid product id", i+1)
		case l.Quantity <= 0:
			return apperr.Validation("item %d: quantity must be greater than 0", i+1)
		case !l.ExpectedPrice.Round(2).IsPositive():
			return apperr.Validation("item %d: price must be greater than 0", i+1)
		}
	}
	return nil
}

// PlaceOrder validates and commits an order in one transaction: product rows
// are locked in id order, stock and prices are checked, order and items are
// inserted, stock is decremented with a guarded update and, for the cart
// flow, the cart is emptied. Any failure rolls back all of it. Losers of a
// race for the last units fail with InsufficientStock and are not retried.
func (s *OrderService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlacedOrder, error) {
	fromCart := req.Items == nil
	if err := checkPlaceRequest(&req, fromCart); err != nil {
		return nil, err
	}

	var (
		placed     PlacedOrder
		productIDs []int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lines := req.Items
		if fromCart {
			var cart []models.CartLine
			if err := forUpdate(tx).Where("user_id = ?", req.UserID).Order("id").Find(&cart).Error; err != nil {
				return err
			}
			if len(cart) == 0 {
				return apperr.Validation("cart is empty")
			}
			lines = make([]OrderLine, len(cart))
			for i, c := range cart {
				lines[i] = OrderLine{ProductID: c.ProductID, Quantity: c.Quantity}
			}
		}

		demand := make(map[int64]int, len(lines))
		for _, l := range lines {
			demand[l.ProductID] += l.Quantity
		}
		productIDs = make([]int64, 0, len(demand))
		for id := range demand {
			productIDs = append(productIDs, id)
		}
		sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })

		products, err := lockProducts(tx, productIDs)
		if err != nil {
			return err
		}
		for _, id := range productIDs {
			p, ok := products[id]
			if !ok {
				return apperr.NotFound("product %d not found", id)
			}
			if p.Stock < demand[id] {
				return insufficientStock(p, demand[id])
			}
		}

		items := make([]models.OrderItem, len(lines))
		total := decimal.Zero
		for i, l := range lines {
			p := products[l.ProductID]
			price := p.Price
			if !fromCart {
				if p.Price.Sub(l.ExpectedPrice).Abs().GreaterThan(priceTolerance) {
					return apperr.New(apperr.CodePriceMismatch, "price of %s changed from %s to %s",
						p.Name, l.ExpectedPrice.String(), p.Price.StringFixed(2))
				}
				price = l.ExpectedPrice.Round(2)
			}
			items[i] = models.OrderItem{
				ProductID:   p.ID,
				ProductName: p.Name,
				Quantity:    l.Quantity,
				Price:       price,
			}
			total = total.Add(items[i].Subtotal())
		}

		order := models.Order{
			UserID:        req.UserID,
			Total:         total,
			Status:        models.OrderPending,
			PaymentMethod: req.PaymentMethod,
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = order.ID
		}
		if err := tx.Create(&items).Error; err != nil {
			return err
		}

		for _, id := range productIDs {
			res := tx.Model(&models.Product{}).
				Where("id = ? AND stock >= ?", id, demand[id]).
				Update("stock", gorm.Expr("stock - ?", demand[id]))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return insufficientStock(products[id], demand[id])
			}
		}

		if fromCart {
			if err := tx.Where("user_id = ?", req.UserID).Delete(&models.CartLine{}).Error; err != nil {
				return err
			}
		}

		placed = PlacedOrder{
			OrderID:       order.ID,
			Total:         total,
			ItemCount:     len(items),
			Status:        order.Status,
			PaymentMethod: order.PaymentMethod,
		}
		return nil
	})
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeTransactionFailure {
			s.logger.Error("order transaction failed", zap.Int64("user_id", req.UserID), zap.Error(err))
		}
		return nil, storageErr(err, "failed to create order")
	}

	s.afterPlace(ctx, req, &placed, productIDs, fromCart)
	return &placed, nil
}

// afterPlace runs once the order is committed; its failures are logged only.
func (s *OrderService) afterPlace(ctx context.Context, req PlaceOrderRequest, placed *PlacedOrder, productIDs []int64, fromCart bool) {
	invalidateProducts(ctx, s.cache, s.logger, productIDs)

	pctx, cancel := detach(ctx)
	defer cancel()
	err := s.publisher.Publish(pctx, events.OrderPlacedKey, events.OrderPlaced{
		OrderID:       placed.OrderID,
		UserID:        req.UserID,
		Total:         placed.Total,
		ItemCount:     placed.ItemCount,
		PaymentMethod: placed.PaymentMethod,
		PlacedAt:      time.Now(),
	})
	if err != nil {
		s.logger.Warn("failed to publish order event", zap.Int64("order_id", placed.OrderID), zap.Error(err))
	}

	source := "items"
	if fromCart {
		source = "cart"
	}
	s.audit.record(ctx, &repository.AuditLog{
		Action:   "order.placed",
		ActorID:  req.UserID,
		EntityID: orderEntity(placed.OrderID),
		Data: bson.M{
			"total":          placed.Total.StringFixed(2),
			"item_count":     placed.ItemCount,
			"payment_method": placed.PaymentMethod,
			"source":         source,
		},
	})
	s.logger.Info("order placed",
		zap.Int64("order_id", placed.OrderID),
		zap.Int64("user_id", req.UserID),
		zap.String("total", placed.Total.StringFixed(2)),
		zap.String("source", source))
}

// lockProducts reads the products with FOR UPDATE in ascending id order so
// concurrent orders acquire row locks in the same sequence.
func lockProducts(tx *gorm.DB, ids []int64) (map[int64]*models.Product, error) {
	var list []models.Product
	if err := forUpdate(tx).Where("id IN ?", ids).Order("id").Find(&list).Error; err != nil {
		return nil, err
	}
	out := make(map[int64]*models.Product, len(list))
	for i := range list {
		out[list[i].ID] = &list[i]
	}
	return out, nil
}

func insufficientStock(p *models.Product, want int) error {
	return apperr.New(apperr.CodeInsufficientStock, "insufficient stock for %s: requested %d, available %d", p.Name, want, p.Stock)
}

func (s *OrderService) GetOrder(ctx context.Context, id int64) (*OrderDetail, error) {
	if id <= 0 {
		return nil, apperr.Validation("invalid order id")
	}
	var rows []OrderSummary
	if err := s.summaryQuery(ctx).Where("o.id = ?", id).Scan(&rows).Error; err != nil {
		return nil, apperr.Internal(err, "failed to fetch order")
	}
	if len(rows) == 0 {
		return nil, apperr.NotFound("order %d not found", id)
	}
	items, err := s.itemsFor(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	return &OrderDetail{OrderSummary: rows[0], Items: items[id]}, nil
}

// ListUserOrders returns one user's orders with their items, newest first.
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64, f OrderFilter) (*OrderPage, error) {
	if userID <= 0 {
		return nil, apperr.Validation("invalid user id")
	}
	f.UserID = userID
	page, err := s.list(ctx, f, 10, 50)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(page.Orders))
	for i, o := range page.Orders {
		ids[i] = o.ID
	}
	items, err := s.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range page.Orders {
		page.Orders[i].Items = items[page.Orders[i].ID]
	}
	return page, nil
}

// ListOrders is the admin listing across all users.
func (s *OrderService) ListOrders(ctx context.Context, f OrderFilter) (*OrderPage, error) {
	return s.list(ctx, f, 20, 100)
}

func (s *OrderService) list(ctx context.Context, f OrderFilter, defLimit, maxLimit int) (*OrderPage, error) {
	if f.Status != "" && !models.OrderStatus(f.Status).Valid() {
		return nil, apperr.Validation("invalid status %q", f.Status)
	}
	page, limit, offset := pageBounds(f.Page, f.Limit, defLimit, maxLimit)

	var total int64
	if err := f.apply(s.db.WithContext(ctx).Table("orders AS o")).Count(&total).Error; err != nil {
		return nil, apperr.Internal(err, "failed to count orders")
	}

	var rows []OrderSummary
	err := f.apply(s.summaryQuery(ctx)).
		Order("o.created_at DESC").Order("o.id DESC").
		Limit(limit).Offset(offset).
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to list orders")
	}

	orders := make([]OrderDetail, len(rows))
	for i := range rows {
		orders[i] = OrderDetail{OrderSummary: rows[i]}
	}
	return &OrderPage{Orders: orders, Pagination: newPagination(page, limit, total)}, nil
}

func (f OrderFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Status != "" {
		q = q.Where("o.status = ?", f.Status)
	}
	if f.UserID > 0 {
		q = q.Where("o.user_id = ?", f.UserID)
	}
	if f.From != nil {
		q = q.Where("o.created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("o.created_at <= ?", *f.To)
	}
	return q
}

func (s *OrderService) summaryQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table("orders AS o").
		Select(`o.id, o.user_id, o.total, o.status, o.payment_method, o.created_at, o.updated_at,
			COALESCE(u.name, '') AS user_name, COALESCE(u.email, '') AS user_email,
			COUNT(oi.id) AS item_count`).
		Joins("LEFT JOIN users u ON u.id = o.user_id").
		Joins("LEFT JOIN order_items oi ON oi.order_id = o.id").
		Group("o.id, o.user_id, o.total, o.status, o.payment_method, o.created_at, o.updated_at, u.name, u.email")
}

func (s *OrderService) itemsFor(ctx context.Context, orderIDs []int64) (map[int64][]OrderItemView, error) {
	out := make(map[int64][]OrderItemView, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	var rows []OrderItemView
	err := s.db.WithContext(ctx).Table("order_items AS oi").
		Select(`oi.order_id, oi.product_id, oi.product_name AS name,
			COALESCE(p.category, '') AS category, COALESCE(p.image_url, '') AS image_url,
			oi.quantity, oi.price`).
		Joins("LEFT JOIN products p ON p.id = oi.product_id").
		Where("oi.order_id IN ?", orderIDs).
		Order("oi.id").
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to load order items")
	}
	for _, it := range rows {
		it.Subtotal = it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))).Round(2)
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, nil
}

// UpdateStatus moves an order to a new status. Stock is not adjusted;
// cancelling an order does not restock its products.
func (s *OrderService) UpdateStatus(ctx context.Context, id int64, status string, actorID int64) (*StatusChange, error) {
	if id <= 0 {
		return nil, apperr.Validation("invalid order id")
	}
	next := models.OrderStatus(strings.ToLower(strings.TrimSpace(status)))
	if !next.Valid() {
		return nil, apperr.Validation("invalid status %q", status)
	}

	var change StatusChange
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := forUpdate(tx).First(&order, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("order %d not found", id)
			}
			return err
		}
		change = StatusChange{OrderID: id, PreviousStatus: order.Status, Status: next}
		return tx.Model(&order).Update("status", next).Error
	})
	if err != nil {
		return nil, storageErr(err, "failed to update order status")
	}

	pctx, cancel := detach(ctx)
	defer cancel()
	err = s.publisher.Publish(pctx, events.OrderStatusChangedKey, events.OrderStatusChanged{
		OrderID:        id,
		PreviousStatus: string(change.PreviousStatus),
		Status:         string(change.Status),
		ChangedAt:      time.Now(),
	})
	if err != nil {
		s.logger.Warn("failed to publish status event", zap.Int64("order_id", id), zap.Error(err))
	}
	s.audit.record(ctx, &repository.AuditLog{
		Action:   "order.status_changed",
		ActorID:  actorID,
		EntityID: orderEntity(id),
		Data:     bson.M{"from": string(change.PreviousStatus), "to": string(change.Status)},
	})
	s.logger.Info("order status updated",
		zap.Int64("order_id", id),
		zap.String("from", string(change.PreviousStatus)),
		zap.String("to", string(change.Status)))
	return &change, nil
}

func (s *OrderService) Stats(ctx context.Context) (*OrderStats, error) {
	var row struct {
		TotalOrders     int64
		TotalRevenue    decimal.Decimal
		PendingOrders   int64
		DeliveredOrders int64
		CancelledOrders int64
	}
	err := s.db.WithContext(ctx).Model(&models.Order{}).
		Select(`COUNT(*) AS total_orders,
			COALESCE(SUM(total), 0) AS total_revenue,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending_orders,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS delivered_orders,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS cancelled_orders`,
			models.OrderPending, models.OrderDelivered, models.OrderCancelled).
		Scan(&row).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to compute order stats")
	}

	stats := &OrderStats{
		TotalOrders:       row.TotalOrders,
		TotalRevenue:      row.TotalRevenue.Round(2),
		AverageOrderValue: decimal.Zero,
		PendingOrders:     row.PendingOrders,
		DeliveredOrders:   row.DeliveredOrders,
		CancelledOrders:   row.CancelledOrders,
	}
	if row.TotalOrders > 0 {
		stats.AverageOrderValue = stats.TotalRevenue.Div(decimal.NewFromInt(row.TotalOrders)).Round(2)
	}
	return stats, nil
}

func orderEntity(id int64) string {
	return "order:" + strconv.FormatInt(id, 10)
}
