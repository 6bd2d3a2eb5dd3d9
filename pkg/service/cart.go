package service

import (
	"context"
	"errors"
	"time"

	"github.com/example/smartcart/pkg/apperr"
	"github.com/example/smartcart/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CartItem is a cart line joined with the live product row.
type CartItem struct {
	LineID    int64           `json:"cart_item_id"`
	ProductID int64           `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Category  string          `json:"category"`
	Stock     int             `json:"stock"`
	Location  string          `json:"location"`
	ImageURL  string          `json:"image_url"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	AddedAt   time.Time       `json:"added_at"`
}

type Cart struct {
	UserID    int64           `json:"user_id"`
	Items     []CartItem      `json:"items"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"item_count"`
}

type CartSummary struct {
	ItemCount int64           `json:"item_count"`
	Total     decimal.Decimal `json:"total"`
}

type CartService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewCartService(db *gorm.DB, logger *zap.Logger) *CartService {
	return &CartService{db: db, logger: logger}
}

// GetCart recomputes subtotals and the total from current catalog prices.
func (s *CartService) GetCart(ctx context.Context, userID int64) (*Cart, error) {
	if userID <= 0 {
		return nil, apperr.Validation("invalid user id")
	}
	var items []CartItem
	err := s.db.WithContext(ctx).Table("cart_items AS ci").
		Select(`ci.id AS line_id, ci.product_id, ci.quantity, ci.added_at,
			p.name, p.price, p.category, p.stock, p.location, p.image_url`).
		Joins("JOIN products p ON p.id = ci.product_id").
		Where("ci.user_id = ?", userID).
		Order("ci.added_at DESC").Order("ci.id DESC").
		Scan(&items).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to load cart")
	}

	cart := &Cart{UserID: userID, Items: items, Total: decimal.Zero}
	if cart.Items == nil {
		cart.Items = []CartItem{}
	}
	for i := range cart.Items {
		it := &cart.Items[i]
		it.Subtotal = it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))).Round(2)
		cart.Total = cart.Total.Add(it.Subtotal)
	}
	cart.ItemCount = len(cart.Items)
	return cart, nil
}

func (s *CartService) Summary(ctx context.Context, userID int64) (*CartSummary, error) {
	if userID <= 0 {
		return nil, apperr.Validation("invalid user id")
	}
	var row CartSummary
	err := s.db.WithContext(ctx).Table("cart_items AS ci").
		Select("COUNT(*) AS item_count, COALESCE(SUM(ci.quantity * p.price), 0) AS total").
		Joins("JOIN products p ON p.id = ci.product_id").
		Where("ci.user_id = ?", userID).
		Scan(&row).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to summarize cart")
	}
	row.Total = row.Total.Round(2)
	return &row, nil
}

// AddItem merges quantity into the user's line for the product, creating it
// when absent. The merged quantity may not exceed stock.
func (s *CartService) AddItem(ctx context.Context, userID, productID int64, quantity int) (*models.CartLine, error) {
	if userID <= 0 || productID <= 0 {
		return nil, apperr.Validation("user id and product id are required")
	}
	if quantity <= 0 {
		return nil, apperr.Validation("quantity must be greater than 0")
	}

	var line models.CartLine
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := lockProduct(tx, productID)
		if err != nil {
			return err
		}
		if p.Stock < quantity {
			return apperr.New(apperr.CodeInsufficientStock, "insufficient stock for %s: %d available", p.Name, p.Stock)
		}

		res := tx.Where("user_id = ? AND product_id = ?", userID, productID).Limit(1).Find(&line)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			line = models.CartLine{UserID: userID, ProductID: productID, Quantity: quantity}
			return tx.Create(&line).Error
		}

		merged := line.Quantity + quantity
		if merged > p.Stock {
			return apperr.New(apperr.CodeInsufficientStock,
				"cannot add %d more %s: %d in cart, %d available", quantity, p.Name, line.Quantity, p.Stock)
		}
		line.Quantity = merged
		return tx.Save(&line).Error
	})
	if err != nil {
		return nil, storageErr(err, "failed to add item to cart")
	}
	return &line, nil
}

func (s *CartService) UpdateQuantity(ctx context.Context, lineID int64, quantity int) (*models.CartLine, error) {
	if lineID <= 0 {
		return nil, apperr.Validation("invalid cart item id")
	}
	if quantity <= 0 {
		return nil, apperr.Validation("quantity must be greater than 0")
	}

	var line models.CartLine
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&line, lineID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("cart item %d not found", lineID)
			}
			return err
		}
		p, err := lockProduct(tx, line.ProductID)
		if err != nil {
			return err
		}
		if quantity > p.Stock {
			return apperr.New(apperr.CodeInsufficientStock, "insufficient stock for %s: %d available", p.Name, p.Stock)
		}
		line.Quantity = quantity
		return tx.Save(&line).Error
	})
	if err != nil {
		return nil, storageErr(err, "failed to update cart item")
	}
	return &line, nil
}

// Line returns a single cart line; the gateway uses it to check ownership.
func (s *CartService) Line(ctx context.Context, lineID int64) (*models.CartLine, error) {
	if lineID <= 0 {
		return nil, apperr.Validation("invalid cart item id")
	}
	var line models.CartLine
	if err := s.db.WithContext(ctx).First(&line, lineID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("cart item %d not found", lineID)
		}
		return nil, apperr.Internal(err, "failed to load cart item")
	}
	return &line, nil
}

func (s *CartService) RemoveItem(ctx context.Context, lineID int64) error {
	if lineID <= 0 {
		return apperr.Validation("invalid cart item id")
	}
	res := s.db.WithContext(ctx).Delete(&models.CartLine{}, lineID)
	if res.Error != nil {
		return apperr.Internal(res.Error, "failed to remove cart item")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("cart item %d not found", lineID)
	}
	return nil
}

func (s *CartService) RemoveProduct(ctx context.Context, userID, productID int64) error {
	if userID <= 0 || productID <= 0 {
		return apperr.Validation("user id and product id are required")
	}
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Delete(&models.CartLine{})
	if res.Error != nil {
		return apperr.Internal(res.Error, "failed to remove cart item")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("product %d is not in the cart", productID)
	}
	return nil
}

// Clear empties the cart and returns how many lines were removed.
func (s *CartService) Clear(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, apperr.Validation("invalid user id")
	}
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.CartLine{})
	if res.Error != nil {
		return 0, apperr.Internal(res.Error, "failed to clear cart")
	}
	s.logger.Debug("cart cleared", zap.Int64("user_id", userID), zap.Int64("lines", res.RowsAffected))
	return res.RowsAffected, nil
}

func lockProduct(tx *gorm.DB, id int64) (*models.Product, error) {
	var p models.Product
	if err := forUpdate(tx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("product %d not found", id)
		}
		return nil, err
	}
	return &p, nil
}
