package models

import "time"

// CartLine is one product held in one user's cart. (UserID, ProductID) is
// unique: adding a product twice merges quantities into the same row.
type CartLine struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	UserID    int64     `gorm:"not null;uniqueIndex:idx_cart_user_product,priority:1" json:"user_id"`
	ProductID int64     `gorm:"not null;uniqueIndex:idx_cart_user_product,priority:2;index" json:"product_id"`
	Quantity  int       `gorm:"not null;default:1" json:"quantity"`
	AddedAt   time.Time `gorm:"autoCreateTime" json:"added_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CartLine) TableName() string {
	return "cart_items"
}
