package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        int64           `gorm:"primaryKey" json:"id"`
	Name      string          `gorm:"type:varchar(255);not null" json:"name"`
	Price     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	Category  string          `gorm:"type:varchar(50);index" json:"category"`
	Stock     int             `gorm:"not null;default:0" json:"stock"`
	Location  string          `gorm:"type:varchar(100)" json:"location"`
	ImageURL  string          `gorm:"type:varchar(255)" json:"image_url"`
	RFIDTag   *string         `gorm:"type:varchar(50);uniqueIndex" json:"rfid_tag"`
	MapX      int             `gorm:"default:100" json:"map_x"`
	MapY      int             `gorm:"default:150" json:"map_y"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}

var aisleByCategory = map[string]int{
	"fruits":    1,
	"bakery":    2,
	"dairy":     3,
	"beverages": 4,
	"meat":      5,
}

// Aisle returns the store aisle for a category. Unknown categories are
// shelved in aisle 1.
func Aisle(category string) int {
	if n, ok := aisleByCategory[category]; ok {
		return n
	}
	return 1
}
