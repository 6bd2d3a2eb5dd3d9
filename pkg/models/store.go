package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StoreSettings is a single-row table; the row always has ID 1.
type StoreSettings struct {
	ID               int64           `gorm:"primaryKey;autoIncrement:false" json:"-"`
	StoreName        string          `gorm:"type:varchar(100)" json:"store_name"`
	Currency         string          `gorm:"type:varchar(10)" json:"currency"`
	TaxRate          decimal.Decimal `gorm:"type:decimal(5,2)" json:"tax_rate"`
	DefaultAisleSize int             `json:"default_aisle_size"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (StoreSettings) TableName() string {
	return "store_settings"
}

type StoreAisle struct {
	ID          int64  `gorm:"primaryKey" json:"-"`
	AisleNumber int    `gorm:"not null;index" json:"aisle_number"`
	AisleName   string `gorm:"type:varchar(100)" json:"aisle_name"`
	Category    string `gorm:"type:varchar(50)" json:"category"`
	PositionX   int    `json:"position_x"`
	PositionY   int    `json:"position_y"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

func (StoreAisle) TableName() string {
	return "store_layout"
}

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&User{}, &Product{}, &CartLine{}, &Order{}, &OrderItem{}, &StoreSettings{}, &StoreAisle{},
	}
}
