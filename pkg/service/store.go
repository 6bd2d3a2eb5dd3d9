package service

import (
	"context"
	"strings"

	"github.com/example/smartcart/pkg/apperr"
	"github.com/example/smartcart/pkg/models"
	"github.com/example/smartcart/pkg/repository"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const settingsID = 1

type SettingsInput struct {
	StoreName        string          `json:"store_name" validate:"required,max=100"`
	Currency         string          `json:"currency" validate:"required,len=3"`
	TaxRate          decimal.Decimal `json:"tax_rate"`
	DefaultAisleSize int             `json:"default_aisle_size" validate:"gte=0"`
}

type AisleInput struct {
	Number   int    `json:"number" validate:"gt=0"`
	Name     string `json:"name" validate:"required,max=100"`
	Category string `json:"category" validate:"max=50"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Width    int    `json:"width" validate:"gte=0"`
	Height   int    `json:"height" validate:"gte=0"`
}

type StoreService struct {
	db     *gorm.DB
	audit  auditor
	logger *zap.Logger
}

func NewStoreService(db *gorm.DB, audit AuditRecorder, logger *zap.Logger) *StoreService {
	return &StoreService{db: db, audit: auditor{rec: audit, logger: logger}, logger: logger}
}

// Settings returns the stored settings, or nil when none were saved yet.
func (s *StoreService) Settings(ctx context.Context) (*models.StoreSettings, error) {
	var st models.StoreSettings
	res := s.db.WithContext(ctx).Where("id = ?", settingsID).Limit(1).Find(&st)
	if res.Error != nil {
		return nil, apperr.Internal(res.Error, "failed to fetch settings")
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &st, nil
}

func (s *StoreService) SaveSettings(ctx context.Context, in SettingsInput, actorID int64) (*models.StoreSettings, error) {
	in.StoreName = strings.TrimSpace(in.StoreName)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if err := validateStruct(&in); err != nil {
		return nil, err
	}
	if in.TaxRate.IsNegative() || in.TaxRate.GreaterThan(decimal.NewFromInt(100)) {
		return nil, apperr.Validation("tax_rate must be between 0 and 100")
	}

	st := models.StoreSettings{
		ID:               settingsID,
		StoreName:        in.StoreName,
		Currency:         in.Currency,
		TaxRate:          in.TaxRate.Round(2),
		DefaultAisleSize: in.DefaultAisleSize,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"store_name", "currency", "tax_rate", "default_aisle_size", "updated_at"}),
	}).Create(&st).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to save settings")
	}

	s.logger.Info("store settings updated", zap.Int64("actor_id", actorID))
	s.audit.record(ctx, &repository.AuditLog{
		Action:   "settings.updated",
		ActorID:  actorID,
		EntityID: "settings",
		Data:     bson.M{"store_name": st.StoreName, "currency": st.Currency, "tax_rate": st.TaxRate.String()},
	})
	return &st, nil
}

func (s *StoreService) Layout(ctx context.Context) ([]models.StoreAisle, error) {
	var aisles []models.StoreAisle
	if err := s.db.WithContext(ctx).Order("aisle_number").Order("id").Find(&aisles).Error; err != nil {
		return nil, apperr.Internal(err, "failed to fetch store layout")
	}
	return aisles, nil
}

// ReplaceLayout swaps the whole layout in one transaction.
func (s *StoreService) ReplaceLayout(ctx context.Context, in []AisleInput, actorID int64) ([]models.StoreAisle, error) {
	aisles := make([]models.StoreAisle, len(in))
	for i := range in {
		in[i].Category = strings.ToLower(strings.TrimSpace(in[i].Category))
		if err := validateStruct(&in[i]); err != nil {
			return nil, apperr.Validation("aisle %d: %s", i+1, apperr.MessageOf(err))
		}
		aisles[i] = models.StoreAisle{
			AisleNumber: in[i].Number,
			AisleName:   strings.TrimSpace(in[i].Name),
			Category:    in[i].Category,
			PositionX:   in[i].X,
			PositionY:   in[i].Y,
			Width:       in[i].Width,
			Height:      in[i].Height,
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.StoreAisle{}).Error; err != nil {
			return err
		}
		if len(aisles) == 0 {
			return nil
		}
		return tx.Create(&aisles).Error
	})
	if err != nil {
		return nil, apperr.Internal(err, "failed to update store layout")
	}

	s.logger.Info("store layout replaced", zap.Int("aisles", len(aisles)), zap.Int64("actor_id", actorID))
	s.audit.record(ctx, &repository.AuditLog{
		Action:   "layout.replaced",
		ActorID:  actorID,
		EntityID: "layout",
		Data:     bson.M{"aisles": len(aisles)},
	})
	return aisles, nil
}
