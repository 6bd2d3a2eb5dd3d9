package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/example/smartcart/pkg/apperr"
	"github.com/example/smartcart/pkg/models"
	"github.com/example/smartcart/pkg/repository"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// ProductInput is the body of a product create.
type ProductInput struct {
	Name     string          `json:"name" yaml:"name" validate:"required,max=255"`
	Price    decimal.Decimal `json:"price" yaml:"price"`
	Category string          `json:"category" yaml:"category" validate:"required,max=50"`
	Stock    int             `json:"stock" yaml:"stock" validate:"gte=0"`
	Location string          `json:"location" yaml:"location" validate:"max=100"`
	ImageURL string          `json:"image_url" yaml:"image_url" validate:"max=255"`
	RFIDTag  string          `json:"rfid_tag" yaml:"rfid_tag" validate:"max=50"`
	MapX     *int            `json:"map_x" yaml:"map_x"`
	MapY     *int            `json:"map_y" yaml:"map_y"`
}

func (in *ProductInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	in.Location = strings.TrimSpace(in.Location)
	in.RFIDTag = strings.TrimSpace(in.RFIDTag)
}

func (in *ProductInput) validate() error {
	in.normalize()
	if err := validateStruct(in); err != nil {
		return err
	}
	if in.Price.IsNegative() {
		return apperr.Validation("price must not be negative")
	}
	return nil
}

func (in *ProductInput) model() *models.Product {
	p := &models.Product{
		Name:     in.Name,
		Price:    in.Price.Round(2),
		Category: in.Category,
		Stock:    in.Stock,
		Location: in.Location,
		ImageURL: in.ImageURL,
		MapX:     100,
		MapY:     150,
	}
	if in.RFIDTag != "" {
		tag := in.RFIDTag
		p.RFIDTag = &tag
	}
	if in.MapX != nil {
		p.MapX = *in.MapX
	}
	if in.MapY != nil {
		p.MapY = *in.MapY
	}
	return p
}

// ProductUpdate is a partial update; nil fields are left unchanged. An empty
// RFIDTag clears the tag.
type ProductUpdate struct {
	Name     *string          `json:"name" validate:"omitempty,min=1,max=255"`
	Price    *decimal.Decimal `json:"price"`
	Category *string          `json:"category" validate:"omitempty,min=1,max=50"`
	Stock    *int             `json:"stock" validate:"omitempty,gte=0"`
	Location *string          `json:"location" validate:"omitempty,max=100"`
	ImageURL *string          `json:"image_url" validate:"omitempty,max=255"`
	RFIDTag  *string          `json:"rfid_tag" validate:"omitempty,max=50"`
	MapX     *int             `json:"map_x"`
	MapY     *int             `json:"map_y"`
}

type ProductFilter struct {
	Category  string
	Search    string
	MinPrice  *decimal.Decimal
	MaxPrice  *decimal.Decimal
	InStock   bool
	SortBy    string
	SortOrder string
	Page      int
	Limit     int
}

// ProductView is a product as listed to shoppers, with its aisle.
type ProductView struct {
	models.Product
	Aisle int `json:"aisle"`
}

type ProductPage struct {
	Products   []ProductView `json:"products"`
	Pagination Pagination    `json:"pagination"`
}

type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
	Aisle    int    `json:"aisle,omitempty"`
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type ProductLocation struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	Location  string  `json:"location"`
	Aisle     int     `json:"aisle"`
	Position  Point   `json:"position"`
	Path      []Point `json:"path"`
}

// storeEntrance is where every walking path starts on the store map.
var storeEntrance = Point{X: 50, Y: 400}

var productSortColumns = map[string]string{
	"name":       "name",
	"price":      "price",
	"stock":      "stock",
	"category":   "category",
	"created_at": "created_at",
}

type CatalogService struct {
	db     *gorm.DB
	cache  ProductCache
	audit  auditor
	logger *zap.Logger
	group  singleflight.Group
}

func NewCatalogService(db *gorm.DB, cache ProductCache, audit AuditRecorder, logger *zap.Logger) *CatalogService {
	return &CatalogService{
		db:     db,
		cache:  cache,
		audit:  auditor{rec: audit, logger: logger},
		logger: logger,
	}
}

func (s *CatalogService) List(ctx context.Context, f ProductFilter) (*ProductPage, error) {
	page, limit, offset := pageBounds(f.Page, f.Limit, 20, 100)

	q := s.db.WithContext(ctx).Model(&models.Product{})
	if c := strings.ToLower(strings.TrimSpace(f.Category)); c != "" && c != "all" {
		q = q.Where("category = ?", c)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("(LOWER(name) LIKE ? OR LOWER(category) LIKE ? OR LOWER(location) LIKE ?)", like, like, like)
	}
	if f.MinPrice != nil {
		q = q.Where("price >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		q = q.Where("price <= ?", *f.MaxPrice)
	}
	if f.InStock {
		q = q.Where("stock > 0")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, apperr.Internal(err, "failed to count products")
	}

	col, ok := productSortColumns[f.SortBy]
	if !ok {
		col = "name"
	}
	dir := "ASC"
	if strings.EqualFold(f.SortOrder, "desc") {
		dir = "DESC"
	}

	var products []models.Product
	if err := q.Order(col + " " + dir).Order("id ASC").Limit(limit).Offset(offset).Find(&products).Error; err != nil {
		return nil, apperr.Internal(err, "failed to list products")
	}

	return &ProductPage{
		Products:   views(products),
		Pagination: newPagination(page, limit, total),
	}, nil
}

func views(products []models.Product) []ProductView {
	out := make([]ProductView, len(products))
	for i, p := range products {
		out[i] = ProductView{Product: p, Aisle: models.Aisle(p.Category)}
	}
	return out
}

// Categories lists every category with its product count, preceded by an
// "all" entry holding the catalog total.
func (s *CatalogService) Categories(ctx context.Context) ([]CategoryCount, error) {
	var rows []CategoryCount
	err := s.db.WithContext(ctx).Model(&models.Product{}).
		Select("category, COUNT(*) AS count").
		Group("category").
		Order("category").
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to list categories")
	}

	var total int64
	for i := range rows {
		rows[i].Aisle = models.Aisle(rows[i].Category)
		total += rows[i].Count
	}
	return append([]CategoryCount{{Category: "all", Count: total}}, rows...), nil
}

// Get reads through the product cache. Concurrent misses for the same id
// share one database query.
func (s *CatalogService) Get(ctx context.Context, id int64) (*models.Product, error) {
	if id <= 0 {
		return nil, apperr.Validation("invalid product id")
	}
	if s.cache != nil {
		p, found, err := s.cache.GetProductCache(ctx, id)
		if err != nil {
			s.logger.Warn("product cache read failed", zap.Int64("product_id", id), zap.Error(err))
		} else if found {
			return p, nil
		}
	}

	v, err, _ := s.group.Do(strconv.FormatInt(id, 10), func() (interface{}, error) {
		// Shared by every waiter, so it must not die with the first caller.
		qctx, cancel := detach(ctx)
		defer cancel()
		var p models.Product
		if err := s.db.WithContext(qctx).First(&p, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.NotFound("product %d not found", id)
			}
			return nil, apperr.Internal(err, "failed to fetch product")
		}
		if s.cache != nil {
			if err := s.cache.CacheProduct(qctx, &p); err != nil {
				s.logger.Warn("product cache write failed", zap.Int64("product_id", id), zap.Error(err))
			}
		}
		return &p, nil
	})
	if err != nil {
		return nil, err
	}
	p := *v.(*models.Product)
	return &p, nil
}

func (s *CatalogService) GetByTag(ctx context.Context, tag string) (*models.Product, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, apperr.Validation("rfid tag is required")
	}
	var p models.Product
	res := s.db.WithContext(ctx).Where("rfid_tag = ?", tag).Limit(1).Find(&p)
	if res.Error != nil {
		return nil, apperr.Internal(res.Error, "failed to fetch product")
	}
	if res.RowsAffected == 0 {
		return nil, apperr.NotFound("no product with rfid tag %s", tag)
	}
	return &p, nil
}

func (s *CatalogService) ListByLocation(ctx context.Context, location string) ([]ProductView, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, apperr.Validation("location is required")
	}
	var products []models.Product
	err := s.db.WithContext(ctx).
		Where("LOWER(location) LIKE ?", "%"+strings.ToLower(location)+"%").
		Order("name").
		Find(&products).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to list products")
	}
	return views(products), nil
}

// Locate returns the product's aisle and map position, and the walking path
// from the store entrance.
func (s *CatalogService) Locate(ctx context.Context, id int64) (*ProductLocation, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	pos := Point{X: p.MapX, Y: p.MapY}
	return &ProductLocation{
		ProductID: p.ID,
		Name:      p.Name,
		Category:  p.Category,
		Location:  p.Location,
		Aisle:     models.Aisle(p.Category),
		Position:  pos,
		Path:      []Point{storeEntrance, pos},
	}, nil
}

func (s *CatalogService) Create(ctx context.Context, in ProductInput, actorID int64) (*models.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	p := in.model()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureTagFree(tx, p.RFIDTag, 0); err != nil {
			return err
		}
		return insertProduct(tx, p)
	})
	if err != nil {
		return nil, storageErr(err, "failed to create product")
	}

	s.logger.Info("product created", zap.Int64("product_id", p.ID), zap.String("name", p.Name))
	s.audit.record(ctx, &repository.AuditLog{
		Action:   "product.created",
		ActorID:  actorID,
		EntityID: productEntity(p.ID),
		Data:     bson.M{"name": p.Name, "price": p.Price.String(), "stock": p.Stock},
	})
	return p, nil
}

// BulkCreate inserts all products or none. Tags must be unique within the
// batch and against the catalog.
func (s *CatalogService) BulkCreate(ctx context.Context, inputs []ProductInput, actorID int64) ([]models.Product, error) {
	if len(inputs) == 0 {
		return nil, apperr.Validation("products must not be empty")
	}
	products := make([]models.Product, len(inputs))
	seen := make(map[string]int, len(inputs))
	for i := range inputs {
		if err := inputs[i].validate(); err != nil {
			return nil, apperr.Validation("product %d: %s", i+1, apperr.MessageOf(err))
		}
		if tag := inputs[i].RFIDTag; tag != "" {
			if j, dup := seen[tag]; dup {
				return nil, apperr.New(apperr.CodeDuplicateTag, "products %d and %d share rfid tag %s", j+1, i+1, tag)
			}
			seen[tag] = i
		}
		products[i] = *inputs[i].model()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range products {
			if err := ensureTagFree(tx, products[i].RFIDTag, 0); err != nil {
				return err
			}
		}
		for i := range products {
			if err := insertProduct(tx, &products[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(err, "failed to create products")
	}

	s.logger.Info("products bulk created", zap.Int("count", len(products)))
	s.audit.record(ctx, &repository.AuditLog{
		Action:   "product.bulk_created",
		ActorID:  actorID,
		EntityID: "product:bulk",
		Data:     bson.M{"count": len(products)},
	})
	return products, nil
}

func (s *CatalogService) Update(ctx context.Context, id int64, in ProductUpdate, actorID int64) (*models.Product, error) {
	if id <= 0 {
		return nil, apperr.Validation("invalid product id")
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if in.Price != nil && in.Price.IsNegative() {
		return nil, apperr.Validation("price must not be negative")
	}

	var p models.Product
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&p, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("product %d not found", id)
			}
			return err
		}
		applyUpdate(&p, in)
		if in.RFIDTag != nil {
			if err := ensureTagFree(tx, p.RFIDTag, p.ID); err != nil {
				return err
			}
		}
		if err := tx.Save(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.New(apperr.CodeDuplicateTag, "rfid tag %s already exists", *p.RFIDTag)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(err, "failed to update product")
	}

	s.invalidate(ctx, id)
	s.audit.record(ctx, &repository.AuditLog{
		Action:   "product.updated",
		ActorID:  actorID,
		EntityID: productEntity(id),
		Data:     bson.M{"name": p.Name, "price": p.Price.String(), "stock": p.Stock},
	})
	return &p, nil
}

func applyUpdate(p *models.Product, in ProductUpdate) {
	if in.Name != nil {
		p.Name = strings.TrimSpace(*in.Name)
	}
	if in.Price != nil {
		p.Price = in.Price.Round(2)
	}
	if in.Category != nil {
		p.Category = strings.ToLower(strings.TrimSpace(*in.Category))
	}
	if in.Stock != nil {
		p.Stock = *in.Stock
	}
	if in.Location != nil {
		p.Location = strings.TrimSpace(*in.Location)
	}
	if in.ImageURL != nil {
		p.ImageURL = *in.ImageURL
	}
	if in.RFIDTag != nil {
		if tag := strings.TrimSpace(*in.RFIDTag); tag != "" {
			p.RFIDTag = &tag
		} else {
			p.RFIDTag = nil
		}
	}
	if in.MapX != nil {
		p.MapX = *in.MapX
	}
	if in.MapY != nil {
		p.MapY = *in.MapY
	}
}

func (s *CatalogService) SetStock(ctx context.Context, id int64, stock int, actorID int64) (*models.Product, error) {
	if stock < 0 {
		return nil, apperr.Validation("stock must not be negative")
	}
	return s.Update(ctx, id, ProductUpdate{Stock: &stock}, actorID)
}

// Delete removes a product that no cart references. The check runs under
// the product row lock so a concurrent add-to-cart cannot slip in.
func (s *CatalogService) Delete(ctx context.Context, id int64, actorID int64) error {
	if id <= 0 {
		return apperr.Validation("invalid product id")
	}
	var p models.Product
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&p, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("product %d not found", id)
			}
			return err
		}
		var inCarts int64
		if err := tx.Model(&models.CartLine{}).Where("product_id = ?", id).Count(&inCarts).Error; err != nil {
			return err
		}
		if inCarts > 0 {
			return apperr.New(apperr.CodeProductInUse, "product %d is in %d cart(s)", id, inCarts)
		}
		return tx.Delete(&models.Product{}, id).Error
	})
	if err != nil {
		return storageErr(err, "failed to delete product")
	}

	s.invalidate(ctx, id)
	s.logger.Info("product deleted", zap.Int64("product_id", id))
	s.audit.record(ctx, &repository.AuditLog{
		Action:   "product.deleted",
		ActorID:  actorID,
		EntityID: productEntity(id),
		Data:     bson.M{"name": p.Name},
	})
	return nil
}

func (s *CatalogService) invalidate(ctx context.Context, ids ...int64) {
	invalidateProducts(ctx, s.cache, s.logger, ids)
}

func ensureTagFree(tx *gorm.DB, tag *string, exceptID int64) error {
	if tag == nil {
		return nil
	}
	var n int64
	if err := tx.Model(&models.Product{}).Where("rfid_tag = ? AND id <> ?", *tag, exceptID).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return apperr.New(apperr.CodeDuplicateTag, "rfid tag %s already exists", *tag)
	}
	return nil
}

func insertProduct(tx *gorm.DB, p *models.Product) error {
	if err := tx.Create(p).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.New(apperr.CodeDuplicateTag, "rfid tag already exists")
		}
		return err
	}
	return nil
}

func productEntity(id int64) string {
	return "product:" + strconv.FormatInt(id, 10)
}
