package gateway

import (
	"net/http"
	"strconv"

	"github.com/example/smartcart/pkg/apperr"
	"github.com/example/smartcart/pkg/models"
	"github.com/example/smartcart/pkg/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// listProducts godoc
// @Summary List products
// @Tags products
// @Produce json
// @Param category query string false "category, or all"
// @Param search query string false "matches name, category or location"
// @Param min_price query number false "minimum price"
// @Param max_price query number false "maximum price"
// @Param in_stock query bool false "only products with stock"
// @Param sort query string false "name, price, stock, category or created_at"
// @Param order query string false "asc or desc"
// @Param page query int false "page"
// @Param limit query int false "page size"
// @Router /api/products [get]
func (g *Gateway) listProducts(c *gin.Context) {
	f := service.ProductFilter{
		Category:  c.Query("category"),
		Search:    c.Query("search"),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
		Page:      queryInt(c, "page"),
		Limit:     queryInt(c, "limit"),
	}
	var err error
	if f.MinPrice, err = queryDecimal(c, "min_price"); err != nil {
		g.fail(c, err)
		return
	}
	if f.MaxPrice, err = queryDecimal(c, "max_price"); err != nil {
		g.fail(c, err)
		return
	}
	if v := c.Query("in_stock"); v != "" {
		f.InStock, _ = strconv.ParseBool(v)
	}

	page, err := g.services.Catalog.List(c.Request.Context(), f)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func queryDecimal(c *gin.Context, key string) (*decimal.Decimal, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, apperr.Validation("%s must be a number", key)
	}
	return &d, nil
}

func (g *Gateway) categories(c *gin.Context) {
	cats, err := g.services.Catalog.Categories(c.Request.Context())
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": cats})
}

func (g *Gateway) getProduct(c *gin.Context) {
	id, ok := g.idParam(c, "id")
	if !ok {
		return
	}
	p, err := g.services.Catalog.Get(c.Request.Context(), id)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": service.ProductView{Product: *p, Aisle: models.Aisle(p.Category)}})
}

func (g *Gateway) locateProduct(c *gin.Context) {
	id, ok := g.idParam(c, "id")
	if !ok {
		return
	}
	loc, err := g.services.Catalog.Locate(c.Request.Context(), id)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"location": loc})
}

func (g *Gateway) productByTag(c *gin.Context) {
	p, err := g.services.Catalog.GetByTag(c.Request.Context(), c.Param("tag"))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": service.ProductView{Product: *p, Aisle: models.Aisle(p.Category)}})
}

func (g *Gateway) productsByLocation(c *gin.Context) {
	products, err := g.services.Catalog.ListByLocation(c.Request.Context(), c.Param("location"))
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (g *Gateway) createProduct(c *gin.Context) {
	var in service.ProductInput
	if !g.bind(c, &in) {
		return
	}
	p, err := g.services.Catalog.Create(c.Request.Context(), in, principal(c).UserID)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Product created successfully", "product": p})
}

type bulkProductsRequest struct {
	Products []service.ProductInput `json:"products"`
}

func (g *Gateway) bulkCreateProducts(c *gin.Context) {
	var req bulkProductsRequest
	if !g.bind(c, &req) {
		return
	}
	products, err := g.services.Catalog.BulkCreate(c.Request.Context(), req.Products, principal(c).UserID)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":  "Products created successfully",
		"count":    len(products),
		"products": products,
	})
}

func (g *Gateway) updateProduct(c *gin.Context) {
	id, ok := g.idParam(c, "id")
	if !ok {
		return
	}
	var in service.ProductUpdate
	if !g.bind(c, &in) {
		return
	}
	p, err := g.services.Catalog.Update(c.Request.Context(), id, in, principal(c).UserID)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product updated successfully", "product": p})
}

type stockRequest struct {
	Stock *int `json:"stock"`
}

func (g *Gateway) updateStock(c *gin.Context) {
	id, ok := g.idParam(c, "id")
	if !ok {
		return
	}
	var req stockRequest
	if !g.bind(c, &req) {
		return
	}
	if req.Stock == nil {
		g.fail(c, apperr.Validation("stock is required"))
		return
	}
	p, err := g.services.Catalog.SetStock(c.Request.Context(), id, *req.Stock, principal(c).UserID)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Stock updated successfully", "product": p})
}

func (g *Gateway) deleteProduct(c *gin.Context) {
	id, ok := g.idParam(c, "id")
	if !ok {
		return
	}
	if err := g.services.Catalog.Delete(c.Request.Context(), id, principal(c).UserID); err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product deleted successfully"})
}
