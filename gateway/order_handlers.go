package gateway

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/example/smartcart/pkg/apperr"
	"github.com/example/smartcart/pkg/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type orderItemRequest struct {
	ProductID int64           `json:"product_id"`
	ID        int64           `json:"id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// createOrderRequest accepts product_id or id on each item; user_id defaults
// to the caller.
type createOrderRequest struct {
	UserID        int64              `json:"user_id"`
	Items         []orderItemRequest `json:"items"`
	PaymentMethod string             `json:"payment_method"`
}

// createOrder godoc
// @Summary Place an order from explicit items
// @Tags orders
// @Accept json
// @Produce json
// @Security BearerAuth
// @Router /api/orders [post]
func (g *Gateway) createOrder(c *gin.Context) {
	var req createOrderRequest
	if !g.bind(c, &req) {
		return
	}
	if req.UserID == 0 {
		req.UserID = principal(c).UserID
	}
	if !g.owner(c, req.UserID) {
		return
	}
	lines := make([]service.OrderLine, len(req.Items))
	for i, it := range req.Items {
		id := it.ProductID
		if id == 0 {
			id = it.ID
		}
		lines[i] = service.OrderLine{ProductID: id, Quantity: it.Quantity, ExpectedPrice: it.Price}
	}
	placed, err := g.services.Orders.PlaceItems(c.Request.Context(), req.UserID, lines, req.PaymentMethod)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Order created successfully", "order": placed})
}

type cartOrderRequest struct {
	UserID        int64  `json:"user_id"`
	PaymentMethod string `json:"payment_method"`
}

// createOrderFromCart godoc
// @Summary Place an order from the persisted cart
// @Tags orders
// @Accept json
// @Produce json
// @Security BearerAuth
// @Router /api/orders/create-from-cart [post]
func (g *Gateway) createOrderFromCart(c *gin.Context) {
	var req cartOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		g.fail(c, apperr.Validation("invalid request body: %v", err))
		return
	}
	if req.UserID == 0 {
		req.UserID = principal(c).UserID
	}
	if !g.owner(c, req.UserID) {
		return
	}
	placed, err := g.services.Orders.PlaceFromCart(c.Request.Context(), req.UserID, req.PaymentMethod)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Order created successfully", "order": placed})
}

func (g *Gateway) userOrders(c *gin.Context) {
	userID, ok := g.idParam(c, "userId")
	if !ok || !g.owner(c, userID) {
		return
	}
	f, ok := g.orderFilter(c)
	if !ok {
		return
	}
	page, err := g.services.Orders.ListUserOrders(c.Request.Context(), userID, f)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (g *Gateway) getOrder(c *gin.Context) {
	id, ok := g.idParam(c, "id")
	if !ok {
		return
	}
	order, err := g.services.Orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		g.fail(c, err)
		return
	}
	// Someone else's order is reported as missing.
	if !principal(c).CanAccess(order.UserID) {
		g.fail(c, apperr.NotFound("order %d not found", id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (g *Gateway) listOrders(c *gin.Context) {
	f, ok := g.orderFilter(c)
	if !ok {
		return
	}
	f.UserID = int64(queryInt(c, "user_id"))
	page, err := g.services.Orders.ListOrders(c.Request.Context(), f)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (g *Gateway) orderFilter(c *gin.Context) (service.OrderFilter, bool) {
	f := service.OrderFilter{
		Status: c.Query("status"),
		Page:   queryInt(c, "page"),
		Limit:  queryInt(c, "limit"),
	}
	var err error
	if f.From, err = queryTime(c, "from", false); err != nil {
		g.fail(c, err)
		return f, false
	}
	if f.To, err = queryTime(c, "to", true); err != nil {
		g.fail(c, err)
		return f, false
	}
	return f, true
}

// queryTime accepts RFC 3339 or a plain date. A plain date used as an upper
// bound covers the whole day.
func queryTime(c *gin.Context, key string, endOfDay bool) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", v, time.Local)
	if err != nil {
		return nil, apperr.Validation("%s must be a date (YYYY-MM-DD) or RFC 3339 timestamp", key)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func (g *Gateway) orderStats(c *gin.Context) {
	stats, err := g.services.Orders.Stats(c.Request.Context())
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (g *Gateway) updateOrderStatus(c *gin.Context) {
	id, ok := g.idParam(c, "id")
	if !ok {
		return
	}
	var req statusRequest
	if !g.bind(c, &req) {
		return
	}
	change, err := g.services.Orders.UpdateStatus(c.Request.Context(), id, req.Status, principal(c).UserID)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order status updated", "order": change})
}

type verifyPaymentRequest struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

func (g *Gateway) verifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if !g.bind(c, &req) {
		return
	}
	if err := g.services.Payments.Verify(req.OrderID, req.PaymentID, req.Signature); err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true, "payment_id": req.PaymentID})
}
