package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (g *Gateway) getCart(c *gin.Context) {
	userID, ok := g.idParam(c, "userId")
	if !ok || !g.owner(c, userID) {
		return
	}
	cart, err := g.services.Cart.GetCart(c.Request.Context(), userID)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (g *Gateway) cartSummary(c *gin.Context) {
	userID, ok := g.idParam(c, "userId")
	if !ok || !g.owner(c, userID) {
		return
	}
	sum, err := g.services.Cart.Summary(c.Request.Context(), userID)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// addToCartRequest omits user_id for the caller's own cart. Quantity
// defaults to one.
type addToCartRequest struct {
	UserID    int64 `json:"user_id"`
	ProductID int64 `json:"product_id"`
	Quantity  *int  `json:"quantity"`
}

func (g *Gateway) addToCart(c *gin.Context) {
	var req addToCartRequest
	if !g.bind(c, &req) {
		return
	}
	if req.UserID == 0 {
		req.UserID = principal(c).UserID
	}
	if !g.owner(c, req.UserID) {
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	line, err := g.services.Cart.AddItem(c.Request.Context(), req.UserID, req.ProductID, qty)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Item added to cart", "item": line})
}

type cartLineRequest struct {
	LineID   int64 `json:"cart_item_id"`
	Quantity int   `json:"quantity"`
}

// ownLine loads the line and checks that the caller owns it.
func (g *Gateway) ownLine(c *gin.Context, lineID int64) bool {
	line, err := g.services.Cart.Line(c.Request.Context(), lineID)
	if err != nil {
		g.fail(c, err)
		return false
	}
	return g.owner(c, line.UserID)
}

func (g *Gateway) updateCartItem(c *gin.Context) {
	var req cartLineRequest
	if !g.bind(c, &req) || !g.ownLine(c, req.LineID) {
		return
	}
	line, err := g.services.Cart.UpdateQuantity(c.Request.Context(), req.LineID, req.Quantity)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cart updated", "item": line})
}

func (g *Gateway) removeCartItem(c *gin.Context) {
	var req cartLineRequest
	if !g.bind(c, &req) || !g.ownLine(c, req.LineID) {
		return
	}
	if err := g.services.Cart.RemoveItem(c.Request.Context(), req.LineID); err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Item removed from cart"})
}

func (g *Gateway) clearCart(c *gin.Context) {
	userID, ok := g.idParam(c, "userId")
	if !ok || !g.owner(c, userID) {
		return
	}
	n, err := g.services.Cart.Clear(c.Request.Context(), userID)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cart cleared", "removed": n})
}

func (g *Gateway) removeCartProduct(c *gin.Context) {
	userID, ok := g.idParam(c, "userId")
	if !ok || !g.owner(c, userID) {
		return
	}
	productID, ok := g.idParam(c, "productId")
	if !ok {
		return
	}
	if err := g.services.Cart.RemoveProduct(c.Request.Context(), userID, productID); err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Item removed from cart"})
}
