package gateway

import (
	"net/http"

	"github.com/example/smartcart/pkg/service"
	"github.com/gin-gonic/gin"
)

// register godoc
// @Summary Register a customer account
// @Tags auth
// @Accept json
// @Produce json
// @Param body body service.RegisterRequest true "account"
// @Router /api/auth/register [post]
func (g *Gateway) register(c *gin.Context) {
	var req service.RegisterRequest
	if !g.bind(c, &req) {
		return
	}
	user, err := g.services.Auth.Register(c.Request.Context(), req)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully", "user": user})
}

// login godoc
// @Summary Exchange credentials for a bearer token
// @Tags auth
// @Accept json
// @Produce json
// @Param body body service.LoginRequest true "credentials"
// @Router /api/auth/login [post]
func (g *Gateway) login(c *gin.Context) {
	var req service.LoginRequest
	if !g.bind(c, &req) {
		return
	}
	res, err := g.services.Auth.Login(c.Request.Context(), req, c.ClientIP())
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "Login successful",
		"token":      res.Token,
		"expires_at": res.ExpiresAt,
		"user":       res.User,
	})
}

func (g *Gateway) verify(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"valid": true, "user": principal(c)})
}

// logout is stateless; the client drops its token.
func (g *Gateway) logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func (g *Gateway) profile(c *gin.Context) {
	user, err := g.services.Auth.Profile(c.Request.Context(), principal(c).UserID)
	if err != nil {
		g.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}
