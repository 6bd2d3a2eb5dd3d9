package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/example/smartcart/pkg/config"
	"github.com/example/smartcart/pkg/payment"
	"github.com/example/smartcart/pkg/repository"
	"github.com/example/smartcart/pkg/service"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// AuditReader serves the admin audit trail.
type AuditReader interface {
	GetAuditLogs(ctx context.Context, entityID string, limit int64) ([]*repository.AuditLog, error)
}

// Services are the backends the HTTP handlers call. Audit may be nil.
type Services struct {
	Auth     *service.AuthService
	Catalog  *service.CatalogService
	Cart     *service.CartService
	Orders   *service.OrderService
	Reports  *service.ReportService
	Store    *service.StoreService
	Payments *payment.Verifier
	Audit    AuditReader
}

// HealthCheck probes one dependency for /health.
type HealthCheck func(ctx context.Context) error

type Gateway struct {
	config   *config.Config
	logger   *zap.Logger
	router   *gin.Engine
	server   *http.Server
	services Services
	checks   map[string]HealthCheck
	limiter  *ipRateLimiter
}

func NewGateway(cfg *config.Config, logger *zap.Logger, services Services, checks map[string]HealthCheck) *Gateway {
	switch cfg.Server.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(cfg.Server.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	limiter := newIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(loggerMiddleware(logger))
	router.Use(limiter.middleware())

	return &Gateway{
		config:   cfg,
		logger:   logger,
		router:   router,
		services: services,
		checks:   checks,
		limiter:  limiter,
	}
}

func (g *Gateway) SetupRoutes() {
	g.router.GET("/health", g.health)

	api := g.router.Group("/api")
	authed := g.authRequired()
	admin := []gin.HandlerFunc{authed, requireAdmin(g)}

	auth := api.Group("/auth")
	{
		auth.POST("/register", g.register)
		auth.POST("/login", g.login)
		auth.POST("/verify", authed, g.verify)
		auth.POST("/logout", authed, g.logout)
		auth.GET("/profile", authed, g.profile)
	}

	products := api.Group("/products")
	{
		products.GET("", g.listProducts)
		products.GET("/categories", g.categories)
		products.GET("/rfid/:tag", g.productByTag)
		products.GET("/location/:location", g.productsByLocation)
		products.GET("/:id", g.getProduct)
		products.GET("/:id/location", g.locateProduct)

		products.POST("", append(admin, g.createProduct)...)
		products.POST("/bulk-add", append(admin, g.bulkCreateProducts)...)
		products.PUT("/:id", append(admin, g.updateProduct)...)
		products.PATCH("/:id/stock", append(admin, g.updateStock)...)
		products.DELETE("/:id", append(admin, g.deleteProduct)...)
	}

	cart := api.Group("/cart", authed)
	{
		cart.GET("/:userId", g.getCart)
		cart.GET("/:userId/summary", g.cartSummary)
		cart.POST("/add", g.addToCart)
		cart.PUT("/update", g.updateCartItem)
		cart.DELETE("/remove", g.removeCartItem)
		cart.DELETE("/:userId/clear", g.clearCart)
		cart.DELETE("/:userId/remove/:productId", g.removeCartProduct)
	}

	orders := api.Group("/orders", authed)
	{
		orders.POST("", g.createOrder)
		orders.POST("/create-from-cart", g.createOrderFromCart)
		orders.GET("/user/:userId", g.userOrders)
		orders.GET("/stats/summary", requireAdmin(g), g.orderStats)
		orders.GET("/:id", g.getOrder)
		orders.GET("", requireAdmin(g), g.listOrders)
		orders.PUT("/:id/status", requireAdmin(g), g.updateOrderStatus)
	}

	api.POST("/payments/verify-payment", authed, g.verifyPayment)

	adm := api.Group("/admin", admin...)
	{
		adm.GET("/analytics/dashboard", g.dashboard)
		adm.GET("/customers", g.customers)
		adm.GET("/orders", g.listOrders)
		adm.PUT("/orders/:id/status", g.updateOrderStatus)
		adm.GET("/users/:userId/orders", g.userOrders)
		adm.GET("/settings", g.getSettings)
		adm.POST("/settings", g.saveSettings)
		adm.GET("/store-layout", g.getLayout)
		adm.POST("/store-layout", g.saveLayout)
		adm.POST("/products/bulk-add", g.bulkCreateProducts)
		adm.GET("/audit-logs", g.auditLogs)
	}

	// Swagger
	g.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

// Handler exposes the router, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Start serves until Shutdown is called. It returns nil after a graceful
// shutdown.
func (g *Gateway) Start() error {
	g.server = &http.Server{
		Addr:              g.config.Server.Addr(),
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.logger.Info("Gateway starting", zap.String("address", g.server.Addr))
	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (g *Gateway) Shutdown(ctx context.Context) error {
	g.limiter.stop()
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

func (g *Gateway) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := gin.H{}
	for name, check := range g.checks {
		if err := check(ctx); err != nil {
			g.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			deps[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "service": g.config.Server.Name, "dependencies": deps})
}
