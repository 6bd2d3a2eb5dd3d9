package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/smartcart/pkg/auth"
	"github.com/example/smartcart/pkg/config"
	"github.com/example/smartcart/pkg/models"
	"github.com/example/smartcart/pkg/payment"
	"github.com/example/smartcart/pkg/repository"
	"github.com/example/smartcart/pkg/service"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const paymentSecret = "test-key-secret"

type testEnv struct {
	t       *testing.T
	db      *gorm.DB
	handler http.Handler
	auth    *service.AuthService
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Name: "smartcart-test", Mode: "test"},
		JWT: config.JWTConfig{
			Secret:   "test-secret",
			Issuer:   "smart-cart-api",
			Audience: "smart-cart-app",
			TTL:      time.Hour,
		},
		Payment:   config.PaymentConfig{KeySecret: paymentSecret},
		RateLimit: config.RateLimitConfig{MaxLoginAttempts: 5, LoginWindow: time.Minute},
	}
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repository.Migrate(db))

	log := zap.NewNop()
	authSvc := service.NewAuthService(db, auth.NewTokenManager(&cfg.JWT), nil, cfg.RateLimit, log)
	gw := NewGateway(cfg, log, Services{
		Auth:     authSvc,
		Catalog:  service.NewCatalogService(db, nil, nil, log),
		Cart:     service.NewCartService(db, log),
		Orders:   service.NewOrderService(db, nil, nil, nil, log),
		Reports:  service.NewReportService(db),
		Store:    service.NewStoreService(db, nil, log),
		Payments: payment.NewVerifier(cfg.Payment.KeySecret),
	}, map[string]HealthCheck{"mysql": func(ctx context.Context) error { return sqlDB.PingContext(ctx) }})
	gw.SetupRoutes()
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	return &testEnv{t: t, db: db, handler: gw.Handler(), auth: authSvc}
}

func (e *testEnv) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

// account creates a user with the given role and returns its id and token.
func (e *testEnv) account(username string, role models.Role) (int64, string) {
	e.t.Helper()
	u, err := e.auth.CreateAccount(context.Background(), service.RegisterRequest{
		Username: username,
		Email:    username + "@smartcart.com",
		Password: "secret123",
		Name:     "Test " + username,
	}, role)
	require.NoError(e.t, err)

	w := e.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": username, "password": "secret123"})
	require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		Token string `json:"token"`
	}
	require.NoError(e.t, json.Unmarshal(w.Body.Bytes(), &res))
	return u.ID, res.Token
}

func (e *testEnv) product(name, price string, stock int) *models.Product {
	e.t.Helper()
	p := &models.Product{Name: name, Price: decimal.RequireFromString(price), Category: "fruits", Stock: stock}
	require.NoError(e.t, e.db.Create(p).Error)
	return p
}

type errorEnvelope struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, testConfig())
	w := e.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"mysql":"ok"`)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestAuthFlow(t *testing.T) {
	e := newTestEnv(t, testConfig())

	w := e.do(http.MethodPost, "/api/auth/register", "", gin.H{
		"username": "demo", "email": "demo@smartcart.com", "password": "demo123", "name": "Demo User",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "password")

	w = e.do(http.MethodPost, "/api/auth/register", "", gin.H{
		"username": "demo", "email": "other@smartcart.com", "password": "demo123", "name": "Demo User",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "demo", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", decodeError(t, w).Error.Code)

	w = e.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "demo", "password": "demo123"})
	require.Equal(t, http.StatusOK, w.Code)
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))

	w = e.do(http.MethodGet, "/api/auth/profile", login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"demo"`)

	w = e.do(http.MethodPost, "/api/auth/verify", login.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(http.MethodGet, "/api/auth/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = e.do(http.MethodGet, "/api/auth/profile", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "TOKEN_INVALID", decodeError(t, w).Error.Code)
}

func TestProductRoutes(t *testing.T) {
	e := newTestEnv(t, testConfig())
	_, customer := e.account("shopper", models.RoleCustomer)
	_, admin := e.account("boss", models.RoleAdmin)

	body := gin.H{"name": "Red Apples", "price": "2.59", "category": "Fruits", "stock": 50, "rfid_tag": "RFID001"}
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/api/products", "", body).Code)
	w := e.do(http.MethodPost, "/api/products", customer, body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", decodeError(t, w).Error.Code)

	w = e.do(http.MethodPost, "/api/products", admin, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Product models.Product `json:"product"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := created.Product.ID

	w = e.do(http.MethodGet, "/api/products?category=fruits&in_stock=true", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page service.ProductPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Products, 1)
	assert.Equal(t, 1, page.Products[0].Aisle)

	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/products/rfid/RFID001", "", nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/products/categories", "", nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, fmt.Sprintf("/api/products/%d/location", id), "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/products/abc", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/products?min_price=cheap", "", nil).Code)

	w = e.do(http.MethodPatch, fmt.Sprintf("/api/products/%d/stock", id), admin, gin.H{"stock": 7})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"stock":7`)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPatch, fmt.Sprintf("/api/products/%d/stock", id), admin, gin.H{}).Code)

	w = e.do(http.MethodPost, "/api/products", admin, body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DUPLICATE_TAG", decodeError(t, w).Error.Code)

	assert.Equal(t, http.StatusOK, e.do(http.MethodDelete, fmt.Sprintf("/api/products/%d", id), admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, fmt.Sprintf("/api/products/%d", id), "", nil).Code)
}

func TestCartAndCheckout(t *testing.T) {
	e := newTestEnv(t, testConfig())
	aliceID, alice := e.account("alice", models.RoleCustomer)
	_, bob := e.account("bob", models.RoleCustomer)
	apples := e.product("Red Apples", "2.59", 5)

	w := e.do(http.MethodPost, "/api/cart/add", alice, gin.H{"product_id": apples.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.do(http.MethodPost, "/api/cart/add", alice, gin.H{"product_id": apples.ID, "quantity": 2})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(http.MethodGet, fmt.Sprintf("/api/cart/%d", aliceID), alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cart service.Cart
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cart))
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 3, cart.Items[0].Quantity)
	assert.Equal(t, "7.77", cart.Total.StringFixed(2))

	// Bob can neither read nor edit Alice's cart.
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, fmt.Sprintf("/api/cart/%d", aliceID), bob, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, "/api/cart/add", bob, gin.H{"user_id": aliceID, "product_id": apples.ID}).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPut, "/api/cart/update", bob, gin.H{"cart_item_id": cart.Items[0].LineID, "quantity": 1}).Code)

	w = e.do(http.MethodPost, "/api/orders/create-from-cart", alice, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var placed struct {
		Order service.PlacedOrder `json:"order"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &placed))
	assert.Equal(t, "7.77", placed.Order.Total.StringFixed(2))
	assert.Equal(t, "cash", placed.Order.PaymentMethod)

	var p models.Product
	require.NoError(t, e.db.First(&p, apples.ID).Error)
	assert.Equal(t, 2, p.Stock)

	w = e.do(http.MethodGet, fmt.Sprintf("/api/cart/%d/summary", aliceID), alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"item_count":0`)

	// Bob wants three of the two left.
	w = e.do(http.MethodPost, "/api/orders", bob, gin.H{
		"items": []gin.H{{"product_id": apples.ID, "quantity": 3, "price": 2.59}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeError(t, w)
	assert.Equal(t, "INSUFFICIENT_STOCK", env.Error.Code)
	assert.False(t, env.Error.Retryable)

	w = e.do(http.MethodPost, "/api/orders", bob, gin.H{
		"items": []gin.H{{"id": apples.ID, "quantity": 1, "price": 1.00}},
	})
	assert.Equal(t, "PRICE_MISMATCH", decodeError(t, w).Error.Code)

	orderPath := fmt.Sprintf("/api/orders/%d", placed.Order.OrderID)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, orderPath, alice, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, orderPath, bob, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, fmt.Sprintf("/api/orders/user/%d", aliceID), alice, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, fmt.Sprintf("/api/orders/user/%d", aliceID), bob, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/api/orders", bob, nil).Code)
}

func TestAdminRoutes(t *testing.T) {
	e := newTestEnv(t, testConfig())
	aliceID, alice := e.account("alice", models.RoleCustomer)
	_, admin := e.account("boss", models.RoleAdmin)
	apples := e.product("Red Apples", "2.59", 10)

	w := e.do(http.MethodPost, "/api/orders", alice, gin.H{
		"items": []gin.H{{"product_id": apples.ID, "quantity": 2, "price": "2.59"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var placed struct {
		Order service.PlacedOrder `json:"order"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &placed))

	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/api/admin/analytics/dashboard", alice, nil).Code)

	w = e.do(http.MethodPut, fmt.Sprintf("/api/admin/orders/%d/status", placed.Order.OrderID), admin, gin.H{"status": "delivered"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"previous_status":"pending"`)
	w = e.do(http.MethodPut, fmt.Sprintf("/api/orders/%d/status", placed.Order.OrderID), admin, gin.H{"status": "lost"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodGet, "/api/admin/analytics/dashboard", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var dash struct {
		Stats   service.Dashboard        `json:"stats"`
		Popular []service.PopularProduct `json:"popular_products"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dash))
	assert.Equal(t, "5.18", dash.Stats.TotalRevenue.StringFixed(2))
	require.Len(t, dash.Popular, 1)

	w = e.do(http.MethodGet, "/api/admin/orders?status=delivered&from=2000-01-01", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page service.OrderPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Orders, 1)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/admin/orders?from=yesterday", admin, nil).Code)

	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, fmt.Sprintf("/api/admin/users/%d/orders", aliceID), admin, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/admin/customers", admin, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/orders/stats/summary", admin, nil).Code)

	w = e.do(http.MethodPost, "/api/admin/settings", admin, gin.H{"store_name": "Smart Cart", "currency": "usd", "tax_rate": 8.25})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, e.do(http.MethodGet, "/api/admin/settings", admin, nil).Body.String(), `"currency":"USD"`)

	w = e.do(http.MethodPost, "/api/admin/store-layout", admin, gin.H{"aisles": []gin.H{{"number": 1, "name": "Fresh Fruit", "category": "fruits"}}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodPost, "/api/admin/products/bulk-add", admin, gin.H{"products": []gin.H{
		{"name": "Bananas", "price": 1.29, "category": "fruits", "stock": 60},
		{"name": "Whole Milk", "price": 3.49, "category": "dairy", "stock": 25},
	}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"count":2`)

	w = e.do(http.MethodGet, "/api/admin/audit-logs?entity=order:1", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"logs":[]}`, w.Body.String())
}

func TestVerifyPayment(t *testing.T) {
	e := newTestEnv(t, testConfig())
	_, token := e.account("alice", models.RoleCustomer)
	sig := payment.NewVerifier(paymentSecret).Sign("order_9", "pay_1")

	w := e.do(http.MethodPost, "/api/payments/verify-payment", token, gin.H{"order_id": "order_9", "payment_id": "pay_1", "signature": sig})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodPost, "/api/payments/verify-payment", token, gin.H{"order_id": "order_9", "payment_id": "pay_2", "signature": sig})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid payment signature", decodeError(t, w).Error.Message)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.RPS = 1
	cfg.RateLimit.Burst = 2
	e := newTestEnv(t, cfg)

	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/health", "", nil).Code)
	w := e.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	env := decodeError(t, w)
	assert.Equal(t, "TOO_MANY_REQUESTS", env.Error.Code)
	assert.True(t, env.Error.Retryable)
}
